package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lojf/academy/internal/apperr"
	"github.com/lojf/academy/internal/drafts"
	"github.com/lojf/academy/internal/formschema"
	"github.com/lojf/academy/internal/identity"
	"github.com/lojf/academy/internal/logger"
	"github.com/lojf/academy/internal/metrics"
	"github.com/lojf/academy/internal/models"
)

// DefaultAutosaveDelay is the debounce after the last edit.
const DefaultAutosaveDelay = 3 * time.Second

// Plan is the resolved plan the run is priced against.
type Plan struct {
	ID       uint
	Type     string
	Amount   int64
	Currency string
}

// CompleteRequest carries a finished run to the backend.
type CompleteRequest struct {
	ProgramID  uint
	Kind       string
	PlanType   string
	PlanID     *uint
	FamilySize int
	Data       drafts.Data
}

// Result tells the caller where to send the registrant next.
type Result struct {
	RegistrationID uint   `json:"registration_id"`
	IntentID       uint   `json:"intent_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	RedirectURL    string `json:"redirect_url"`
}

// Backend is everything a Session needs from the server side.
type Backend interface {
	Plan(ctx context.Context, programID uint, planType string, planID uint) (Plan, error)
	Schema(ctx context.Context, programID uint, planType string) (*formschema.Schema, error)
	LoadDraft(ctx context.Context, p identity.Principal, programID uint, kind string) (*drafts.Draft, error)
	SaveDraft(ctx context.Context, p identity.Principal, in drafts.UpsertInput) (uint, error)
	Complete(ctx context.Context, p identity.Principal, req CompleteRequest) (Result, error)
}

// Timer is the handle of a scheduled autosave.
type Timer interface{ Stop() bool }

// Options tune a Session. Zero values pick defaults.
type Options struct {
	AutosaveDelay time.Duration
	Logger        logger.Logger
	// AfterFunc schedules autosaves; tests swap it for a manual clock.
	AfterFunc func(d time.Duration, f func()) Timer
}

// Session holds one registrant's run: state, page buffer, debounce timer and
// dirty tracking. It is safe for concurrent use by the caller and its timer.
type Session struct {
	backend   Backend
	principal identity.Principal
	programID uint
	delay     time.Duration
	afterFunc func(time.Duration, func()) Timer
	log       logger.Logger

	saveMu sync.Mutex // serializes backend saves

	mu         sync.Mutex
	state      State
	planType   string
	plan       Plan
	familySize int
	schema     *formschema.Schema
	pages      []formschema.Page
	head       map[string]interface{}
	members    []map[string]interface{}
	member     int // index in members of the member being filled, -1 if not yet stored
	buffer     map[string]interface{}
	dirty      bool
	gen        uint64 // bumped on every edit
	savedGen   uint64
	timer      Timer
	result     *Result
}

func NewSession(b Backend, p identity.Principal, programID uint, opts Options) *Session {
	if opts.AutosaveDelay <= 0 {
		opts.AutosaveDelay = DefaultAutosaveDelay
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOpLogger()
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	return &Session{
		backend:   b,
		principal: p,
		programID: programID,
		delay:     opts.AutosaveDelay,
		afterFunc: opts.AfterFunc,
		log:       opts.Logger.WithFields(map[string]interface{}{"program_id": programID, "account": p.AccountID}),
		state:     SelectingPlan{},
		head:      map[string]interface{}{},
		buffer:    map[string]interface{}{},
		member:    -1,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Page returns the page the current participant is on.
func (s *Session) Page() (formschema.Page, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := pageIndex(s.state)
	if idx < 0 || idx >= len(s.pages) {
		return formschema.Page{}, false
	}
	return s.pages[idx], true
}

// Snapshot returns what would be persisted now.
func (s *Session) Snapshot() drafts.Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func pageIndex(st State) int {
	switch v := st.(type) {
	case FillingHead:
		return v.Page
	case FillingMember:
		return v.Page
	}
	return -1
}

func (s *Session) kind() string {
	if s.planType == models.PlanFamily {
		return models.RegFamilyHead
	}
	return models.RegIndividual
}

// resolve loads plan and schema; absence becomes a PlanChosen event with the missing flag.
func (s *Session) resolve(ctx context.Context, planType string, planID uint, familySize int) (PlanChosen, Plan, *formschema.Schema, error) {
	ev := PlanChosen{FamilySize: familySize, PlanFound: true, SchemaFound: true}
	plan, err := s.backend.Plan(ctx, s.programID, planType, planID)
	switch {
	case errors.Is(err, apperr.ErrPlanNotFound) || errors.Is(err, apperr.ErrNotFound):
		ev.PlanFound = false
	case err != nil:
		return ev, Plan{}, nil, err
	}
	sch, err := s.backend.Schema(ctx, s.programID, planType)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		ev.SchemaFound = false
	case err != nil:
		return ev, Plan{}, nil, err
	}
	return ev, plan, sch, nil
}

// ChoosePlan leaves SelectingPlan. A missing plan or schema returns a MissingArtifactError.
func (s *Session) ChoosePlan(ctx context.Context, planType string, familySize int, planID uint) error {
	switch planType {
	case models.PlanIndividual:
		familySize = 1
	case models.PlanFamily:
		if familySize < 2 {
			return fmt.Errorf("%w: a family plan needs at least two participants", apperr.ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown plan type %q", apperr.ErrInvalid, planType)
	}

	ev, plan, sch, err := s.resolve(ctx, planType, planID, familySize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := Next(s.state, ev)
	if err != nil {
		return err
	}
	s.state = next
	s.planType = planType
	s.plan = plan
	s.familySize = familySize
	s.schema = sch
	s.pages = sch.Pages()
	s.markDirtyLocked()
	return nil
}

// Resume rebuilds the run from the saved draft for kind.
func (s *Session) Resume(ctx context.Context, kind string) error {
	d, err := s.backend.LoadDraft(ctx, s.principal, s.programID, kind)
	if err != nil {
		return err
	}
	planType := models.PlanIndividual
	if kind == models.RegFamilyHead {
		planType = models.PlanFamily
	}
	familySize := 1
	if d.FamilySize != nil && *d.FamilySize > 0 {
		familySize = *d.FamilySize
	}
	var planID uint
	if d.PlanID != nil {
		planID = *d.PlanID
	}

	ev, plan, sch, err := s.resolve(ctx, planType, planID, familySize)
	if err != nil {
		return err
	}
	if _, err := Next(SelectingPlan{}, ev); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.planType = planType
	s.plan = plan
	s.familySize = familySize
	s.schema = sch
	s.pages = sch.Pages()
	s.head = copyMap(d.Data.Head)
	s.members = make([]map[string]interface{}, 0, len(d.Data.Members))
	for _, m := range d.Data.Members {
		s.members = append(s.members, copyMap(m))
	}
	s.state = ResumeState(familySize, len(s.members))
	s.member = -1
	s.buffer = map[string]interface{}{}
	switch st := s.state.(type) {
	case FillingHead:
		s.buffer = copyMap(s.head)
	case FillingMember:
		if familySize-1-len(s.members) < st.Remaining {
			// every member is saved; reopen the last one so the run can finish
			s.member = len(s.members) - 1
			s.buffer = copyMap(s.members[s.member])
		}
	}
	s.dirty = false
	s.savedGen = s.gen
	return nil
}

// Edit records one answer in the page buffer and restarts the autosave debounce.
// A completed run takes no more edits.
func (s *Session) Edit(field string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.state.(Completed); done {
		return ErrIllegalTransition
	}
	s.buffer[field] = value
	s.markDirtyLocked()
	return nil
}

func (s *Session) markDirtyLocked() {
	s.dirty = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
	}
	gen := s.gen
	s.timer = s.afterFunc(s.delay, func() { s.autosave(gen) })
}

func (s *Session) autosave(gen uint64) {
	err := s.save(context.Background(), gen, "autosave")
	if err == nil {
		return
	}
	s.log.WithError(err).Warn("autosave failed, will retry", map[string]interface{}{"gen": gen})
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen && s.dirty {
		s.timer = s.afterFunc(s.delay, func() { s.autosave(gen) })
	}
}

// save persists the buffer as of generation gen. Saves older than the last
// successful one are dropped, as are autosaves overtaken by a newer edit.
func (s *Session) save(ctx context.Context, gen uint64, trigger string) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if gen <= s.savedGen || (trigger == "autosave" && gen != s.gen) {
		s.mu.Unlock()
		return nil
	}
	switch s.state.(type) {
	case SelectingPlan, Completed:
		s.mu.Unlock()
		return nil
	}
	in := s.upsertInputLocked()
	gen = s.gen
	s.mu.Unlock()

	if _, err := s.backend.SaveDraft(ctx, s.principal, in); err != nil {
		return err
	}
	metrics.DraftsSaved.WithLabelValues(trigger).Inc()

	s.mu.Lock()
	if gen > s.savedGen {
		s.savedGen = gen
	}
	if s.gen == gen {
		s.dirty = false
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) upsertInputLocked() drafts.UpsertInput {
	size := s.familySize
	in := drafts.UpsertInput{
		ProgramID:  s.programID,
		Kind:       s.kind(),
		Data:       s.snapshotLocked(),
		FamilySize: &size,
	}
	if s.plan.ID != 0 {
		id := s.plan.ID
		in.PlanID = &id
	}
	return in
}

// snapshotLocked merges the buffer into head or members without mutating session state.
func (s *Session) snapshotLocked() drafts.Data {
	head := copyMap(s.head)
	members := make([]map[string]interface{}, 0, len(s.members)+1)
	for _, m := range s.members {
		members = append(members, copyMap(m))
	}
	switch s.state.(type) {
	case FillingHead:
		for k, v := range s.buffer {
			head[k] = v
		}
	case FillingMember:
		if len(s.buffer) > 0 {
			if s.member >= 0 && s.member < len(members) {
				members[s.member] = copyMap(s.buffer)
			} else {
				members = append(members, copyMap(s.buffer))
			}
		}
	}
	return drafts.Data{Head: head, Members: members}
}

// commitLocked folds the buffer into head or members, appending a new member once.
func (s *Session) commitLocked() {
	switch s.state.(type) {
	case FillingHead:
		for k, v := range s.buffer {
			s.head[k] = v
		}
	case FillingMember:
		if len(s.buffer) == 0 {
			return
		}
		if s.member >= 0 && s.member < len(s.members) {
			s.members[s.member] = copyMap(s.buffer)
		} else {
			s.members = append(s.members, copyMap(s.buffer))
			s.member = len(s.members) - 1
		}
	}
}

// SaveAndPause persists immediately, cancelling any pending autosave. The state does not move.
func (s *Session) SaveAndPause(ctx context.Context) error {
	s.mu.Lock()
	if _, err := Next(s.state, PausedForSave{}); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.commitLocked()
	if !s.dirty && s.gen == s.savedGen {
		// force a write of the committed view even if nothing changed since the last save
		s.gen++
	}
	gen := s.gen
	s.mu.Unlock()
	return s.save(ctx, gen, "manual")
}

// Flush makes one best-effort save of unsaved edits, as on page unload. Failures are logged only.
func (s *Session) Flush(ctx context.Context) {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	dirty, gen := s.dirty, s.gen
	s.mu.Unlock()
	if !dirty {
		return
	}
	if err := s.save(ctx, gen, "flush"); err != nil {
		s.log.WithError(err).Warn("flush lost unsaved edits", nil)
	}
}

// Submit validates the current page and advances. Finishing the last participant
// completes the run; if completion fails the session stays on the last page.
func (s *Session) Submit(ctx context.Context) (State, error) {
	s.mu.Lock()
	idx := pageIndex(s.state)
	if idx < 0 || idx >= len(s.pages) {
		st := s.state
		s.mu.Unlock()
		return st, ErrIllegalTransition
	}
	clean, err := s.pages[idx].Validate(s.buffer)
	if err != nil {
		st := s.state
		s.mu.Unlock()
		return st, err
	}
	for k, v := range clean {
		s.buffer[k] = v
	}
	next, err := Next(s.state, PageSubmitted{PageCount: len(s.pages)})
	if err != nil {
		st := s.state
		s.mu.Unlock()
		return st, err
	}

	samePerson := pageIndex(next) > idx
	if samePerson {
		s.state = next
		s.markDirtyLocked()
		s.mu.Unlock()
		return next, nil
	}

	s.commitLocked()
	if _, done := next.(Completed); done {
		req := CompleteRequest{
			ProgramID:  s.programID,
			Kind:       s.kind(),
			PlanType:   s.planType,
			FamilySize: s.familySize,
			Data:       s.snapshotLocked(),
		}
		if s.plan.ID != 0 {
			id := s.plan.ID
			req.PlanID = &id
		}
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		prev := s.state
		s.mu.Unlock()

		// saveMu stays held until the state is Completed, so a queued autosave sees it
		s.saveMu.Lock()
		defer s.saveMu.Unlock()
		res, err := s.backend.Complete(ctx, s.principal, req)

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			return prev, err
		}
		s.state = next
		s.result = &res
		s.dirty = false
		s.savedGen = s.gen
		return next, nil
	}

	s.state = next
	s.member = -1
	s.buffer = map[string]interface{}{}
	gen := s.gen + 1
	s.gen = gen
	s.dirty = true
	s.mu.Unlock()

	// a finished participant is persisted right away
	if err := s.save(ctx, gen, "manual"); err != nil {
		s.log.WithError(err).Warn("saving finished participant failed", nil)
		s.mu.Lock()
		if s.gen == gen {
			s.timer = s.afterFunc(s.delay, func() { s.autosave(gen) })
		}
		s.mu.Unlock()
	}
	return next, nil
}

// Result is set once the run completed.
func (s *Session) Result() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return Result{}, false
	}
	return *s.result, true
}

// Remaining returns how many family members are still to be entered.
func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch st := s.state.(type) {
	case FillingHead:
		return st.FamilySize - 1
	case FillingMember:
		return st.Remaining
	}
	return 0
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
