package wizard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lojf/academy/internal/identity"
	"github.com/lojf/academy/internal/logger"
)

// Registry keeps one live Session per registrant and program.
type Registry struct {
	backend Backend
	opts    Options
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	touched  map[string]time.Time
}

func NewRegistry(b Backend, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOpLogger()
	}
	return &Registry{
		backend:  b,
		opts:     opts,
		now:      time.Now,
		sessions: map[string]*Session{},
		touched:  map[string]time.Time{},
	}
}

func registryKey(p identity.Principal, programID uint) string {
	return fmt.Sprintf("%s/%d", p.Key(), programID)
}

// Open returns the registrant's session for programID, starting one if needed.
// A completed session is replaced by a fresh run.
func (r *Registry) Open(p identity.Principal, programID uint) *Session {
	k := registryKey(p, programID)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touched[k] = r.now()
	if s, ok := r.sessions[k]; ok {
		if _, done := s.State().(Completed); !done {
			return s
		}
	}
	s := NewSession(r.backend, p, programID, r.opts)
	r.sessions[k] = s
	return s
}

// Lookup returns the live session without creating one.
func (r *Registry) Lookup(p identity.Principal, programID uint) (*Session, bool) {
	k := registryKey(p, programID)
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[k]
	if ok {
		r.touched[k] = r.now()
	}
	return s, ok
}

// Close flushes unsaved edits and forgets the session.
func (r *Registry) Close(ctx context.Context, p identity.Principal, programID uint) bool {
	k := registryKey(p, programID)
	r.mu.Lock()
	s, ok := r.sessions[k]
	delete(r.sessions, k)
	delete(r.touched, k)
	r.mu.Unlock()
	if ok {
		s.Flush(ctx)
	}
	return ok
}

// Sweep flushes and forgets sessions untouched for longer than idle. It returns how many went.
func (r *Registry) Sweep(ctx context.Context, idle time.Duration) int {
	cutoff := r.now().Add(-idle)
	var stale []*Session
	r.mu.Lock()
	for k, at := range r.touched {
		if at.Before(cutoff) {
			stale = append(stale, r.sessions[k])
			delete(r.sessions, k)
			delete(r.touched, k)
		}
	}
	r.mu.Unlock()
	for _, s := range stale {
		s.Flush(ctx)
	}
	return len(stale)
}

// StartSweeper runs Sweep every interval until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, every, idle time.Duration) {
	if every <= 0 || idle <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.Sweep(ctx, idle); n > 0 {
					r.opts.Logger.Info("idle wizard sessions closed", map[string]interface{}{"count": n})
				}
			}
		}
	}()
}

// FlushAll flushes every live session, as on shutdown.
func (r *Registry) FlushAll(ctx context.Context) {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()
	for _, s := range all {
		s.Flush(ctx)
	}
}

// View is a serializable picture of a session for clients.
type View struct {
	State      string                 `json:"state"`
	FamilySize int                    `json:"family_size,omitempty"`
	Remaining  int                    `json:"remaining"`
	PageIndex  int                    `json:"page_index"`
	Page       interface{}            `json:"page,omitempty"`
	Head       map[string]interface{} `json:"head,omitempty"`
	Members    int                    `json:"members_saved"`
	Dirty      bool                   `json:"dirty"`
	Result     *Result                `json:"result,omitempty"`
}

// StateName is the wire name of a state.
func StateName(st State) string {
	switch st.(type) {
	case SelectingPlan:
		return "selecting_plan"
	case FillingHead:
		return "filling_head"
	case FillingMember:
		return "filling_member"
	case Completed:
		return "completed"
	}
	return "unknown"
}

// View snapshots the session.
func (s *Session) View() View {
	st := s.State()
	v := View{
		State:     StateName(st),
		Remaining: s.Remaining(),
		PageIndex: pageIndex(st),
		Dirty:     s.Dirty(),
	}
	if h, ok := st.(FillingHead); ok {
		v.FamilySize = h.FamilySize
	}
	if pg, ok := s.Page(); ok {
		v.Page = pg
	}
	snap := s.Snapshot()
	v.Head = snap.Head
	v.Members = len(snap.Members)
	if res, ok := s.Result(); ok {
		v.Result = &res
	}
	return v
}
