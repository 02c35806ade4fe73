// Package wizard drives a registration run: plan selection, the head
// participant's pages, each family member's pages, then completion.
package wizard

import (
	"errors"
	"fmt"

	"github.com/lojf/academy/internal/apperr"
)

// State is one of SelectingPlan, FillingHead, FillingMember or Completed.
type State interface{ isState() }

type SelectingPlan struct{}

// FillingHead collects the head participant. FamilySize is 1 for individual plans.
type FillingHead struct {
	FamilySize int
	Page       int
}

// FillingMember collects a family member; Remaining counts this one and those after it.
type FillingMember struct {
	Remaining int
	Page      int
}

type Completed struct{}

func (SelectingPlan) isState() {}
func (FillingHead) isState()   {}
func (FillingMember) isState() {}
func (Completed) isState()     {}

// Event drives Next.
type Event interface{ isEvent() }

// PlanChosen reports the outcome of resolving the chosen plan and its schema.
type PlanChosen struct {
	FamilySize  int
	PlanFound   bool
	SchemaFound bool
}

// PageSubmitted reports a validated page; PageCount is the participant form's length.
type PageSubmitted struct {
	PageCount int
}

// PausedForSave persists without moving.
type PausedForSave struct{}

func (PlanChosen) isEvent()    {}
func (PageSubmitted) isEvent() {}
func (PausedForSave) isEvent() {}

// ErrMissingArtifact is matched by every MissingArtifactError.
var ErrMissingArtifact = errors.New("missing artifact")

// MissingArtifactError names the artifact ("plan" or "schema") that blocked plan selection.
type MissingArtifactError struct {
	Artifact string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("registration not yet configured: no %s", e.Artifact)
}

func (e *MissingArtifactError) Is(target error) bool {
	return target == ErrMissingArtifact || target == apperr.ErrPlanNotFound
}

// ErrIllegalTransition is returned for events a state does not accept.
var ErrIllegalTransition = fmt.Errorf("illegal wizard transition: %w", apperr.ErrConflict)

// Next is the pure transition function.
func Next(s State, e Event) (State, error) {
	if _, ok := e.(PausedForSave); ok {
		return s, nil
	}
	switch st := s.(type) {
	case SelectingPlan:
		ev, ok := e.(PlanChosen)
		if !ok {
			return s, ErrIllegalTransition
		}
		if !ev.PlanFound {
			return s, &MissingArtifactError{Artifact: "plan"}
		}
		if !ev.SchemaFound {
			return s, &MissingArtifactError{Artifact: "schema"}
		}
		size := ev.FamilySize
		if size < 1 {
			size = 1
		}
		return FillingHead{FamilySize: size}, nil

	case FillingHead:
		ev, ok := e.(PageSubmitted)
		if !ok {
			return s, ErrIllegalTransition
		}
		if st.Page+1 < ev.PageCount {
			return FillingHead{FamilySize: st.FamilySize, Page: st.Page + 1}, nil
		}
		if st.FamilySize > 1 {
			return FillingMember{Remaining: st.FamilySize - 1}, nil
		}
		return Completed{}, nil

	case FillingMember:
		ev, ok := e.(PageSubmitted)
		if !ok {
			return s, ErrIllegalTransition
		}
		if st.Page+1 < ev.PageCount {
			return FillingMember{Remaining: st.Remaining, Page: st.Page + 1}, nil
		}
		if st.Remaining > 1 {
			return FillingMember{Remaining: st.Remaining - 1}, nil
		}
		return Completed{}, nil

	case Completed:
		return s, ErrIllegalTransition
	}
	return s, fmt.Errorf("unknown wizard state %T", s)
}

// ResumeState derives where a saved run picks up. Saved members count as done:
// remaining = familySize − 1 − len(members).
func ResumeState(familySize, members int) State {
	if familySize < 1 {
		familySize = 1
	}
	if familySize == 1 || members == 0 {
		return FillingHead{FamilySize: familySize}
	}
	remaining := familySize - 1 - members
	if remaining < 1 {
		remaining = 1
	}
	return FillingMember{Remaining: remaining}
}
