package wizard

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lojf/academy/internal/apperr"
)

func TestNext_FamilyRun(t *testing.T) {
	var st State = SelectingPlan{}
	var err error

	st, err = Next(st, PlanChosen{FamilySize: 3, PlanFound: true, SchemaFound: true})
	require.NoError(t, err)
	assert.Equal(t, FillingHead{FamilySize: 3}, st)

	st, err = Next(st, PageSubmitted{PageCount: 2})
	require.NoError(t, err)
	assert.Equal(t, FillingHead{FamilySize: 3, Page: 1}, st)

	st, err = Next(st, PageSubmitted{PageCount: 2})
	require.NoError(t, err)
	assert.Equal(t, FillingMember{Remaining: 2}, st)

	st, err = Next(st, PausedForSave{})
	require.NoError(t, err)
	assert.Equal(t, FillingMember{Remaining: 2}, st)

	st, _ = Next(st, PageSubmitted{PageCount: 2})
	st, _ = Next(st, PageSubmitted{PageCount: 2})
	assert.Equal(t, FillingMember{Remaining: 1}, st)

	st, _ = Next(st, PageSubmitted{PageCount: 2})
	st, err = Next(st, PageSubmitted{PageCount: 2})
	require.NoError(t, err)
	assert.Equal(t, Completed{}, st)
}

func TestNext_IndividualSkipsMembers(t *testing.T) {
	st, err := Next(SelectingPlan{}, PlanChosen{FamilySize: 1, PlanFound: true, SchemaFound: true})
	require.NoError(t, err)
	st, err = Next(st, PageSubmitted{PageCount: 1})
	require.NoError(t, err)
	assert.Equal(t, Completed{}, st)
}

func TestNext_MissingArtifacts(t *testing.T) {
	_, err := Next(SelectingPlan{}, PlanChosen{FamilySize: 1, SchemaFound: true})
	var missing *MissingArtifactError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "plan", missing.Artifact)
	assert.ErrorIs(t, err, ErrMissingArtifact)

	_, err = Next(SelectingPlan{}, PlanChosen{FamilySize: 1, PlanFound: true})
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "schema", missing.Artifact)
}

func TestNext_IllegalEvents(t *testing.T) {
	cases := []struct {
		st State
		ev Event
	}{
		{SelectingPlan{}, PageSubmitted{PageCount: 1}},
		{FillingHead{FamilySize: 1}, PlanChosen{PlanFound: true, SchemaFound: true}},
		{FillingMember{Remaining: 1}, PlanChosen{}},
		{Completed{}, PageSubmitted{PageCount: 1}},
	}
	for _, c := range cases {
		st, err := Next(c.st, c.ev)
		assert.ErrorIs(t, err, apperr.ErrConflict)
		assert.Equal(t, c.st, st)
	}
}

func TestResumeState(t *testing.T) {
	assert.Equal(t, FillingMember{Remaining: 1}, ResumeState(4, 2))
	assert.Equal(t, FillingMember{Remaining: 2}, ResumeState(4, 1))
	assert.Equal(t, FillingHead{FamilySize: 4}, ResumeState(4, 0))
	assert.Equal(t, FillingHead{FamilySize: 1}, ResumeState(1, 0))
	assert.Equal(t, FillingMember{Remaining: 1}, ResumeState(3, 5))
}
