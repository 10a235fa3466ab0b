package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusSuccess, StatusFailed, StatusAborted, StatusBroken, StatusRevoked}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), s)
		assert.True(t, s.Valid(), s)
	}
	for _, s := range NonTerminalStatuses {
		assert.False(t, s.IsTerminal(), s)
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Status("bogus").Valid())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusCreated, StatusScheduled, true},
		{StatusCreated, StatusRunning, true},
		{StatusCreated, StatusRevoked, true},
		{StatusCreated, StatusLocked, true},
		{StatusCreated, StatusSuccess, false},
		{StatusLocked, StatusCreated, true},
		{StatusLocked, StatusRunning, false},
		{StatusScheduled, StatusRunning, true},
		{StatusScheduled, StatusRevoked, true},
		{StatusScheduled, StatusAborted, true},
		{StatusScheduled, StatusSuccess, false},
		{StatusScheduled, StatusFailed, false},
		{StatusScheduled, StatusCreated, false},
		{StatusRunning, StatusSuccess, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusAborted, true},
		{StatusRunning, StatusCreated, false},
		{StatusRunning, StatusRevoked, false},
		{StatusSuccess, StatusFailed, false},
		{StatusBroken, StatusRunning, false},
		{StatusRevoked, StatusBroken, false},
		{StatusRunning, Status("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestAnyNonTerminalCanBreak(t *testing.T) {
	for _, s := range NonTerminalStatuses {
		assert.True(t, CanTransition(s, StatusBroken), s)
	}
}

func TestCheckTransition(t *testing.T) {
	assert.NoError(t, CheckTransition("task", 1, StatusRunning, StatusRunning))
	assert.NoError(t, CheckTransition("task", 1, StatusCreated, StatusScheduled))

	err := CheckTransition("job", 4, StatusSuccess, StatusSuccess)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "job", te.Entity)
	assert.Equal(t, int64(4), te.ID)
	assert.Contains(t, err.Error(), "success -> success")
}

func TestParseEntityRef(t *testing.T) {
	tests := []struct {
		in      string
		want    EntityRef
		wantErr bool
	}{
		{in: "cluster:1", want: EntityRef{Kind: EntityCluster, ID: 1}},
		{in: "action-host-group:12", want: EntityRef{Kind: EntityHostGroup, ID: 12}},
		{in: "cluster", wantErr: true},
		{in: "cluster:", wantErr: true},
		{in: "widget:1", wantErr: true},
		{in: "host:-3", wantErr: true},
		{in: "host:abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEntityRef(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestStateEffectsApply(t *testing.T) {
	e := &Entity{State: "installed", MultiState: []string{"a", "b"}}
	StateEffects{State: "broken", MultiStateSet: []string{"needs_repair", "a"}, MultiStateUnset: []string{"b"}}.Apply(e)

	assert.Equal(t, "broken", e.State)
	assert.ElementsMatch(t, []string{"a", "needs_repair"}, e.MultiState)

	// Empty effects keep the state
	StateEffects{}.Apply(e)
	assert.Equal(t, "broken", e.State)
	assert.True(t, StateEffects{}.IsZero())
}

func TestActionAvailableIn(t *testing.T) {
	a := &Action{}
	assert.True(t, a.AvailableIn("anything"))

	a.StatesAvailable = []string{"created", "installed"}
	assert.True(t, a.AvailableIn("installed"))
	assert.False(t, a.AvailableIn("running"))

	a.StatesAvailable = []string{StateAny}
	assert.True(t, a.AvailableIn("running"))
}

func TestErrorsUnwrap(t *testing.T) {
	assert.ErrorIs(t, &BusyError{Entity: EntityRef{Kind: EntityHost, ID: 1}}, ErrTargetBusy)
	assert.ErrorIs(t, Invalidf("config", "missing %s", "x"), ErrValidation)
	assert.ErrorIs(t, NotFoundf("task %d", 1), ErrNotFound)
	assert.Contains(t, Invalidf("config", "missing %s", "x").Error(), "config: missing x")
}
