package call

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/callx/internal/sip"
)

func TestDefaultTableIsValid(t *testing.T) {
	table, err := NewTable(DefaultTransitions())
	require.NoError(t, err)

	s, ok := table.Initial(sip.MethodInvite)
	require.True(t, ok)
	assert.Equal(t, CallingProceeding, s)

	next, ok := table.Next(sip.MethodInvite, TriggerFailure, ProceedingProceeding)
	require.True(t, ok)
	assert.Equal(t, TerminatedCompleted, next)

	next, ok = table.Next(sip.MethodInvite, TriggerAck, TerminatedCompleted)
	require.True(t, ok)
	assert.Equal(t, TerminatedTerminated, next)

	_, ok = table.Next(sip.MethodInvite, TriggerAck, ProceedingProceeding)
	assert.False(t, ok)
	_, ok = table.Initial(sip.MethodRegister)
	assert.False(t, ok)
}

func TestNewTableRejects(t *testing.T) {
	initial := map[sip.Method]StatePair{sip.MethodBye: TryingTrying}
	complete := []Transition{
		{sip.MethodBye, TriggerProvisional, []StatePair{TryingTrying}, ProceedingProceeding},
		{sip.MethodBye, TriggerSuccess, []StatePair{TryingTrying}, TerminatedTerminated},
		{sip.MethodBye, TriggerFailure, []StatePair{TryingTrying}, TerminatedTerminated},
	}

	tests := []struct {
		name    string
		initial map[sip.Method]StatePair
		rows    []Transition
		want    string
	}{
		{
			name:    "conflict",
			initial: initial,
			rows: append(complete[:3:3],
				Transition{sip.MethodBye, TriggerSuccess, []StatePair{TryingTrying}, TerminatedCompleted}),
			want: "conflicting",
		},
		{
			name:    "unreachable pre-state",
			initial: initial,
			rows: append(complete[:3:3],
				Transition{sip.MethodBye, TriggerSuccess, []StatePair{CallingProceeding}, TerminatedTerminated}),
			want: "unreachable",
		},
		{
			name:    "missing response class",
			initial: initial,
			rows:    complete[:2],
			want:    "no non-2xx transition",
		},
		{
			name:    "no initial state",
			initial: initial,
			rows: append(complete[:3:3],
				Transition{sip.MethodOptions, TriggerSuccess, []StatePair{TryingTrying}, TerminatedTerminated}),
			want: "no initial state",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := NewTable(tt.initial, tt.rows)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Nil(t, table)
		})
	}

	_, err := NewTable(initial, complete)
	assert.NoError(t, err)
}

func TestMustTablePanics(t *testing.T) {
	assert.Panics(t, func() {
		MustTable(map[sip.Method]StatePair{sip.MethodBye: TryingTrying}, nil)
	})
}

func TestTriggerOf(t *testing.T) {
	assert.Equal(t, TriggerProvisional, TriggerOf(100))
	assert.Equal(t, TriggerProvisional, TriggerOf(183))
	assert.Equal(t, TriggerSuccess, TriggerOf(200))
	assert.Equal(t, TriggerFailure, TriggerOf(302))
	assert.Equal(t, TriggerFailure, TriggerOf(486))
	assert.Equal(t, TriggerFailure, TriggerOf(603))
	assert.Equal(t, "non-2xx", TriggerFailure.String())
	assert.Equal(t, "PROCEEDING/PROCEEDING", ProceedingProceeding.String())
}
