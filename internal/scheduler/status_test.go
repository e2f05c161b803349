package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		from    Status
		to      Status
		want    []Status
		wantErr error
	}{
		{name: "take", from: StatusAvailable, to: StatusInProgress, want: []Status{StatusInProgress}},
		{name: "complete skips take", from: StatusAvailable, to: StatusCompleted, want: []Status{StatusInProgress, StatusCompleted}},
		{name: "new straight to photo close", from: StatusNew, to: StatusClosedWithPhoto, want: []Status{StatusAvailable, StatusInProgress, StatusClosedWithPhoto}},
		{name: "fail in progress", from: StatusInProgress, to: StatusFailed, want: []Status{StatusFailed}},
		{name: "reopen", from: StatusCompleted, to: StatusInProgress, want: []Status{StatusInProgress}},
		{name: "repeat terminal is noop", from: StatusFailed, to: StatusFailed, want: nil},
		{name: "repeat non-terminal is noop", from: StatusInProgress, to: StatusInProgress, want: nil},
		{name: "terminal to terminal", from: StatusCompleted, to: StatusFailed, wantErr: ErrInvalidTransition},
		{name: "backwards", from: StatusInProgress, to: StatusAvailable, wantErr: ErrInvalidTransition},
		{name: "overdue not requestable", from: StatusAvailable, to: StatusOverdue, wantErr: ErrInvalidTransition},
		{name: "new not requestable", from: StatusAvailable, to: StatusNew, wantErr: ErrInvalidTransition},
		{name: "unknown target", from: StatusAvailable, to: Status("DONE"), wantErr: ErrUnknownStatus},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := Plan(tc.from, tc.to)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDerive(t *testing.T) {
	t.Parallel()

	due := time.Date(2024, time.March, 4, 13, 0, 0, 0, time.UTC)
	executed := due.Add(-time.Hour)

	assert.Equal(t, StatusOverdue, Derive(StatusAvailable, nil, due, due.Add(time.Minute)))
	assert.Equal(t, StatusOverdue, Derive(StatusInProgress, nil, due, due.Add(time.Minute)))
	assert.Equal(t, StatusAvailable, Derive(StatusAvailable, nil, due, due))
	assert.Equal(t, StatusCompleted, Derive(StatusCompleted, &executed, due, due.Add(48*time.Hour)))

	assert.Equal(t, StatusNew, VirtualStatus(due, due.Add(-time.Second)))
	assert.Equal(t, StatusAvailable, VirtualStatus(due, due))
}

func TestCheckEvidence(t *testing.T) {
	t.Parallel()

	photoPolicy := Policy{RequirePhoto: true}

	var evErr *MissingEvidenceError
	err := CheckEvidence(StatusCompleted, Evidence{}, photoPolicy)
	require.ErrorAs(t, err, &evErr)
	assert.Equal(t, []string{"photo"}, evErr.Missing)

	require.NoError(t, CheckEvidence(StatusClosedWithPhoto, Evidence{Photos: []string{"p1"}}, photoPolicy))
	require.NoError(t, CheckEvidence(StatusCompleted, Evidence{}, Policy{}))

	err = CheckEvidence(StatusClosedWithPhoto, Evidence{Photos: []string{" "}}, Policy{})
	require.ErrorAs(t, err, &evErr)

	err = CheckEvidence(StatusCompleted, Evidence{Photos: []string{"p1"}}, Policy{RequirePhoto: true, RequireComment: true})
	require.ErrorAs(t, err, &evErr)
	assert.Equal(t, []string{"comment"}, evErr.Missing)

	require.NoError(t, CheckEvidence(StatusFailed, Evidence{}, Policy{RequirePhoto: true, RequireComment: true}))
}

func TestTransition(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)

	t.Run("complete stamps execution", func(t *testing.T) {
		t.Parallel()

		next, changed, err := Transition(Lifecycle{Status: StatusAvailable}, StatusCompleted, Evidence{Comment: " done "}, Policy{}, "alice", now)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, StatusCompleted, next.Status)
		require.NotNil(t, next.ExecutedAt)
		assert.Equal(t, now, *next.ExecutedAt)
		assert.Equal(t, "alice", next.ExecutedBy)
		require.NotNil(t, next.TakenAt)
		assert.Equal(t, "alice", next.TakenBy)
		assert.Equal(t, "done", next.Comment)
	})

	t.Run("repeat terminal is a noop", func(t *testing.T) {
		t.Parallel()

		executed := now.Add(-time.Hour)
		lc := Lifecycle{Status: StatusCompleted, ExecutedAt: &executed, ExecutedBy: "bob"}
		next, changed, err := Transition(lc, StatusCompleted, Evidence{}, Policy{RequirePhoto: true}, "alice", now)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, lc, next)
	})

	t.Run("reopen clears execution", func(t *testing.T) {
		t.Parallel()

		executed := now.Add(-time.Hour)
		lc := Lifecycle{Status: StatusFailed, ExecutedAt: &executed, ExecutedBy: "bob", FailureReason: "no access"}
		next, changed, err := Transition(lc, StatusInProgress, Evidence{}, Policy{}, "alice", now)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Nil(t, next.ExecutedAt)
		assert.Empty(t, next.ExecutedBy)
		assert.Empty(t, next.FailureReason)
		assert.Equal(t, "alice", next.TakenBy)
	})

	t.Run("failure records reason", func(t *testing.T) {
		t.Parallel()

		next, _, err := Transition(Lifecycle{Status: StatusInProgress}, StatusFailed, Evidence{Reason: "locked"}, Policy{}, "carol", now)
		require.NoError(t, err)
		assert.Equal(t, "locked", next.FailureReason)
		require.NotNil(t, next.ExecutedAt)
	})

	t.Run("missing evidence leaves lifecycle untouched", func(t *testing.T) {
		t.Parallel()

		lc := Lifecycle{Status: StatusAvailable}
		next, changed, err := Transition(lc, StatusCompleted, Evidence{}, Policy{RequirePhoto: true}, "alice", now)
		var evErr *MissingEvidenceError
		require.ErrorAs(t, err, &evErr)
		assert.False(t, changed)
		assert.Equal(t, lc, next)
	})
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	s, err := ParseStatus(" closed_with_photo ")
	require.NoError(t, err)
	assert.Equal(t, StatusClosedWithPhoto, s)

	_, err = ParseStatus("done")
	require.ErrorIs(t, err, ErrUnknownStatus)
}
