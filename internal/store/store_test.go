package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tareqmamari/rca-agent/internal/agent"
)

func TestPutAndGet(t *testing.T) {
	s := New(zap.NewNop())
	inv := agent.NewAlertInvestigation(agent.Alert{Name: "A", StartsAt: time.Now()}, 3)
	s.Put(inv)

	got, err := s.Get(inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, got.ID)
	assert.NotSame(t, inv, got, "lookups must return a snapshot, not the live record")
}

func TestGetUnknown(t *testing.T) {
	s := New(zap.NewNop())
	_, err := s.Get("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListNewestFirst(t *testing.T) {
	s := New(zap.NewNop())
	older := agent.NewAlertInvestigation(agent.Alert{Name: "old"}, 3)
	older.StartedAt = time.Now().Add(-time.Hour)
	newer := agent.NewAlertInvestigation(agent.Alert{Name: "new"}, 3)
	s.Put(older)
	s.Put(newer)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, 2, s.Len())
}

func TestSnapshotIsolatedFromLiveRecord(t *testing.T) {
	s := New(zap.NewNop())
	inv := agent.NewAlertInvestigation(agent.Alert{Name: "A"}, 3)
	s.Put(inv)

	// The engine mutating its record must not leak into readers until
	// the next publish.
	inv.Status = agent.StatusRunning
	inv.Stage = agent.StagePlan

	got, err := s.Get(inv.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusPending, got.Status)
	assert.Equal(t, agent.StageDiscover, got.Stage)

	s.Put(inv)
	got, err = s.Get(inv.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusRunning, got.Status)
	assert.Equal(t, agent.StagePlan, got.Stage)
}

func TestMutatingSnapshotDoesNotAffectStore(t *testing.T) {
	s := New(zap.NewNop())
	inv := agent.NewAlertInvestigation(agent.Alert{Name: "A"}, 3)
	s.Put(inv)

	got, err := s.Get(inv.ID)
	require.NoError(t, err)
	got.Status = agent.StatusFailed

	again, err := s.Get(inv.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusPending, again.Status)
}

func TestOnStageChangePublishes(t *testing.T) {
	s := New(zap.NewNop())
	inv := agent.NewAlertInvestigation(agent.Alert{Name: "A"}, 3)
	s.Put(inv)

	inv.Status = agent.StatusRunning
	inv.Stage = agent.StageEvaluate
	inv.IterationCount = 2
	s.OnStageChange(inv)

	got, err := s.Get(inv.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.StageEvaluate, got.Stage)
	assert.Equal(t, 2, got.IterationCount)
}
