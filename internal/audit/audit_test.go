package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SUPREMEAGENTMANAGER/internal/cperr"
	"github.com/SUPREMEAGENTMANAGER/internal/model"
	"github.com/SUPREMEAGENTMANAGER/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "audit_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func activityFor(agentID, activityID string, ts time.Time) *model.Activity {
	return &model.Activity{
		ActivityID:       activityID,
		CorrelationID:    "corr-" + activityID,
		AgentID:          agentID,
		TenantID:         "tenant-1",
		Timestamp:        ts,
		ActivityType:     model.ActivityInteraction,
		ActivityCategory: "chat",
		Description:      "did a thing",
		Context:          map[string]interface{}{"n": activityID},
		RiskLevel:        model.RiskLow,
		ComplianceFlags:  []string{},
	}
}

func TestAppendBuildsHashChainFromGenesis(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := activityFor("agent-1", "act-1", time.Now())
	require.NoError(t, s.Append(ctx, first))
	require.Equal(t, model.GenesisHash, first.PrevHash)
	require.Len(t, first.HashSignature, 64)

	second := activityFor("agent-1", "act-2", time.Now())
	require.NoError(t, s.Append(ctx, second))
	require.Equal(t, first.HashSignature, second.PrevHash)
}

func TestAppendIsPerAgentIndependent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a1 := activityFor("agent-1", "act-1", time.Now())
	a2 := activityFor("agent-2", "act-2", time.Now())
	require.NoError(t, s.Append(ctx, a1))
	require.NoError(t, s.Append(ctx, a2))

	require.Equal(t, model.GenesisHash, a1.PrevHash)
	require.Equal(t, model.GenesisHash, a2.PrevHash)
}

func TestQueryDefaultsToNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	require.NoError(t, s.Append(ctx, activityFor("agent-1", "act-1", base)))
	require.NoError(t, s.Append(ctx, activityFor("agent-1", "act-2", base.Add(time.Second))))
	require.NoError(t, s.Append(ctx, activityFor("agent-1", "act-3", base.Add(2*time.Second))))

	results, err := s.Query(ctx, "agent-1", QueryOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "act-3", results[0].ActivityID)
	require.Equal(t, "act-1", results[2].ActivityID)
}

func TestQueryAscendingReturnsOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	require.NoError(t, s.Append(ctx, activityFor("agent-1", "act-1", base)))
	require.NoError(t, s.Append(ctx, activityFor("agent-1", "act-2", base.Add(time.Second))))

	results, err := s.Query(ctx, "agent-1", QueryOptions{Limit: 10, Ascending: true})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "act-1", results[0].ActivityID)
}

func TestVerifyChainDetectsNoTamperingOnFreshLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		act := activityFor("agent-1", "act-"+string(rune('0'+i)), time.Now())
		require.NoError(t, s.Append(ctx, act))
	}

	ok, brokenAt, err := s.VerifyChain(ctx, "agent-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, brokenAt)
}

func TestVerifyChainDetectsTamperedHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, activityFor("agent-1", "act-1", time.Now())))
	require.NoError(t, s.Append(ctx, activityFor("agent-1", "act-2", time.Now())))

	_, err := s.db.SQL.ExecContext(ctx,
		`UPDATE agent_activity_logs SET description = 'tampered' WHERE activity_id = 'act-1'`)
	require.NoError(t, err)

	ok, brokenAt, err := s.VerifyChain(ctx, "agent-1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "act-1", brokenAt)
}

func TestMarkReviewedAppendsLinkedActivityWithoutMutatingOriginal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	act := activityFor("agent-1", "act-1", time.Now())
	require.NoError(t, s.Append(ctx, act))
	originalHash := act.HashSignature

	require.NoError(t, s.MarkReviewed(ctx, "act-1", "admin-1"))

	results, err := s.Query(ctx, "agent-1", QueryOptions{Limit: 10, Ascending: true})
	require.NoError(t, err)
	require.Len(t, results, 2)

	original := results[0]
	require.Equal(t, "act-1", original.ActivityID)
	require.Equal(t, originalHash, original.HashSignature)
	require.Empty(t, original.ReviewedBy)

	review := results[1]
	require.Equal(t, "act-1", review.ParentActivityID)
	require.Equal(t, model.ActivitySystemModification, review.ActivityType)
	require.Equal(t, "admin-1", review.Context["reviewed_by"])

	ok, _, err := s.VerifyChain(ctx, "agent-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMarkReviewedUnknownActivityIsNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.MarkReviewed(context.Background(), "does-not-exist", "admin-1")
	require.Error(t, err)
	require.Equal(t, cperr.KindNotFound, cperr.KindOf(err))
}
