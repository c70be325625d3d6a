package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/SUPREMEAGENTMANAGER/internal/model"
	"github.com/SUPREMEAGENTMANAGER/internal/store"
)

// TestAppendIssuesExpectedSQLShape pins down the exact statements Append
// runs inside its transaction, independent of a real SQLite file: a tail
// lookup scoped to the agent, then a single insert carrying the computed
// chain fields.
func TestAppendIssuesExpectedSQLShape(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(&store.DB{SQL: db})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT seq, hash_signature FROM agent_activity_logs`).
		WithArgs("agent-1").
		WillReturnRows(sqlmock.NewRows([]string{"seq", "hash_signature"}))
	mock.ExpectExec(`INSERT INTO agent_activity_logs`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	act := &model.Activity{
		ActivityID:       "act-1",
		CorrelationID:    "corr-1",
		AgentID:          "agent-1",
		TenantID:         "tenant-1",
		Timestamp:        time.Now(),
		ActivityType:     model.ActivityInteraction,
		ActivityCategory: "chat",
		Description:      "hello",
		RiskLevel:        model.RiskLow,
	}

	require.NoError(t, s.Append(context.Background(), act))
	require.Equal(t, model.GenesisHash, act.PrevHash)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestAppendRollsBackOnInsertFailure confirms a failed insert does not
// leave a partially-applied transaction behind.
func TestAppendRollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(&store.DB{SQL: db})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT seq, hash_signature FROM agent_activity_logs`).
		WithArgs("agent-1").
		WillReturnRows(sqlmock.NewRows([]string{"seq", "hash_signature"}))
	mock.ExpectExec(`INSERT INTO agent_activity_logs`).
		WillReturnError(sqlmock.ErrCancelled)
	mock.ExpectRollback()

	act := &model.Activity{
		ActivityID:   "act-1",
		AgentID:      "agent-1",
		TenantID:     "tenant-1",
		Timestamp:    time.Now(),
		ActivityType: model.ActivityInteraction,
		RiskLevel:    model.RiskLow,
	}

	require.Error(t, s.Append(context.Background(), act))
	require.NoError(t, mock.ExpectationsWereMet())
}
