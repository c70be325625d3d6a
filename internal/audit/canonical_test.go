package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SUPREMEAGENTMANAGER/internal/model"
)

func sampleActivity() *model.Activity {
	return &model.Activity{
		ActivityID:       "act-1",
		CorrelationID:    "corr-1",
		AgentID:          "agent-1",
		TenantID:         "tenant-1",
		Timestamp:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		ActivityType:     model.ActivityInteraction,
		ActivityCategory: "chat",
		Description:      "responded to user",
		Context:          map[string]interface{}{"b": 2, "a": 1},
		RiskLevel:        model.RiskLow,
		ComplianceFlags:  []string{"gdpr"},
		PrevHash:         model.GenesisHash,
	}
}

func TestCanonicalBytesIsOrderIndependentForContextMaps(t *testing.T) {
	a1 := sampleActivity()
	a2 := sampleActivity()
	a2.Context = map[string]interface{}{"a": 1, "b": 2}

	b1, err := canonicalBytes(a1)
	require.NoError(t, err)
	b2, err := canonicalBytes(a2)
	require.NoError(t, err)

	assert.Equal(t, b1, b2, "map key insertion order must not affect canonical bytes")
}

func TestCanonicalBytesChangesWithContent(t *testing.T) {
	a1 := sampleActivity()
	a2 := sampleActivity()
	a2.Description = "different"

	b1, err := canonicalBytes(a1)
	require.NoError(t, err)
	b2, err := canonicalBytes(a2)
	require.NoError(t, err)

	assert.NotEqual(t, b1, b2)
}

func TestSignHashIsDeterministic(t *testing.T) {
	a := sampleActivity()
	canonical, err := canonicalBytes(a)
	require.NoError(t, err)

	h1 := signHash(model.GenesisHash, canonical)
	h2 := signHash(model.GenesisHash, canonical)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestSignHashChangesWithPrevHash(t *testing.T) {
	a := sampleActivity()
	canonical, err := canonicalBytes(a)
	require.NoError(t, err)

	h1 := signHash(model.GenesisHash, canonical)
	h2 := signHash("somethingelse", canonical)
	assert.NotEqual(t, h1, h2)
}
