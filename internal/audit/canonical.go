package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/SUPREMEAGENTMANAGER/internal/model"
)

// canonicalFields is the exact, fixed-order projection of an Activity that
// feeds the hash chain. Field order here is part of the wire contract: any
// change changes every future hash_signature.
type canonicalFields struct {
	ActivityID       string                 `json:"activity_id"`
	CorrelationID    string                 `json:"correlation_id"`
	ParentActivityID string                 `json:"parent_activity_id"`
	AgentID          string                 `json:"agent_id"`
	TenantID         string                 `json:"tenant_id"`
	Timestamp        string                 `json:"timestamp"`
	ActivityType     model.ActivityType     `json:"activity_type"`
	ActivityCategory string                 `json:"activity_category"`
	Description      string                 `json:"description"`
	Context          map[string]interface{} `json:"context"`
	UserID           string                 `json:"user_id"`
	SessionID        string                 `json:"session_id"`
	InputHash        string                 `json:"input_hash"`
	OutputHash       string                 `json:"output_hash"`
	KnowledgePayload string                 `json:"knowledge_payload"`
	RiskLevel        model.RiskLevel        `json:"risk_level"`
	ComplianceFlags  []string               `json:"compliance_flags"`
	PrevHash         string                 `json:"prev_hash"`
}

// canonicalBytes renders a as the exact byte sequence fed into the hash
// chain. encoding/json marshals map keys in sorted order, which makes this
// deterministic for any Context map regardless of insertion order.
func canonicalBytes(a *model.Activity) ([]byte, error) {
	ctx := a.Context
	if ctx == nil {
		ctx = map[string]interface{}{}
	}
	flags := a.ComplianceFlags
	if flags == nil {
		flags = []string{}
	}

	fields := canonicalFields{
		ActivityID:       a.ActivityID,
		CorrelationID:    a.CorrelationID,
		ParentActivityID: a.ParentActivityID,
		AgentID:          a.AgentID,
		TenantID:         a.TenantID,
		Timestamp:        a.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z"),
		ActivityType:     a.ActivityType,
		ActivityCategory: a.ActivityCategory,
		Description:      a.Description,
		Context:          ctx,
		UserID:           a.UserID,
		SessionID:        a.SessionID,
		InputHash:        a.InputHash,
		OutputHash:       a.OutputHash,
		KnowledgePayload: a.KnowledgePayload,
		RiskLevel:        a.RiskLevel,
		ComplianceFlags:  flags,
		PrevHash:         a.PrevHash,
	}

	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("canonicalize activity: %w", err)
	}
	return b, nil
}

// signHash computes hash_signature = sha256(prev_hash || canonical_bytes).
func signHash(prevHash string, canonical []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}
