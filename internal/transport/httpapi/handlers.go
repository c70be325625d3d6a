package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/SUPREMEAGENTMANAGER/internal/audit"
	"github.com/SUPREMEAGENTMANAGER/internal/cperr"
	"github.com/SUPREMEAGENTMANAGER/internal/facade"
	"github.com/SUPREMEAGENTMANAGER/internal/lifecycle"
	"github.com/SUPREMEAGENTMANAGER/internal/model"
)

// adminFromRequest builds the already-authenticated AdminPrincipal this
// boundary consumes, per spec §1's "authentication ... only the resulting
// principal identity is consumed": a real deployment's auth middleware
// sets these headers after verifying a token; this package never verifies
// anything itself.
func adminFromRequest(r *http.Request) model.AdminPrincipal {
	scopes := []string{}
	if raw := r.Header.Get("X-ACP-Tenant-Scopes"); raw != "" {
		scopes = strings.Split(raw, ",")
	}
	return model.AdminPrincipal{
		AdminID:      r.Header.Get("X-ACP-Admin-Id"),
		TenantScopes: scopes,
	}
}

func actorFromRequest(r *http.Request, bodyActor string) string {
	if bodyActor != "" {
		return bodyActor
	}
	if h := r.Header.Get("X-ACP-Actor"); h != "" {
		return h
	}
	return "unknown"
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// registerAgentRequest is POST /agents's body.
type registerAgentRequest struct {
	TenantID      string   `json:"tenant_id"`
	Name          string   `json:"name"`
	AgentType     string   `json:"agent_type"`
	Version       string   `json:"version"`
	Capabilities  []string `json:"capabilities"`
	Permissions   []string `json:"permissions"`
	RegisteredBy  string   `json:"registered_by"`
	CorrelationID string   `json:"correlation_id"`
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, s.log, err)
		return
	}
	agent, err := s.facade.RegisterAgent(r.Context(), req.TenantID, model.RegisterAgentSpec{
		Name:         req.Name,
		AgentType:    req.AgentType,
		Version:      req.Version,
		Capabilities: req.Capabilities,
		Permissions:  req.Permissions,
		RegisteredBy: req.RegisteredBy,
	}, req.CorrelationID)
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusCreated, agent)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	agent, err := s.facade.GetAgent(r.Context(), id)
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, agent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := lifecycle.ListAgentsOptions{
		TenantID: q.Get("tenant_id"),
		Limit:    queryInt(r, "limit", 100),
		Offset:   queryInt(r, "offset", 0),
	}
	if raw := q.Get("status"); raw != "" {
		for _, v := range strings.Split(raw, ",") {
			opts.Statuses = append(opts.Statuses, model.AgentStatus(v))
		}
	}
	agents, err := s.facade.ListAgents(r.Context(), opts)
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, agents)
}

// executeActionRequest is POST /agents/{id}/actions's body.
type executeActionRequest struct {
	Action        string `json:"action"`
	Actor         string `json:"actor"`
	Reason        string `json:"reason"`
	ApprovalID    string `json:"approval_id"`
	CorrelationID string `json:"correlation_id"`
}

func (s *Server) handleExecuteAction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req executeActionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, s.log, err)
		return
	}
	result, err := s.facade.ExecuteAction(r.Context(), id, model.LifecycleAction(req.Action),
		actorFromRequest(r, req.Actor), req.Reason, req.ApprovalID, req.CorrelationID)
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, result)
}

// approveActionRequest is POST /agents/{id}/approve-action's body. The
// path's {id} is informational only (the ApprovalRequest already names its
// target agent); the approval_id is what the facade acts on.
type approveActionRequest struct {
	ApprovalID string `json:"approval_id"`
	Notes      string `json:"notes"`
	Approved   bool   `json:"approved"`
}

func (s *Server) handleApproveAction(w http.ResponseWriter, r *http.Request) {
	var req approveActionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, s.log, err)
		return
	}
	admin := adminFromRequest(r)
	if admin.AdminID == "" {
		respondError(w, s.log, cperr.Policy("approve-action requires a named admin principal"))
		return
	}
	if err := s.facade.ApproveAction(r.Context(), req.ApprovalID, admin.AdminID, req.Notes, req.Approved); err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, map[string]string{"approval_id": req.ApprovalID})
}

// securityViolationRequest is POST /agents/{id}/security-violation's body,
// for externally reported violations (spec §6).
type securityViolationRequest struct {
	ViolationType string                 `json:"violation_type"`
	Severity      string                 `json:"severity"`
	Details       map[string]interface{} `json:"details"`
	CorrelationID string                 `json:"correlation_id"`
}

func (s *Server) handleSecurityViolation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req securityViolationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, s.log, err)
		return
	}
	outcome, err := s.facade.HandleSecurityViolation(r.Context(), id, req.ViolationType,
		model.ViolationSeverity(req.Severity), req.Details, req.CorrelationID)
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, outcome)
}

// logActivityRequest is POST /agents/{id}/log/{kind}'s shared body across
// interaction/knowledge/process/error (spec §6).
type logActivityRequest struct {
	ActivityCategory string                 `json:"activity_category"`
	Description      string                 `json:"description"`
	Context          map[string]interface{} `json:"context"`
	UserID           string                 `json:"user_id"`
	SessionID        string                 `json:"session_id"`
	InputHash        string                 `json:"input_hash"`
	OutputHash       string                 `json:"output_hash"`
	KnowledgePayload string                 `json:"knowledge_payload"`
	ComplianceFlags  []string               `json:"compliance_flags"`
	CorrelationID    string                 `json:"correlation_id"`
	ParentActivityID string                 `json:"parent_activity_id"`
}

func (s *Server) handleLogActivity(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, kind := vars["id"], vars["kind"]

	var req logActivityRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, s.log, err)
		return
	}
	entry := facade.LogEntry{
		AgentID:          id,
		ActivityCategory: req.ActivityCategory,
		Description:      req.Description,
		Context:          req.Context,
		UserID:           req.UserID,
		SessionID:        req.SessionID,
		InputHash:        req.InputHash,
		OutputHash:       req.OutputHash,
		KnowledgePayload: req.KnowledgePayload,
		ComplianceFlags:  req.ComplianceFlags,
		CorrelationID:    req.CorrelationID,
		ParentActivityID: req.ParentActivityID,
	}

	var (
		result interface{}
		err    error
	)
	switch kind {
	case "interaction":
		result, err = s.facade.LogInteraction(r.Context(), entry)
	case "knowledge":
		result, err = s.facade.LogKnowledge(r.Context(), entry)
	case "process":
		result, err = s.facade.LogProcess(r.Context(), model.ActivityProcessExecution, entry)
	case "error":
		result, err = s.facade.ReportError(r.Context(), entry)
	default:
		respondError(w, s.log, cperr.Validation("unknown log kind %q", kind))
		return
	}
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, result)
}

func (s *Server) handleActivityLog(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	q := r.URL.Query()

	opts := audit.QueryOptions{
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	}
	if from := q.Get("from"); from != "" {
		opts.From = &from
	}
	if to := q.Get("to"); to != "" {
		opts.To = &to
	}
	if rl := q.Get("risk_level"); rl != "" {
		level := model.RiskLevel(rl)
		opts.RiskLevel = &level
	}
	if rr := q.Get("requires_review"); rr != "" {
		v := rr == "true"
		opts.RequiresReview = &v
	}

	acts, err := s.facade.GetActivityLog(r.Context(), id, opts)
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, acts)
}

func (s *Server) handleSurveillanceReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	report, err := s.facade.GetSurveillanceReport(r.Context(), id)
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, report)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	dash, err := s.facade.GetDashboard(r.Context(), tenantID, adminFromRequest(r))
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, dash)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	limit := queryInt(r, "limit", 100)
	notifs, err := s.facade.ListPendingNotifications(r.Context(), tenantID, limit)
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, notifs)
}

type respondNotificationRequest struct {
	Resolved   bool   `json:"resolved"`
	Response   string `json:"response"`
	Resolution string `json:"resolution"`
}

func (s *Server) handleRespondNotification(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req respondNotificationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, s.log, err)
		return
	}
	admin := adminFromRequest(r)
	if admin.AdminID == "" {
		respondError(w, s.log, cperr.Policy("respond requires a named admin principal"))
		return
	}
	if err := s.facade.RespondToNotification(r.Context(), id, admin, req.Resolved, req.Response, req.Resolution); err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, map[string]string{"notification_id": id})
}

type unfreezeRequest struct {
	FreezeType string `json:"freeze_type"`
	Reason     string `json:"reason"`
}

func (s *Server) handleUnfreezeAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req unfreezeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, s.log, err)
		return
	}
	freezeType := model.FreezeAgent
	if req.FreezeType != "" {
		freezeType = model.FreezeType(req.FreezeType)
	}
	admin := adminFromRequest(r)
	if err := s.facade.UnfreezeScope(r.Context(), admin, freezeType, id, req.Reason); err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, map[string]string{"target": id})
}

func (s *Server) handleFrozenEntities(w http.ResponseWriter, r *http.Request) {
	frozen, err := s.facade.GetFrozenEntities(r.Context())
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, frozen)
}

func (s *Server) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := time.Now().Add(-30*24*time.Hour), time.Now()
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t
		}
	}
	var agentIDs []string
	if v := q.Get("agent_ids"); v != "" {
		agentIDs = strings.Split(v, ",")
	}
	report, err := s.facade.GenerateComplianceReport(r.Context(), from, to, agentIDs)
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, report)
}
