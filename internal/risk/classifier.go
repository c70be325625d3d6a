// Package risk implements the Risk Classifier: a pure, deterministic,
// table-driven function from an incoming Activity plus a snapshot of agent
// state to risk_level, compliance_flags, requires_review, and a
// recommended-action list. It performs no I/O of its own — every signal it
// needs is handed in by the caller.
package risk

import (
	"sort"
	"strings"

	"github.com/SUPREMEAGENTMANAGER/internal/model"
)

// Snapshot is the agent-state context the classifier considers alongside
// the Activity itself. Callers assemble this from the Lifecycle Manager
// and recent Audit Store history; the classifier never queries either on
// its own.
type Snapshot struct {
	SecurityScore        int
	Status               model.AgentStatus
	RecentErrorCount     int // Error activities in the configured window
	RecentDataAccessSize int // bytes moved by DataAccess activities in the window
	ErrorThreshold       int
	DataVolumeThreshold  int
}

// SecretStoreTargets names context["target"] values treated as the secret
// store for the SystemModification → Critical rule.
var SecretStoreTargets = map[string]struct{}{
	"secret_store": {},
	"credentials":  {},
	"vault":        {},
}

// PromptInjectionMarkers are substrings that, if present in an Interaction's
// description, mark it as a suspected prompt-injection attempt.
var PromptInjectionMarkers = []string{
	"ignore previous instructions",
	"disregard all prior",
	"system prompt:",
	"you are now",
}

// Result is everything the Risk Classifier hands back for one Activity.
type Result struct {
	RiskLevel          model.RiskLevel
	ComplianceFlags    []string
	RequiresReview     bool
	RecommendedActions []model.RecommendedAction
	SystemAction       model.SystemAction
}

// Classify deterministically assigns risk to act given snap. Identical
// (act, snap) pairs always produce byte-identical Results: every branch
// below is a pure function of its inputs, evaluated in a fixed order, with
// no reliance on map iteration order or wall-clock time.
func Classify(act *model.Activity, snap Snapshot) Result {
	level := classifyLevel(act, snap)
	return Result{
		RiskLevel:          level,
		ComplianceFlags:    complianceFlags(act, level),
		RequiresReview:     requiresReview(act, level),
		RecommendedActions: recommendedActions(level),
		SystemAction:       systemAction(level, snap),
	}
}

// classifyLevel walks the policy table from spec §4.3 top to bottom; the
// first matching row wins.
func classifyLevel(act *model.Activity, snap Snapshot) model.RiskLevel {
	switch act.ActivityType {
	case model.ActivitySecurityEvent:
		return model.RiskHigh

	case model.ActivitySystemModification:
		if targetsSecretStore(act) {
			return model.RiskCritical
		}
		if affectsSchemaOrConfig(act) {
			return model.RiskHigh
		}

	case model.ActivityDataAccess:
		if taggedPII(act) && act.UserID == "" {
			return model.RiskHigh
		}
		threshold := snap.DataVolumeThreshold
		if threshold > 0 && snap.RecentDataAccessSize > threshold {
			return model.RiskHigh
		}
		if threshold > 0 && snap.RecentDataAccessSize > threshold/2 {
			return model.RiskMedium
		}

	case model.ActivityInteraction:
		if containsPromptInjectionMarker(act.Description) {
			return model.RiskMedium
		}

	case model.ActivityError:
		if snap.ErrorThreshold > 0 && snap.RecentErrorCount > snap.ErrorThreshold {
			return model.RiskMedium
		}
	}

	return model.RiskLow
}

func targetsSecretStore(act *model.Activity) bool {
	target, _ := act.Context["target"].(string)
	_, isSecret := SecretStoreTargets[target]
	return isSecret
}

func affectsSchemaOrConfig(act *model.Activity) bool {
	target, _ := act.Context["target"].(string)
	switch target {
	case "schema", "config", "configuration":
		return true
	}
	flag, _ := act.Context["affects_schema_or_config"].(bool)
	return flag
}

func taggedPII(act *model.Activity) bool {
	for _, f := range act.ComplianceFlags {
		if f == "pii" {
			return true
		}
	}
	flag, _ := act.Context["data_class"].(string)
	return flag == "pii"
}

func containsPromptInjectionMarker(description string) bool {
	lowered := strings.ToLower(description)
	for _, marker := range PromptInjectionMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// Emergency is a classifier-level escalation the Façade's activity
// pipeline applies on top of Classify's result: a SecurityEvent against the secret store
// while the agent's score is already below the mandatory-freeze threshold
// is always treated as Emergency and forces freeze_system, regardless of
// what the table above assigned.
func Emergency(act *model.Activity, snap Snapshot, mandatoryFreezeBelow int) bool {
	return act.ActivityType == model.ActivitySecurityEvent &&
		targetsSecretStore(act) &&
		snap.SecurityScore < mandatoryFreezeBelow
}

func complianceFlags(act *model.Activity, level model.RiskLevel) []string {
	flags := map[string]struct{}{}
	for _, f := range act.ComplianceFlags {
		flags[f] = struct{}{}
	}
	if taggedPII(act) {
		flags["pii"] = struct{}{}
	}
	if level.AtLeast(model.RiskHigh) {
		flags["requires_escalation"] = struct{}{}
	}
	out := make([]string, 0, len(flags))
	for f := range flags {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func requiresReview(act *model.Activity, level model.RiskLevel) bool {
	return level.AtLeast(model.RiskMedium) || act.ActivityType == model.ActivitySecurityEvent
}

// recommendedActions returns the prioritized response list for a risk
// level, per spec §4.3's example set.
func recommendedActions(level model.RiskLevel) []model.RecommendedAction {
	switch level {
	case model.RiskEmergency:
		return []model.RecommendedAction{
			{Action: "freeze_agent", Priority: 1, Description: "Freeze the offending agent immediately"},
			{Action: "rotate_credentials", Priority: 2, Description: "Rotate any credentials the agent could reach"},
			{Action: "escalate_to_security_officer", Priority: 3, Description: "Page the security officer"},
		}
	case model.RiskCritical:
		return []model.RecommendedAction{
			{Action: "freeze_agent", Priority: 1, Description: "Freeze the agent pending investigation"},
			{Action: "verify_agent_integrity", Priority: 2, Description: "Verify the agent's recent activity history"},
			{Action: "rotate_credentials", Priority: 3, Description: "Rotate credentials the agent has used"},
		}
	case model.RiskHigh:
		return []model.RecommendedAction{
			{Action: "review_activity", Priority: 1, Description: "Review the flagged activity"},
			{Action: "verify_agent_integrity", Priority: 2, Description: "Verify the agent is behaving as expected"},
		}
	case model.RiskMedium:
		return []model.RecommendedAction{
			{Action: "review_activity", Priority: 1, Description: "Review the flagged activity when convenient"},
		}
	default:
		return nil
	}
}

// systemAction returns the directive the Façade and Freeze Registry act on.
func systemAction(level model.RiskLevel, snap Snapshot) model.SystemAction {
	switch level {
	case model.RiskEmergency:
		return model.ActionFreezeSystem
	case model.RiskCritical:
		return model.ActionFreezeAgent
	case model.RiskHigh:
		if snap.Status == model.StatusCompromised {
			return model.ActionEscalate
		}
		return model.ActionAlert
	case model.RiskMedium:
		return model.ActionAlert
	default:
		return model.ActionNone
	}
}
