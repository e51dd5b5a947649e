package model

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies how dangerous a detected threat is.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Ordinal returns the numeric rank of the severity, starting at 0 for LOW.
func (s Severity) Ordinal() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// NetworkPacket is a single network observation submitted for analysis.
type NetworkPacket struct {
	PacketID        string    `json:"packet_id"`
	SourceIP        string    `json:"source_ip"`
	SourcePort      int       `json:"source_port"`
	DestinationIP   string    `json:"destination_ip"`
	DestinationPort int       `json:"destination_port"`
	Protocol        string    `json:"protocol"`
	Size            int       `json:"size"`
	Payload         string    `json:"payload"`
	Timestamp       time.Time `json:"timestamp"`
	Interface       string    `json:"interface,omitempty"`
}

// UserActivity is a single user action submitted for behavioral analysis.
type UserActivity struct {
	ActivityID       string    `json:"activity_id"`
	UserID           string    `json:"user_id"`
	IPAddress        string    `json:"ip_address"`
	ActivityType     string    `json:"activity_type"`
	ResourceAccessed string    `json:"resource_accessed,omitempty"`
	Successful       bool      `json:"successful"`
	Timestamp        time.Time `json:"timestamp"`
	UserAgent        string    `json:"user_agent,omitempty"`
	Location         string    `json:"location,omitempty"`
	SessionID        string    `json:"session_id,omitempty"`
}

// ThreatAlert is a detected security threat, enriched as it moves through a
// workflow.
type ThreatAlert struct {
	ID            string              `json:"id"`
	SourceIP      string              `json:"source_ip,omitempty"`
	DestinationIP string              `json:"destination_ip,omitempty"`
	UserID        string              `json:"user_id,omitempty"`
	SystemID      string              `json:"system_id,omitempty"`
	Description   string              `json:"description"`
	Severity      Severity            `json:"severity"`
	DetectedAt    time.Time           `json:"detected_at"`
	Confidence    float64             `json:"confidence"`
	DetectedBy    string              `json:"detected_by,omitempty"`
	ThreatType    string              `json:"threat_type,omitempty"`
	Intelligence  *ThreatIntelligence `json:"intelligence,omitempty"`
	Risk          *RiskScore          `json:"risk,omitempty"`
	CorrelationID string              `json:"correlation_id,omitempty"`
	WorkflowID    string              `json:"workflow_id,omitempty"`
	Processed     bool                `json:"processed"`
	ProcessedAt   time.Time           `json:"processed_at,omitempty"`
}

// NewThreatAlert creates an alert with a generated id.
func NewThreatAlert() *ThreatAlert {
	return &ThreatAlert{ID: uuid.NewString()}
}

// MarkProcessed records that the alert finished a workflow.
func (a *ThreatAlert) MarkProcessed(workflowID string) {
	a.Processed = true
	a.ProcessedAt = time.Now()
	a.WorkflowID = workflowID
}

// IsHighSeverity reports whether the alert is HIGH or CRITICAL.
func (a *ThreatAlert) IsHighSeverity() bool {
	return a.Severity == SeverityHigh || a.Severity == SeverityCritical
}

// IsCritical reports whether the alert is CRITICAL.
func (a *ThreatAlert) IsCritical() bool {
	return a.Severity == SeverityCritical
}

// IndicatorType classifies an intelligence indicator.
type IndicatorType string

const (
	IndicatorIP       IndicatorType = "IP"
	IndicatorDomain   IndicatorType = "DOMAIN"
	IndicatorURL      IndicatorType = "URL"
	IndicatorHash     IndicatorType = "HASH"
	IndicatorEmail    IndicatorType = "EMAIL"
	IndicatorFileName IndicatorType = "FILE_NAME"
)

// IntelligenceQuery asks the intelligence agent about one indicator.
type IntelligenceQuery struct {
	Indicator string        `json:"indicator"`
	Type      IndicatorType `json:"type"`
	Context   string        `json:"context,omitempty"`
}

// ThreatIntelligence is what is known about an indicator.
type ThreatIntelligence struct {
	Indicator  string        `json:"indicator"`
	Type       IndicatorType `json:"type"`
	Malicious  bool          `json:"malicious"`
	Confidence float64       `json:"confidence"`
	ThreatType string        `json:"threat_type,omitempty"`
	Reputation string        `json:"reputation,omitempty"`
	Category   string        `json:"category,omitempty"`
	Tags       []string      `json:"tags,omitempty"`
	Sources    []string      `json:"sources,omitempty"`
	ReportedAt time.Time     `json:"reported_at"`
	FirstSeen  time.Time     `json:"first_seen,omitempty"`
	LastSeen   time.Time     `json:"last_seen,omitempty"`
}

// ConfidenceScore is an alias accessor kept in sync with Confidence for
// callers that use the older name.
func (ti *ThreatIntelligence) ConfidenceScore() float64 {
	return ti.Confidence
}

// ConfidenceLevel maps the confidence value to HIGH, MEDIUM or LOW.
func (ti *ThreatIntelligence) ConfidenceLevel() string {
	return confidenceLevel(ti.Confidence)
}

// Fresh reports whether the record is younger than ttl.
func (ti *ThreatIntelligence) Fresh(ttl time.Duration) bool {
	return !ti.ReportedAt.IsZero() && time.Since(ti.ReportedAt) < ttl
}

// RiskScore aggregates contextual risk factors for one activity or alert.
// Score is clamped to [0,1].
type RiskScore struct {
	Score        float64   `json:"score"`
	BaseRisk     float64   `json:"base_risk"`
	TimeRisk     float64   `json:"time_risk"`
	LocationRisk float64   `json:"location_risk"`
	BehaviorRisk float64   `json:"behavior_risk"`
	CalculatedAt time.Time `json:"calculated_at"`
}

// Level maps the aggregate score to a named risk band.
func (r *RiskScore) Level() string {
	switch {
	case r.Score >= 0.8:
		return "CRITICAL"
	case r.Score >= 0.6:
		return "HIGH"
	case r.Score >= 0.4:
		return "MEDIUM"
	case r.Score >= 0.2:
		return "LOW"
	default:
		return "MINIMAL"
	}
}

// DominantFactor names the component contributing most risk.
func (r *RiskScore) DominantFactor() string {
	factor := "BASE_THREAT"
	highest := r.BaseRisk
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"TIME_BASED", r.TimeRisk},
		{"LOCATION_BASED", r.LocationRisk},
		{"BEHAVIOR_BASED", r.BehaviorRisk},
	} {
		if f.value > highest {
			highest = f.value
			factor = f.name
		}
	}
	return factor
}

// Correlation rule identifiers.
const (
	CorrelationTimeBased = "TIME_BASED"
	CorrelationIPBased   = "IP_BASED"
)

// ThreatCorrelation links a network alert and a behavior alert that appear
// related under one correlation rule.
type ThreatCorrelation struct {
	ID            string       `json:"id"`
	Type          string       `json:"type"`
	NetworkAlert  *ThreatAlert `json:"network_alert"`
	BehaviorAlert *ThreatAlert `json:"behavior_alert"`
	Confidence    float64      `json:"confidence"`
	Description   string       `json:"description"`
	CorrelatedAt  time.Time    `json:"correlated_at"`
}

// ConfidenceLevel maps the correlation confidence to HIGH, MEDIUM or LOW.
func (c *ThreatCorrelation) ConfidenceLevel() string {
	return confidenceLevel(c.Confidence)
}

func confidenceLevel(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "HIGH"
	case confidence >= 0.5:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// Response action lifecycle states.
const (
	ActionPending  = "PENDING"
	ActionExecuted = "EXECUTED"
	ActionFailed   = "FAILED"
)

// ResponseAction is one candidate or executed countermeasure.
type ResponseAction struct {
	Type        string    `json:"type"`
	Target      string    `json:"target,omitempty"`
	Description string    `json:"description"`
	Automatic   bool      `json:"automatic"`
	Status      string    `json:"status"`
	Priority    int       `json:"priority"`
	CreatedAt   time.Time `json:"created_at"`
	ExecutedAt  time.Time `json:"executed_at,omitempty"`
	ExecutedBy  string    `json:"executed_by,omitempty"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// NewResponseAction creates a pending action with the default priority.
func NewResponseAction(actionType, target string, automatic bool) *ResponseAction {
	return &ResponseAction{
		Type:      actionType,
		Target:    target,
		Automatic: automatic,
		Status:    ActionPending,
		Priority:  5,
		CreatedAt: time.Now(),
	}
}

// MarkExecuted records successful execution of the action.
func (a *ResponseAction) MarkExecuted(by, result string) {
	a.Status = ActionExecuted
	a.ExecutedAt = time.Now()
	a.ExecutedBy = by
	a.Result = result
}

// MarkFailed records a failed execution attempt.
func (a *ResponseAction) MarkFailed(errMsg string) {
	a.Status = ActionFailed
	a.ExecutedAt = time.Now()
	a.Error = errMsg
}

// PriorityLevel maps the numeric priority to a named band.
func (a *ResponseAction) PriorityLevel() string {
	switch {
	case a.Priority >= 9:
		return "CRITICAL"
	case a.Priority >= 7:
		return "HIGH"
	case a.Priority >= 5:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// Valid reports whether the action carries enough detail to be acted on.
func (a *ResponseAction) Valid() bool {
	return a != nil && a.Type != "" && a.Description != ""
}

// LearningData is one labeled sample for the pattern-learning agent.
type LearningData struct {
	ID          string         `json:"id"`
	ModelType   string         `json:"model_type"`
	Features    map[string]any `json:"features,omitempty"`
	Label       any            `json:"label,omitempty"`
	Priority    bool           `json:"priority"`
	Source      string         `json:"source,omitempty"`
	CollectedAt time.Time      `json:"collected_at"`
}

// ModelUpdate summarizes one retraining pass over buffered samples.
type ModelUpdate struct {
	ModelType       string             `json:"model_type"`
	UpdatedAt       time.Time          `json:"updated_at"`
	TrainingSamples int                `json:"training_samples"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	Version         string             `json:"version,omitempty"`
	Status          string             `json:"status,omitempty"`
}

// UserBehaviorProfile captures what normal looks like for one user.
type UserBehaviorProfile struct {
	UserID             string        `json:"user_id"`
	AvgSessionDuration time.Duration `json:"avg_session_duration"`
	TypicalAccessHours []int         `json:"typical_access_hours,omitempty"`
	FrequentResources  []string      `json:"frequent_resources,omitempty"`
	TypicalIPs         []string      `json:"typical_ips,omitempty"`
	RiskProfile        string        `json:"risk_profile,omitempty"`
	LastAnalyzed       time.Time     `json:"last_analyzed"`
}

// Stale reports whether the profile needs recomputation.
func (p *UserBehaviorProfile) Stale(maxAge time.Duration) bool {
	return p.LastAnalyzed.IsZero() || time.Since(p.LastAnalyzed) > maxAge
}

// TypicalAccessHour reports whether hour is part of the user's normal pattern.
func (p *UserBehaviorProfile) TypicalAccessHour(hour int) bool {
	for _, h := range p.TypicalAccessHours {
		if h == hour {
			return true
		}
	}
	return false
}

// TypicalIP reports whether the address is one the user normally connects from.
func (p *UserBehaviorProfile) TypicalIP(ip string) bool {
	for _, addr := range p.TypicalIPs {
		if addr == ip {
			return true
		}
	}
	return false
}
