package pkg

import (
	"fmt"
	"strings"
	"time"
)

// Counseling Core Types shared across the turn pipeline

// RiskTier is the severity assigned to a single conversation turn.
// Values are ordered so that a larger value is more severe.
type RiskTier int

const (
	LowRisk RiskTier = iota
	MediumRisk
	HighRisk
	Crisis
)

var riskTierNames = map[RiskTier]string{
	LowRisk:    "LOW_RISK",
	MediumRisk: "MEDIUM_RISK",
	HighRisk:   "HIGH_RISK",
	Crisis:     "CRISIS",
}

// String returns the wire name of the tier (e.g. "LOW_RISK")
func (t RiskTier) String() string {
	if name, ok := riskTierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("RiskTier(%d)", int(t))
}

// Valid reports whether t is one of the four known tiers
func (t RiskTier) Valid() bool {
	_, ok := riskTierNames[t]
	return ok
}

// AtLeast reports whether t is as severe as other or more
func (t RiskTier) AtLeast(other RiskTier) bool {
	return t >= other
}

// ParseRiskTier converts a wire name into a RiskTier. Matching ignores case
// and surrounding whitespace.
func ParseRiskTier(s string) (RiskTier, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for tier, n := range riskTierNames {
		if n == name {
			return tier, nil
		}
	}
	return MediumRisk, fmt.Errorf("unknown risk tier %q", s)
}

// ClassificationResult is the validated output of the risk classifier
type ClassificationResult struct {
	Tier              RiskTier `json:"risk_level"`
	Confidence        float64  `json:"confidence_score"`
	Topic             string   `json:"topic_categorization"`
	Indicators        []string `json:"crisis_indicators"`
	RecommendedAction string   `json:"recommended_action"`
}

// DefaultClassification is used whenever the classifier output cannot be trusted
func DefaultClassification() ClassificationResult {
	return ClassificationResult{
		Tier:              MediumRisk,
		Confidence:        0.0,
		Topic:             "unknown",
		Indicators:        []string{},
		RecommendedAction: "Fallback due to parse error",
	}
}

// ConversationMessage represents a message in conversation history
type ConversationMessage struct {
	Role    string `json:"role"` // user, assistant, system
	Content string `json:"content"`
}

// TurnRequest is one inbound user message
type TurnRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	SessionID string `json:"session_id" validate:"required"`
	Message   string `json:"message" validate:"required"`
}

// MemoryDelta is a proposed update to a user's memory record
type MemoryDelta struct {
	RelationshipContext map[string]any `json:"relationship_context"`
	RecurringThemes     map[string]any `json:"recurring_themes"`
	EmotionalPatterns   map[string]any `json:"emotional_patterns"`
	ProgressNote        string         `json:"progress_note"`
}

// IsEmpty reports whether applying the delta would change nothing
func (d MemoryDelta) IsEmpty() bool {
	return len(d.RelationshipContext) == 0 &&
		len(d.RecurringThemes) == 0 &&
		len(d.EmotionalPatterns) == 0 &&
		strings.TrimSpace(d.ProgressNote) == ""
}

// UpdatedFields lists the record fields a delta touches, in schema order
func (d MemoryDelta) UpdatedFields() []string {
	fields := make([]string, 0, 4)
	if len(d.RelationshipContext) > 0 {
		fields = append(fields, "relationship_context")
	}
	if len(d.RecurringThemes) > 0 {
		fields = append(fields, "recurring_themes")
	}
	if len(d.EmotionalPatterns) > 0 {
		fields = append(fields, "emotional_patterns")
	}
	if strings.TrimSpace(d.ProgressNote) != "" {
		fields = append(fields, "progress_notes")
	}
	return fields
}

// MaxProgressNotes is the number of progress notes a record retains
const MaxProgressNotes = 10

// UserMemory is the persisted per-user memory record
type UserMemory struct {
	UserID              string         `json:"user_id"`
	RelationshipContext map[string]any `json:"relationship_context"`
	RecurringThemes     map[string]any `json:"recurring_themes"`
	EmotionalPatterns   map[string]any `json:"emotional_patterns"`
	ProgressNotes       []string       `json:"progress_notes"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// AuditAction tags an audit log entry
type AuditAction string

const (
	AuditUpdate      AuditAction = "UPDATE"
	AuditCrisisAlert AuditAction = "CRISIS_ALERT"
)

// AuditEntry is an immutable audit log row
type AuditEntry struct {
	ID        int64          `json:"id"`
	UserID    string         `json:"user_id"`
	Action    AuditAction    `json:"action"`
	Details   map[string]any `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level      string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format     string `yaml:"format" envconfig:"LOG_FORMAT"`           // json, console
	Output     string `yaml:"output" envconfig:"LOG_OUTPUT"`           // stdout, stderr, file
	TimeFormat string `yaml:"time_format" envconfig:"LOG_TIME_FORMAT"` // rfc3339, unix, iso8601
	FilePath   string `yaml:"file_path" envconfig:"LOG_FILE_PATH"`
}
