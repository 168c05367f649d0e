package core

// Severity represents the severity of a finding
type Severity string

const (
	// SeverityLow is informational
	SeverityLow Severity = "low"
	// SeverityMedium needs analyst review
	SeverityMedium Severity = "medium"
	// SeverityHigh needs immediate attention
	SeverityHigh Severity = "high"
)

// String returns the string representation
func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	default:
		return false
	}
}

// Rank orders severities so that comparisons read naturally
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	default:
		return 0
	}
}

// Rule names emitted by the signal engine
const (
	RuleExcessiveFailedLoginsUser = "excessive_failed_logins_user"
	RuleExcessiveFailedLoginsIP   = "excessive_failed_logins_ip"
	RuleImpossibleTravel          = "impossible_travel"
)

// NoData is the sentinel written when a value is intentionally absent.
const NoData = "No data"
