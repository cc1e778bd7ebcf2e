package model

import (
	"fmt"
	"math"
	"strings"
)

// Severity orders validation findings from informational to fatal for a field.
type Severity int

const (
	SeverityInfo     Severity = iota // note, no action needed
	SeverityWarning                  // usable, flagged for the consumer
	SeverityError                    // field failed validation
	SeverityCritical                 // no usable value exists for the field
)

var severityNames = [...]string{"info", "warning", "error", "critical"}

func (s Severity) String() string {
	if s < SeverityInfo || s > SeverityCritical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(b []byte) error {
	parsed, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSeverity converts a name into a Severity.
func ParseSeverity(name string) (Severity, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, known := range severityNames {
		if n == known {
			return Severity(i), nil
		}
	}
	return SeverityInfo, fmt.Errorf("unknown severity %q", name)
}

// ValidationIssue is one finding about one field.
type ValidationIssue struct {
	Severity Severity `json:"severity"`
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Expected *float64 `json:"expected,omitempty"`
	Actual   *float64 `json:"actual,omitempty"`
	Source   string   `json:"source,omitempty"`
}

func (i ValidationIssue) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", i.Severity, i.Field, i.Message)
	if i.Expected != nil {
		fmt.Fprintf(&b, " (expected %.4g", *i.Expected)
		if i.Actual != nil {
			fmt.Fprintf(&b, ", actual %.4g", *i.Actual)
		}
		b.WriteString(")")
	} else if i.Actual != nil {
		fmt.Fprintf(&b, " (actual %.4g)", *i.Actual)
	}
	return b.String()
}

// ValidationResult aggregates the issues found for one validated domain.
type ValidationResult struct {
	Domain         string            `json:"domain,omitempty"`
	IsValid        bool              `json:"is_valid"`
	Confidence     float64           `json:"confidence"`
	SuggestedValue *float64          `json:"suggested_value,omitempty"`
	Issues         []ValidationIssue `json:"issues,omitempty"`
}

// NewValidationResult returns an empty, valid result for a domain.
func NewValidationResult(domain string) *ValidationResult {
	return &ValidationResult{Domain: domain, IsValid: true, Confidence: 1}
}

// Add appends an issue.
func (r *ValidationResult) Add(issue ValidationIssue) {
	r.Issues = append(r.Issues, issue)
}

// Addf appends an issue built from a format string.
func (r *ValidationResult) Addf(sev Severity, field, source, format string, args ...interface{}) {
	r.Add(ValidationIssue{Severity: sev, Field: field, Message: fmt.Sprintf(format, args...), Source: source})
}

// Finalize derives IsValid from the issue list and recomputes Confidence from the
// issue counts.
func (r *ValidationResult) Finalize() {
	r.IsValid = !HasBlocking(r.Issues)
	r.Confidence = ConfidenceFor(r.Issues)
}

// Counts tallies issues per severity.
type Counts struct {
	Info, Warning, Error, Critical int
}

// CountIssues tallies issues per severity.
func CountIssues(issues []ValidationIssue) Counts {
	var c Counts
	for _, i := range issues {
		switch i.Severity {
		case SeverityInfo:
			c.Info++
		case SeverityWarning:
			c.Warning++
		case SeverityError:
			c.Error++
		case SeverityCritical:
			c.Critical++
		}
	}
	return c
}

// HasBlocking reports whether any issue is error or critical.
func HasBlocking(issues []ValidationIssue) bool {
	for _, i := range issues {
		if i.Severity >= SeverityError {
			return true
		}
	}
	return false
}

// ConfidenceFor computes max(0, 1 - 0.1*warnings - 0.3*errors - 0.5*criticals).
// It never increases as issues are added.
func ConfidenceFor(issues []ValidationIssue) float64 {
	c := CountIssues(issues)
	conf := 1 - 0.1*float64(c.Warning) - 0.3*float64(c.Error) - 0.5*float64(c.Critical)
	return math.Max(0, conf)
}
