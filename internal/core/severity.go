package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Severity is a bitmask of diagnostic severities a job body can report.
type Severity uint32

const (
	SeverityNotice Severity = 1 << iota
	SeverityWarning
	SeverityDeprecated
	SeverityError

	SeverityNone Severity = 0
	SeverityAll           = SeverityNotice | SeverityWarning | SeverityDeprecated | SeverityError
)

// DefaultFailureLevel escalates everything except notices and deprecations.
const DefaultFailureLevel = SeverityWarning | SeverityError

var severityNames = []struct {
	sev  Severity
	name string
}{
	{SeverityNotice, "notice"},
	{SeverityWarning, "warning"},
	{SeverityDeprecated, "deprecated"},
	{SeverityError, "error"},
}

func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityAll:
		return "all"
	}
	var parts []string
	for _, n := range severityNames {
		if s&n.sev != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseSeverityMask parses masks such as "warning|error", "all",
// "all,-deprecated" or "none". Names may be separated by '|' or ','; a leading
// '-' removes a severity from the mask built so far.
func ParseSeverityMask(value string) (Severity, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultFailureLevel, nil
	}
	var mask Severity
	tokens := strings.FieldsFunc(value, func(r rune) bool { return r == '|' || r == ',' })
	for _, tok := range tokens {
		tok = strings.ToLower(strings.TrimSpace(tok))
		remove := strings.HasPrefix(tok, "-")
		tok = strings.TrimPrefix(tok, "-")
		sev, err := parseSeverityName(tok)
		if err != nil {
			return 0, err
		}
		if remove {
			mask &^= sev
		} else {
			mask |= sev
		}
	}
	return mask, nil
}

func parseSeverityName(name string) (Severity, error) {
	switch name {
	case "all":
		return SeverityAll, nil
	case "none":
		return SeverityNone, nil
	case "warn":
		return SeverityWarning, nil
	}
	for _, n := range severityNames {
		if n.name == name {
			return n.sev, nil
		}
	}
	return 0, errors.Newf("unknown severity %q", name)
}

// Escalates reports whether a diagnostic of severity sev must fail the run
// under the configured failure level.
func Escalates(level, sev Severity) bool {
	return level&sev != 0
}

// Diagnostic is a non-fatal condition reported by a job body.
type Diagnostic struct {
	Severity Severity
	Message  string
	At       time.Time
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("[%s] %s", d.Severity, d.Message)
}

// EscalationError is a diagnostic escalated to a failure.
type EscalationError struct {
	Diagnostic Diagnostic
}

func (e *EscalationError) Error() string {
	return fmt.Sprintf("%s escalated to failure: %s", e.Diagnostic.Severity, e.Diagnostic.Message)
}
