package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeverityMask(t *testing.T) {
	tests := []struct {
		in   string
		want Severity
	}{
		{"", DefaultFailureLevel},
		{"none", SeverityNone},
		{"all", SeverityAll},
		{"error", SeverityError},
		{"warning|error", SeverityWarning | SeverityError},
		{"warn, error", SeverityWarning | SeverityError},
		{"all,-deprecated", SeverityNotice | SeverityWarning | SeverityError},
		{"ERROR|Notice", SeverityError | SeverityNotice},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSeverityMask(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSeverityMaskUnknown(t *testing.T) {
	_, err := ParseSeverityMask("warning|fatal")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fatal")
}

func TestSeverityStringRoundTrip(t *testing.T) {
	for _, sev := range []Severity{SeverityNone, SeverityAll, SeverityError, DefaultFailureLevel, SeverityNotice | SeverityDeprecated} {
		parsed, err := ParseSeverityMask(sev.String())
		require.NoError(t, err)
		assert.Equal(t, sev, parsed, sev.String())
	}
}

func TestEscalates(t *testing.T) {
	assert.True(t, Escalates(DefaultFailureLevel, SeverityWarning))
	assert.True(t, Escalates(DefaultFailureLevel, SeverityError))
	assert.False(t, Escalates(DefaultFailureLevel, SeverityNotice))
	assert.False(t, Escalates(DefaultFailureLevel, SeverityDeprecated))
	assert.False(t, Escalates(SeverityNone, SeverityError))
}

func TestEnvReport(t *testing.T) {
	env := NewEnv(Job{ID: "job-1", Name: "report"}, SeverityError)

	require.NoError(t, env.Report(SeverityWarning, "disk at %d%%", 91))
	err := env.Report(SeverityError, "disk full")
	require.Error(t, err)

	var sevErr *EscalationError
	require.ErrorAs(t, err, &sevErr)
	assert.Equal(t, SeverityError, sevErr.Diagnostic.Severity)
	assert.Equal(t, "disk full", sevErr.Diagnostic.Message)

	assert.Equal(t, []string{"[warning] disk at 91%", "[error] disk full"}, env.Messages())
	require.Len(t, env.Escalated(), 1)
	assert.Equal(t, "job-1", env.Job().ID)
}
