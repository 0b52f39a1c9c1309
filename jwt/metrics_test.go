package jwt

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, m *Metrics, result string) float64 {
	t.Helper()

	var out dto.Metric
	require.NoError(t, m.validationsTotal.WithLabelValues(result).Write(&out))

	return out.GetCounter().GetValue()
}

func TestMetrics_RecordValidation(t *testing.T) {
	m := GetMetrics()

	before := counterValue(t, m, "success")
	m.RecordValidation("success", 5*time.Millisecond)
	m.RecordValidation("success", 7*time.Millisecond)
	m.RecordValidation("failure", time.Millisecond)

	assert.Equal(t, before+2, counterValue(t, m, "success"))

	// GetMetrics is a process-wide singleton.
	assert.Same(t, m, GetMetrics())

	// A nil receiver is a no-op rather than a panic.
	var nilMetrics *Metrics
	nilMetrics.RecordValidation("success", time.Millisecond)
}
