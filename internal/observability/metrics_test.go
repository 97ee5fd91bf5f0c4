package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
)

// TestValidateLabelHygiene_NoCoreInstrumentCarriesAForbiddenLabel is the
// package's static label-hygiene guard: no required instrument may carry
// symbol, order_id, key, or client_id as a label key.
func TestValidateLabelHygiene_NoCoreInstrumentCarriesAForbiddenLabel(t *testing.T) {
	violations := ValidateLabelHygiene(RequiredInstruments)
	assert.Empty(t, violations, "forbidden label found on a required instrument: %v", violations)
}

func TestNewRegistry_RegistersEveryCounterWithoutError(t *testing.T) {
	provider := metric.NewMeterProvider()
	meter := provider.Meter("gridcore/test")

	r, err := NewRegistry(meter)
	require.NoError(t, err)
	require.NotNil(t, r.ReconcileMismatch)
	require.NotNil(t, r.MLInferenceLatencyMs)
}
