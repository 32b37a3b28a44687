package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersAreRegistered(t *testing.T) {
	before := testutil.ToFloat64(WinsLogged.WithLabelValues("key_result"))
	WinsLogged.WithLabelValues("key_result").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(WinsLogged.WithLabelValues("key_result")))

	ReorderBatches.WithLabelValues("objective", "reconciled").Inc()
	assert.GreaterOrEqual(t, testutil.ToFloat64(ReorderBatches.WithLabelValues("objective", "reconciled")), 1.0)
}
