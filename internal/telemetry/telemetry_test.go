package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// These exercise the label-value builders and confirm With(...).Increment()
// does not panic against the registered metrics, mirroring pilot's own
// light-touch monitoring tests (pilot/pkg/proxy/envoy/v2/monitoring.go has no
// assertions beyond "does it record without error").
func TestCountersAcceptLabelValues(t *testing.T) {
	require.NotPanics(t, func() {
		StoreEvents.With(KindValue("pods"), EventValue("put")).Increment()
		RestDispatches.With(KindValue("vsvc"), EventValue("add")).Increment()
		RestFailures.With(KindValue("target"), ErrValue("transient")).Increment()
		XDSPushes.With(KindValue("listeners"), EventValue("add")).Increment()
		XDSAcks.With(KindValue("clusters")).Increment()
		XDSNacks.With(KindValue("clusters")).Increment()
	})
}

func TestGaugeIncrementDecrement(t *testing.T) {
	require.NotPanics(t, func() {
		XDSStreams.With(KindValue("listeners")).Increment()
		XDSStreams.With(KindValue("listeners")).Decrement()
	})
}
