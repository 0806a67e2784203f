// Package telemetry registers the operator's Prometheus metrics through
// istio.io/pkg/monitoring, pilot's own wrapper over prometheus/client_golang
// (pilot/pkg/proxy/envoy/v2/monitoring.go,
// pilot/pkg/serviceregistry/kube/controller/controller.go's k8sEvents).
package telemetry

import (
	"istio.io/pkg/monitoring"
)

var (
	kindTag  = monitoring.MustCreateLabel("kind")
	eventTag = monitoring.MustCreateLabel("event")
	errTag   = monitoring.MustCreateLabel("err")

	// StoreEvents counts Cluster State Store mutations, mirroring
	// controller.go's pilot_k8s_reg_events.
	StoreEvents = monitoring.NewSum(
		"l7mp_store_events",
		"Store mutations by watched kind and event type.",
		monitoring.WithLabels(kindTag, eventTag),
	)

	// RestDispatches counts REST Dispatcher outcomes by action type and cmd.
	RestDispatches = monitoring.NewSum(
		"l7mp_rest_dispatches",
		"REST Dispatcher operations applied, by action type and command.",
		monitoring.WithLabels(kindTag, eventTag),
	)

	RestFailures = monitoring.NewSum(
		"l7mp_rest_failures",
		"REST Dispatcher operations that failed, by action type.",
		monitoring.WithLabels(kindTag, errTag),
	)

	// XDSPushes counts xDS resource pushes (add/delete) by kind.
	XDSPushes = monitoring.NewSum(
		"l7mp_xds_pushes",
		"xDS resources pushed to a Pod, by kind (listeners/clusters) and op.",
		monitoring.WithLabels(kindTag, eventTag),
	)

	// XDSAcks/XDSNacks count stream-level ack/nack outcomes.
	XDSAcks = monitoring.NewSum(
		"l7mp_xds_acks",
		"xDS delta responses acknowledged by the client, by kind.",
		monitoring.WithLabels(kindTag),
	)

	XDSNacks = monitoring.NewSum(
		"l7mp_xds_nacks",
		"xDS delta responses rejected by the client, by kind.",
		monitoring.WithLabels(kindTag),
	)

	// XDSStreams gauges the number of Pods currently holding an open
	// stream of the given kind, mirroring monitoring.go's pilot_xds gauge.
	XDSStreams = monitoring.NewGauge(
		"l7mp_xds_streams",
		"Open xDS streams, by kind.",
		monitoring.WithLabels(kindTag),
	)
)

// KindValue, EventValue and ErrValue build the label values for the tags
// registered above - exported so callers outside this package never need to
// reach into monitoring.Label internals directly.
func KindValue(v string) monitoring.LabelValue { return kindTag.Value(v) }
func EventValue(v string) monitoring.LabelValue { return eventTag.Value(v) }
func ErrValue(v string) monitoring.LabelValue   { return errTag.Value(v) }

func init() {
	monitoring.MustRegister(
		StoreEvents,
		RestDispatches,
		RestFailures,
		XDSPushes,
		XDSAcks,
		XDSNacks,
		XDSStreams,
	)
}
