// Package model holds the types shared across the reconciliation core: the
// fully-qualified name scheme, the Kind enum for watched object types, the
// Action/Op vocabulary produced by the planner and differ, and the error
// kinds the core uses to signal transient/permanent failure up to the event
// ingress and dispatchers.
package model

import (
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Kind identifies a watched object type. The reconciliation core only ever
// deals with these five; the watcher (out of scope) is the one responsible
// for actually subscribing to the corresponding Kubernetes resources.
type Kind string

const (
	KindPods            Kind = "pods"
	KindEndpoints       Kind = "endpoints"
	KindVirtualServices Kind = "virtualservices"
	KindTargets         Kind = "targets"
	KindRules           Kind = "rules"
)

// AllKinds lists every watched kind in a stable order, useful for iterating
// a Store/Snapshot deterministically.
var AllKinds = []Kind{KindPods, KindEndpoints, KindVirtualServices, KindTargets, KindRules}

// FQN is the canonical object key: "/<apiVersion>/<kind>/<namespace>/<name>".
type FQN string

// NewFQN builds the canonical key for an object identified by its apiVersion,
// kind, namespace and name.
func NewFQN(apiVersion, kind, namespace, name string) FQN {
	return FQN(fmt.Sprintf("/%s/%s/%s/%s", apiVersion, kind, namespace, name))
}

// FQNOf derives the canonical FQN from an object's own apiVersion/kind/
// metadata.namespace/metadata.name fields, mirroring the python original's
// get_fqn().
func FQNOf(obj *unstructured.Unstructured) FQN {
	return NewFQN(obj.GetAPIVersion(), obj.GetKind(), obj.GetNamespace(), obj.GetName())
}

// ActionType is the kind of data-plane object an Action configures.
type ActionType string

const (
	ActionVsvc            ActionType = "vsvc"
	ActionTarget          ActionType = "target"
	ActionDynamicEndpoint ActionType = "dynamic_endpoint"
	ActionRule            ActionType = "rule"
)

// Action is a minimal unit of intended data-plane state on a specific Pod.
// Action is never persisted; it is always a pure function of a Snapshot (see
// the planner package). Two actions are equal iff their Type, Name and
// Target match and their Spec contents are structurally equal - callers
// should compare via reflect.DeepEqual or go-cmp, never by pointer.
type Action struct {
	Type ActionType
	// ID is the action's identity within a Pod's action set: the object's
	// FQN for vsvc/target/rule, "ep_"+name for dynamic endpoints.
	ID string
	// Name is the FQN of the action's own object (vsvc/target/rule) or,
	// for a dynamic endpoint, the synthesized "<target-fqn>/<podIP>" name.
	Name FQN
	Spec map[string]interface{}
	// Target is set only for ActionDynamicEndpoint: the FQN of the
	// parent Target.
	Target FQN
}

// Cmd is the command the differ assigns to a changed action.
type Cmd string

const (
	CmdAdd    Cmd = "add"
	CmdChange Cmd = "change"
	CmdDelete Cmd = "delete"
)

// TransientError signals a failure that should cause the triggering
// reconcile to be retried after RetryAfter. Examples: a Pod without a
// podIP yet, a REST transport failure against the proxy admin API.
type TransientError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v (retry after %s)", e.Err, e.RetryAfter)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as a TransientError with the given retry delay.
func NewTransientError(err error, retryAfter time.Duration) *TransientError {
	return &TransientError{Err: err, RetryAfter: retryAfter}
}

// PermanentError signals a failure that must not be retried: an unknown
// selector clause, an unknown match operator, or any other malformed input
// that will never succeed on replay.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// NewPermanentError wraps err as a PermanentError.
func NewPermanentError(err error) *PermanentError {
	return &PermanentError{Err: err}
}
