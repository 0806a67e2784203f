// Package watch defines the boundary contract between the reconciliation
// core and the out-of-scope watcher/API-server layer: the
// event shapes Event Ingress consumes and the status-patch operation the
// Owner-Status Reporter drives. Nothing in this package watches a cluster;
// it only describes what the watcher hands in and what the core hands back.
package watch

import (
	"context"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/l7mp/l7mp-operator/internal/model"
)

// EventKind classifies an incoming watcher callback.
type EventKind int

const (
	EventAdded EventKind = iota
	EventResumed
	EventUpdated
	EventDeleted
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "Added"
	case EventResumed:
		return "Resumed"
	case EventUpdated:
		return "Updated"
	case EventDeleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// Event is one normalised watcher callback, already resolved past any
// delete tombstone (see Resolve) and tagged with the Kind the object
// belongs to.
type Event struct {
	Kind   EventKind
	Object model.Kind
	Body   *unstructured.Unstructured
}

// EventHandler is implemented by internal/ingress and driven by the
// out-of-scope watcher. HandleEvent must be idempotent: Resumed replays of
// objects already in the Store are expected on controller restart.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// StatusPatcher is implemented by the out-of-scope watcher/API-server
// client and driven by internal/status. PatchStatus merges status into the
// object identified by fqn; it must not replace the whole status
// sub-resource, matching the Kubernetes API server's strategic-merge
// behavior on the status subresource.
type StatusPatcher interface {
	PatchStatus(ctx context.Context, fqn model.FQN, status map[string]interface{}) error
}

// Tombstone is the generic shape of a delete notification that arrived
// after the watcher's local cache already evicted the object, mirroring
// client-go's cache.DeletedFinalStateUnknown. The watcher is expected to
// unwrap its own tombstone type into this one before calling HandleEvent,
// but Resolve is exported so internal/ingress call sites needing the last-
// known body for a delete can do so without a direct client-go import.
type Tombstone struct {
	Key  string
	Body *unstructured.Unstructured
}

// Resolve extracts an object body from obj, unwrapping a Tombstone if
// present. ok is false if obj is a Tombstone without a recoverable body -
// the caller should log and drop the event rather than reconcile against a
// nil object, matching controller.go's "Couldn't get object from tombstone"
// handling.
func Resolve(obj interface{}) (body *unstructured.Unstructured, ok bool) {
	switch v := obj.(type) {
	case *unstructured.Unstructured:
		return v, true
	case Tombstone:
		if v.Body == nil {
			return nil, false
		}
		return v.Body, true
	default:
		return nil, false
	}
}
