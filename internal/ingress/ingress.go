// Package ingress implements the Event Ingress (C10): normalising
// create/resume/update/delete callbacks from the out-of-scope watcher into
// Store mutations, then handing a (before, after) snapshot pair to the
// reconcile pipeline.
package ingress

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/l7mp/l7mp-operator/internal/model"
	"github.com/l7mp/l7mp-operator/internal/store"
	"github.com/l7mp/l7mp-operator/internal/watch"
)

// podNotReadyDelay is the retry delay kopf's fail_if_pod_not_ready passed
// to kopf.TemporaryError in the original (l7mp.py: `delay=3`).
const podNotReadyDelay = 3 * time.Second

// Reconciler is driven by Ingress once a Store mutation has been applied.
// It is implemented by internal/reconcile.
type Reconciler interface {
	Reconcile(ctx context.Context, before, after store.Snapshot) error
}

// Ingress is the EventHandler the watcher drives (implements
// watch.EventHandler).
type Ingress struct {
	Store      *store.Store
	Reconciler Reconciler
}

func New(s *store.Store, r Reconciler) *Ingress {
	return &Ingress{Store: s, Reconciler: r}
}

var _ watch.EventHandler = (*Ingress)(nil)

// HandleEvent normalises one watcher callback and drives a reconcile.
// Added/Resumed/Updated mutate the Store then reconcile; Deleted removes
// from the Store then reconciles with the deleted body held only in
// `before`. Both match l7mp.py's create_fn/update_fn/delete_fn: compute
// `before` as a deep copy of the current Store, apply the mutation to the
// live Store, then diff the two snapshots (l7mp.py's `update(s_old, s, ...)`).
func (h *Ingress) HandleEvent(ctx context.Context, ev watch.Event) error {
	if ev.Body == nil {
		return fmt.Errorf("ingress: event for kind %s carries no object body", ev.Object)
	}

	if ev.Object == model.KindPods && ev.Kind != watch.EventDeleted {
		if err := rejectPodWithoutIP(ev.Body); err != nil {
			return err
		}
	}

	fqn := model.FQNOf(ev.Body)
	before := h.Store.Snapshot()

	switch ev.Kind {
	case watch.EventDeleted:
		h.Store.Delete(ev.Object, fqn)
	default:
		h.Store.Put(ev.Object, fqn, ev.Body)
	}

	after := h.Store.Snapshot()
	return h.Reconciler.Reconcile(ctx, before, after)
}

// rejectPodWithoutIP mirrors fail_if_pod_not_ready: a Pod create/resume/
// update without status.podIP is rejected with a short-delay transient
// error rather than being stored, so the reconcile pipeline never sees a
// Pod lacking the address every downstream dispatcher needs.
func rejectPodWithoutIP(pod *unstructured.Unstructured) error {
	podIP, found, err := unstructured.NestedString(pod.Object, "status", "podIP")
	if err != nil || !found || podIP == "" {
		return model.NewTransientError(
			fmt.Errorf("pod %s/%s has no status.podIP yet", pod.GetNamespace(), pod.GetName()),
			podNotReadyDelay,
		)
	}
	return nil
}

// ContainerReady reports whether the named container's ready flag is true
// inside a Pod's status.containerStatuses list, as decoded from an
// unstructured body.
func ContainerReady(pod *unstructured.Unstructured, container string) (ready, found bool) {
	statuses, ok, err := unstructured.NestedSlice(pod.Object, "status", "containerStatuses")
	if err != nil || !ok {
		return false, false
	}
	for _, raw := range statuses {
		cs, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := cs["name"].(string)
		if name != container {
			continue
		}
		r, _ := cs["ready"].(bool)
		return r, true
	}
	return false, false
}

// l7mpContainer is the name pod_status_fn in l7mp.py watches for.
const l7mpContainer = "l7mp"

// HandleContainerStatus implements the pod_status_fn field-watch handler:
// a ready->true transition on the l7mp container synthesises a full Added
// event for the Pod (the config was wiped on restart and must be
// reapplied); ready->false synthesises a full Deleted event (spec body
// unchanged) so every Action previously placed on that Pod is withdrawn.
func (h *Ingress) HandleContainerStatus(ctx context.Context, pod *unstructured.Unstructured) error {
	ready, found := ContainerReady(pod, l7mpContainer)
	if !found {
		return nil
	}
	kind := watch.EventDeleted
	if ready {
		kind = watch.EventAdded
	}
	return h.HandleEvent(ctx, watch.Event{Kind: kind, Object: model.KindPods, Body: pod})
}
