// Package reconcile wires C1-C10 together: it runs the pure Planner/Differ
// core over a snapshot pair and fans the resulting ops out to the REST and
// xDS dispatchers, playing the glue role `update()`/`call()` play in the
// original (l7mp.py), generalising pilot's per-key `Controller.queue`
// serialization to one mutex per Pod.
package reconcile

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/l7mp/l7mp-operator/internal/differ"
	"github.com/l7mp/l7mp-operator/internal/dispatch/rest"
	"github.com/l7mp/l7mp-operator/internal/dispatch/xds"
	"github.com/l7mp/l7mp-operator/internal/model"
	"github.com/l7mp/l7mp-operator/internal/planner"
	"github.com/l7mp/l7mp-operator/internal/store"
)

// Reconciler runs Plan(before)/Plan(after)/Diff, then dispatches the
// resulting ops to both sinks. At most one reconcile applies operations for
// a given Pod at a time, so a mutex is held per Pod FQN for the duration of
// its slice of ops; distinct Pods proceed concurrently.
type Reconciler struct {
	Rest *rest.Dispatcher
	XDS  *xds.Dispatcher

	mu       sync.Mutex
	podLocks map[model.FQN]*sync.Mutex
}

func New(restDispatcher *rest.Dispatcher, xdsDispatcher *xds.Dispatcher) *Reconciler {
	return &Reconciler{
		Rest:     restDispatcher,
		XDS:      xdsDispatcher,
		podLocks: make(map[model.FQN]*sync.Mutex),
	}
}

// podWork is one Pod's share of a reconcile: the ops to dispatch and,
// if the Pod itself vanished between before and after, whether its xDS
// streams must be explicitly closed.
type podWork struct {
	ops     []differ.Op
	removed bool
}

// Reconcile implements ingress.Reconciler. It computes the old/new action
// plans, diffs them, and dispatches every op grouped by Pod under that
// Pod's lock - mirroring the original's per-reconcile `kopf.execute(fns)`
// fan-out, but serialized per Pod instead of run as one flat task set.
func (r *Reconciler) Reconcile(ctx context.Context, before, after store.Snapshot) error {
	oldPlan, err := planner.Plan(before)
	if err != nil {
		return err
	}
	newPlan, err := planner.Plan(after)
	if err != nil {
		return err
	}

	ops := differ.Diff(oldPlan, newPlan)

	work := make(map[model.FQN]*podWork)
	podOrder := make([]model.FQN, 0)
	order := func(pod model.FQN) *podWork {
		w, ok := work[pod]
		if !ok {
			w = &podWork{}
			work[pod] = w
			podOrder = append(podOrder, pod)
		}
		return w
	}
	for _, op := range ops {
		w := order(op.Pod)
		w.ops = append(w.ops, op)
	}

	// A Pod present in `before` but gone from `after` (deleted, or its
	// l7mp container flipped not-ready and Event Ingress synthesised a
	// delete) needs its xDS streams closed outright, on top of whatever
	// per-action delete ops the diff already produced.
	for fqn := range before[model.KindPods] {
		if after[model.KindPods][fqn] == nil {
			order(fqn).removed = true
		}
	}

	if len(podOrder) == 0 {
		return nil
	}

	// Dispatchers look up each op's Pod object by FQN in the snapshot
	// passed to Dispatch. A removed Pod is absent from `after`, so a
	// merged view (after, falling back to before) is used for lookups -
	// without it, delete ops for a vanished Pod could never find its
	// UID/podIP.
	lookup := mergePods(before, after)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
	)
	for _, pod := range podOrder {
		pod, w := pod, work[pod]
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock := r.lockFor(pod)
			lock.Lock()
			defer lock.Unlock()

			if err := r.dispatchPod(ctx, lookup, newPlan, pod, w); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return errs.ErrorOrNil()
}

// dispatchPod fans one Pod's ops to both sinks. The REST path is
// synchronous and may return an error the caller should surface and retry
// later; the xDS path only returns an error for encoding failures, never
// for transport - its stream loop handles its own retries via
// reconnection.
func (r *Reconciler) dispatchPod(ctx context.Context, snap store.Snapshot, newPlan map[model.FQN]map[string]model.Action, pod model.FQN, w *podWork) error {
	var errs *multierror.Error
	if r.Rest != nil && len(w.ops) > 0 {
		if err := r.Rest.Dispatch(ctx, snap, w.ops); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if r.XDS != nil {
		if len(w.ops) > 0 {
			if err := r.XDS.Dispatch(ctx, snap, newPlan, w.ops); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		if w.removed {
			if obj := snap[model.KindPods][pod]; obj != nil {
				if uid := string(obj.GetUID()); uid != "" {
					r.XDS.PodRemoved(uid)
				}
			}
		}
	}
	return errs.ErrorOrNil()
}

func (r *Reconciler) lockFor(pod model.FQN) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.podLocks[pod]
	if !ok {
		lock = &sync.Mutex{}
		r.podLocks[pod] = lock
	}
	return lock
}

// mergePods returns a Snapshot identical to after except that Pods present
// in before but missing from after are reinstated, so dispatchers can still
// resolve a deleted Pod's UID/podIP while processing its delete ops.
func mergePods(before, after store.Snapshot) store.Snapshot {
	merged := make(store.Snapshot, len(after))
	for kind, byFQN := range after {
		cp := make(map[model.FQN]*unstructured.Unstructured, len(byFQN))
		for fqn, obj := range byFQN {
			cp[fqn] = obj
		}
		merged[kind] = cp
	}
	if merged[model.KindPods] == nil {
		merged[model.KindPods] = make(map[model.FQN]*unstructured.Unstructured)
	}
	for fqn, obj := range before[model.KindPods] {
		if _, ok := merged[model.KindPods][fqn]; !ok {
			merged[model.KindPods][fqn] = obj
		}
	}
	return merged
}
