// Package store implements the Cluster State Store (C1): the authoritative
// in-memory snapshot of all watched objects, keyed by kind and fully
// qualified name. The Store is the only mutable shared state in the core;
// every other component (selector, resolver, planner, differ) operates on an
// immutable Snapshot taken from it, never on the Store itself.
package store

import (
	"sync"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/l7mp/l7mp-operator/internal/model"
	"github.com/l7mp/l7mp-operator/internal/telemetry"
)

// Snapshot is an immutable, point-in-time view of the Store. Components
// downstream of Event Ingress (selector, resolver, planner, differ) must
// never mutate a Snapshot's contents.
type Snapshot map[model.Kind]map[model.FQN]*unstructured.Unstructured

// Get returns the object for kind/fqn, or nil if absent.
func (s Snapshot) Get(kind model.Kind, fqn model.FQN) *unstructured.Unstructured {
	byFQN, ok := s[kind]
	if !ok {
		return nil
	}
	return byFQN[fqn]
}

// Store is the Cluster State Store: a mapping from kind to a mapping from
// FQN to the full object body as received from the API server.
type Store struct {
	mu      sync.RWMutex
	objects map[model.Kind]map[model.FQN]*unstructured.Unstructured
}

// New returns an empty Store.
func New() *Store {
	s := &Store{objects: make(map[model.Kind]map[model.FQN]*unstructured.Unstructured, len(model.AllKinds))}
	for _, k := range model.AllKinds {
		s.objects[k] = make(map[model.FQN]*unstructured.Unstructured)
	}
	return s
}

// Put inserts or replaces the object body under kind/fqn. The update
// handler is responsible for fully replacing the spec body: an Updated
// event's spec body fully replaces the previous spec, it is never merged.
func (s *Store) Put(kind model.Kind, fqn model.FQN, body *unstructured.Unstructured) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects[kind] == nil {
		s.objects[kind] = make(map[model.FQN]*unstructured.Unstructured)
	}
	s.objects[kind][fqn] = body
	telemetry.StoreEvents.With(telemetry.KindValue(string(kind)), telemetry.EventValue("put")).Increment()
}

// Delete removes the object under kind/fqn, if present.
func (s *Store) Delete(kind model.Kind, fqn model.FQN) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects[kind], fqn)
	telemetry.StoreEvents.With(telemetry.KindValue(string(kind)), telemetry.EventValue("delete")).Increment()
}

// Get returns a deep copy of the object under kind/fqn, or nil if absent.
func (s *Store) Get(kind model.Kind, fqn model.FQN) *unstructured.Unstructured {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[kind][fqn]
	if !ok {
		return nil
	}
	return obj.DeepCopy()
}

// Snapshot returns a deep-copied immutable view of the entire store, taken
// under a single critical section so the view is internally consistent.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Snapshot, len(s.objects))
	for kind, byFQN := range s.objects {
		cp := make(map[model.FQN]*unstructured.Unstructured, len(byFQN))
		for fqn, obj := range byFQN {
			cp[fqn] = obj.DeepCopy()
		}
		out[kind] = cp
	}
	return out
}
