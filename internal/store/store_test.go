package store

import (
	"testing"

	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/l7mp/l7mp-operator/internal/model"
)

func pod(name string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Pod",
		"metadata": map[string]interface{}{
			"namespace": "default",
			"name":      name,
		},
	}}
}

func TestStorePutGetDelete(t *testing.T) {
	s := New()
	fqn := model.NewFQN("v1", "Pod", "default", "a")

	require.Nil(t, s.Get(model.KindPods, fqn))

	s.Put(model.KindPods, fqn, pod("a"))
	got := s.Get(model.KindPods, fqn)
	require.NotNil(t, got)
	require.Equal(t, "a", got.GetName())

	s.Delete(model.KindPods, fqn)
	require.Nil(t, s.Get(model.KindPods, fqn))
}

func TestStoreGetReturnsDeepCopy(t *testing.T) {
	s := New()
	fqn := model.NewFQN("v1", "Pod", "default", "a")
	s.Put(model.KindPods, fqn, pod("a"))

	got := s.Get(model.KindPods, fqn)
	got.Object["metadata"].(map[string]interface{})["name"] = "mutated"

	again := s.Get(model.KindPods, fqn)
	require.Equal(t, "a", again.GetName(), "store object was mutated through a returned copy")
}

func TestStoreSnapshotIsIndependentOfLaterMutation(t *testing.T) {
	s := New()
	fqn := model.NewFQN("v1", "Pod", "default", "a")
	s.Put(model.KindPods, fqn, pod("a"))

	snap := s.Snapshot()
	s.Delete(model.KindPods, fqn)

	require.NotNil(t, snap.Get(model.KindPods, fqn), "snapshot should retain the object deleted from the store after it was taken")
}

func TestSnapshotGetUnknownKind(t *testing.T) {
	var snap Snapshot
	require.Nil(t, snap.Get(model.KindPods, model.FQN("missing")))
}
