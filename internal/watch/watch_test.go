package watch

import (
	"testing"

	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func TestResolveDirectObject(t *testing.T) {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{"kind": "Pod"}}
	body, ok := Resolve(obj)
	require.True(t, ok)
	require.Same(t, obj, body)
}

func TestResolveTombstoneWithBody(t *testing.T) {
	inner := &unstructured.Unstructured{Object: map[string]interface{}{"kind": "Pod"}}
	body, ok := Resolve(Tombstone{Key: "default/p1", Body: inner})
	require.True(t, ok)
	require.Same(t, inner, body)
}

func TestResolveTombstoneWithoutBody(t *testing.T) {
	_, ok := Resolve(Tombstone{Key: "default/p1"})
	require.False(t, ok)
}

func TestResolveUnknownType(t *testing.T) {
	_, ok := Resolve("not an object")
	require.False(t, ok)
}

func TestEventKindString(t *testing.T) {
	cases := map[EventKind]string{
		EventAdded:   "Added",
		EventResumed: "Resumed",
		EventUpdated: "Updated",
		EventDeleted: "Deleted",
	}
	for kind, want := range cases {
		require.Equal(t, want, kind.String())
	}
}
