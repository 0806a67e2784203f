package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func TestNewFQNShape(t *testing.T) {
	fqn := NewFQN("l7mp.io/v1", "Target", "default", "t1")
	require.Equal(t, FQN("/l7mp.io/v1/Target/default/t1"), fqn)
}

func TestFQNOfDerivesFromObject(t *testing.T) {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "l7mp.io/v1",
		"kind":       "Target",
		"metadata":   map[string]interface{}{"namespace": "ns1", "name": "t1"},
	}}
	require.Equal(t, NewFQN("l7mp.io/v1", "Target", "ns1", "t1"), FQNOf(obj))
}

func TestTransientErrorUnwrapAndMessage(t *testing.T) {
	inner := errors.New("boom")
	err := NewTransientError(inner, 3*time.Second)
	require.ErrorIs(t, err, inner)
	require.NotEmpty(t, err.Error())
}

func TestPermanentErrorUnwrapAndMessage(t *testing.T) {
	inner := errors.New("bad selector")
	err := NewPermanentError(inner)
	require.ErrorIs(t, err, inner)
}
