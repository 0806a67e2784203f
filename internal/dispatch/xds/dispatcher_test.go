package xds

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"

	"github.com/l7mp/l7mp-operator/internal/differ"
	"github.com/l7mp/l7mp-operator/internal/model"
	"github.com/l7mp/l7mp-operator/internal/store"
)

func podWithUID(uid string) *unstructured.Unstructured {
	pod := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Pod",
		"metadata":   map[string]interface{}{"namespace": "default", "name": "p1"},
	}}
	pod.SetUID(types.UID(uid))
	return pod
}

func TestDispatchVsvcAddPushesListener(t *testing.T) {
	server := NewServer()
	d := NewDispatcher(server)

	uid := uuid.NewString()
	pod := podWithUID(uid)
	podFQN := model.FQNOf(pod)
	vsvcFQN := model.FQN("/l7mp.io/v1/VirtualService/default/v1")
	snap := store.Snapshot{model.KindPods: {podFQN: pod}}

	ops := []differ.Op{{
		Pod: podFQN, ActionType: model.ActionVsvc, Cmd: model.CmdAdd,
		New: model.Action{
			Type: model.ActionVsvc, Name: vsvcFQN,
			Spec: map[string]interface{}{"listener": map[string]interface{}{"spec": map[string]interface{}{"port": int64(8080)}}},
		},
	}}

	require.NoError(t, d.Dispatch(context.Background(), snap, nil, ops))

	st := server.listeners.get(uid)
	o, ok := st.dequeue(context.Background())
	require.True(t, ok, "expected a listener op to be enqueued")
	require.Equal(t, opAdd, o.kind)
	require.Equal(t, listenerName(vsvcFQN), o.name)
}

func TestDispatchVsvcDeletePushesListenerDelete(t *testing.T) {
	server := NewServer()
	d := NewDispatcher(server)

	uid := uuid.NewString()
	pod := podWithUID(uid)
	podFQN := model.FQNOf(pod)
	vsvcFQN := model.FQN("/l7mp.io/v1/VirtualService/default/v1")
	snap := store.Snapshot{model.KindPods: {podFQN: pod}}

	ops := []differ.Op{{
		Pod: podFQN, ActionType: model.ActionVsvc, Cmd: model.CmdDelete,
		Old: model.Action{Type: model.ActionVsvc, Name: vsvcFQN},
	}}

	require.NoError(t, d.Dispatch(context.Background(), snap, nil, ops))

	o, ok := server.listeners.get(uid).dequeue(context.Background())
	require.True(t, ok)
	require.Equal(t, opDelete, o.kind)
	require.Equal(t, listenerName(vsvcFQN), o.name)
}

func TestDispatchTargetAddTriggersClusterResend(t *testing.T) {
	server := NewServer()
	d := NewDispatcher(server)

	uid := uuid.NewString()
	pod := podWithUID(uid)
	podFQN := model.FQNOf(pod)
	targetFQN := model.FQN("/l7mp.io/v1/Target/default/t1")
	snap := store.Snapshot{model.KindPods: {podFQN: pod}}

	targetAction := model.Action{
		Type: model.ActionTarget, Name: targetFQN,
		Spec: map[string]interface{}{
			"cluster": map[string]interface{}{
				"spec": map[string]interface{}{"port": int64(9000)},
				"endpoints": []interface{}{
					map[string]interface{}{"spec": map[string]interface{}{"address": "10.0.0.5", "port": int64(9000)}},
				},
			},
		},
	}
	newActions := map[model.FQN]map[string]model.Action{podFQN: {string(targetFQN): targetAction}}

	ops := []differ.Op{{Pod: podFQN, ActionType: model.ActionTarget, Cmd: model.CmdAdd, Name: targetFQN, New: targetAction}}

	require.NoError(t, d.Dispatch(context.Background(), snap, newActions, ops))

	st := server.clusters.get(uid)
	first, ok := st.dequeue(context.Background())
	require.True(t, ok)
	require.Equal(t, opDelete, first.kind, "expected resendCluster to delete before pushing")

	second, ok := st.dequeue(context.Background())
	require.True(t, ok)
	require.Equal(t, opAdd, second.kind)
	require.Equal(t, string(targetFQN), second.name)
}

func TestDispatchDynamicEndpointTouchesParentTargetCluster(t *testing.T) {
	server := NewServer()
	d := NewDispatcher(server)

	uid := uuid.NewString()
	pod := podWithUID(uid)
	podFQN := model.FQNOf(pod)
	targetFQN := model.FQN("/l7mp.io/v1/Target/default/t1")
	snap := store.Snapshot{model.KindPods: {podFQN: pod}}

	targetAction := model.Action{
		Type: model.ActionTarget, Name: targetFQN,
		Spec: map[string]interface{}{"cluster": map[string]interface{}{"spec": map[string]interface{}{"port": int64(9000)}}},
	}
	dynAction := model.Action{
		Type: model.ActionDynamicEndpoint, Name: targetFQN + "/10.0.0.9", Target: targetFQN,
		Spec: map[string]interface{}{"address": "10.0.0.9"},
	}
	newActions := map[model.FQN]map[string]model.Action{podFQN: {
		string(targetFQN): targetAction,
		"ep_1":            dynAction,
	}}

	ops := []differ.Op{{
		Pod: podFQN, ActionType: model.ActionDynamicEndpoint, Cmd: model.CmdAdd,
		New: dynAction,
	}}

	require.NoError(t, d.Dispatch(context.Background(), snap, newActions, ops))

	st := server.clusters.get(uid)
	st.dequeue(context.Background()) // delete
	push, ok := st.dequeue(context.Background())
	require.True(t, ok)
	require.Equal(t, opAdd, push.kind, "expected a cluster push bundling the dynamic endpoint")
}

func TestDispatchSkipsOpsForUnknownOrUIDlessPod(t *testing.T) {
	server := NewServer()
	d := NewDispatcher(server)

	snap := store.Snapshot{model.KindPods: {}}
	ops := []differ.Op{{Pod: "missing", ActionType: model.ActionVsvc, Cmd: model.CmdAdd}}
	require.NoError(t, d.Dispatch(context.Background(), snap, nil, ops))
}

func TestPodRemovedClosesListenerAndClusterStreams(t *testing.T) {
	server := NewServer()
	d := NewDispatcher(server)

	uid := uuid.NewString()
	server.PushListener(uid, "l1", nil)
	d.PodRemoved(uid)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := server.listeners.get(uid).dequeue(ctx)
	require.False(t, ok, "expected the recreated stream after Close to start empty")
	_, ok = server.clusters.get(uid).dequeue(ctx)
	require.False(t, ok, "expected the recreated cluster stream after Close to start empty")
}
