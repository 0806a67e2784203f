package planner

import (
	"testing"

	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/l7mp/l7mp-operator/internal/model"
	"github.com/l7mp/l7mp-operator/internal/store"
)

func unstr(apiVersion, kind, namespace, name string, spec map[string]interface{}) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": apiVersion,
		"kind":       kind,
		"metadata":   map[string]interface{}{"namespace": namespace, "name": name},
		"spec":       spec,
	}}
}

func podWithLabels(name string, labels map[string]interface{}) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Pod",
		"metadata":   map[string]interface{}{"namespace": "default", "name": name, "labels": labels},
		"status":     map[string]interface{}{"podIP": "10.0.0." + name},
	}}
}

func TestPlanMatchesVsvcTargetAndRuleToSelectedPod(t *testing.T) {
	pod := podWithLabels("1", map[string]interface{}{"app": "web"})
	vsvc := unstr("l7mp.io/v1", "VirtualService", "default", "v1", map[string]interface{}{
		"selector": map[string]interface{}{"matchLabels": map[string]interface{}{"app": "web"}},
		"listener": map[string]interface{}{"spec": map[string]interface{}{"port": int64(8080)}},
	})
	target := unstr("l7mp.io/v1", "Target", "default", "t1", map[string]interface{}{
		"selector": map[string]interface{}{"matchLabels": map[string]interface{}{"app": "web"}},
		"cluster":  map[string]interface{}{"endpoints": []interface{}{}},
	})
	rule := unstr("l7mp.io/v1", "Rule", "default", "r1", map[string]interface{}{
		"selector": map[string]interface{}{"matchLabels": map[string]interface{}{"app": "web"}},
	})

	snap := store.Snapshot{
		model.KindPods:            {model.FQNOf(pod): pod},
		model.KindVirtualServices: {model.FQNOf(vsvc): vsvc},
		model.KindTargets:         {model.FQNOf(target): target},
		model.KindRules:           {model.FQNOf(rule): rule},
	}

	plan, err := Plan(snap)
	require.NoError(t, err)

	podActions := plan[model.FQNOf(pod)]
	require.Len(t, podActions, 3)
	require.Equal(t, model.ActionVsvc, podActions[string(model.FQNOf(vsvc))].Type)
	require.Equal(t, model.ActionTarget, podActions[string(model.FQNOf(target))].Type)
	require.Equal(t, model.ActionRule, podActions[string(model.FQNOf(rule))].Type)
}

func TestPlanUnselectedPodGetsNoActions(t *testing.T) {
	pod := podWithLabels("1", map[string]interface{}{"app": "other"})
	vsvc := unstr("l7mp.io/v1", "VirtualService", "default", "v1", map[string]interface{}{
		"selector": map[string]interface{}{"matchLabels": map[string]interface{}{"app": "web"}},
	})
	snap := store.Snapshot{
		model.KindPods:            {model.FQNOf(pod): pod},
		model.KindVirtualServices: {model.FQNOf(vsvc): vsvc},
	}
	plan, err := Plan(snap)
	require.NoError(t, err)
	require.Empty(t, plan[model.FQNOf(pod)])
}

func TestPlanIsDeterministicAcrossRepeatedCalls(t *testing.T) {
	pod := podWithLabels("1", map[string]interface{}{"app": "web"})
	vsvc := unstr("l7mp.io/v1", "VirtualService", "default", "v1", map[string]interface{}{
		"selector": map[string]interface{}{"matchLabels": map[string]interface{}{"app": "web"}},
	})
	snap := store.Snapshot{
		model.KindPods:            {model.FQNOf(pod): pod},
		model.KindVirtualServices: {model.FQNOf(vsvc): vsvc},
	}
	first, err := Plan(snap)
	require.NoError(t, err)
	second, err := Plan(snap)
	require.NoError(t, err)
	require.Len(t, second[model.FQNOf(pod)], len(first[model.FQNOf(pod)]), "expected Plan to be a pure function of the snapshot")
	require.Equal(t, first, second, "expected Plan to be a pure function of the snapshot")
}

func TestPlanTargetWithUnresolvableLinkContributesNoActions(t *testing.T) {
	pod := podWithLabels("1", map[string]interface{}{"app": "web"})
	target := unstr("l7mp.io/v1", "Target", "default", "t1", map[string]interface{}{
		"linkedVirtualService": "missing",
		"selector":             map[string]interface{}{"matchLabels": map[string]interface{}{"app": "web"}},
	})
	snap := store.Snapshot{
		model.KindPods:    {model.FQNOf(pod): pod},
		model.KindTargets: {model.FQNOf(target): target},
	}
	plan, err := Plan(snap)
	require.NoError(t, err)
	require.Empty(t, plan[model.FQNOf(pod)], "expected Target with an unresolvable link to contribute zero actions")
}
