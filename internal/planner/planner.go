// Package planner implements the Action Planner (C4): computing, from a
// snapshot, the map Pod -> {actions} that should be applied to each Pod's
// data plane. Plan is a pure function - synchronous, no I/O, deterministic
// and side-effect free.
package planner

import (
	"sort"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/l7mp/l7mp-operator/internal/model"
	"github.com/l7mp/l7mp-operator/internal/resolver"
	"github.com/l7mp/l7mp-operator/internal/selector"
	"github.com/l7mp/l7mp-operator/internal/store"
)

// Plan computes the desired action set for every Pod in snap. The result is
// keyed by Pod FQN, then by action-id: the action's own FQN for
// vsvc/target/rule, "ep_"+name for dynamic endpoints.
func Plan(snap store.Snapshot) (map[model.FQN]map[string]model.Action, error) {
	actions := make(map[model.FQN]map[string]model.Action)

	podFQNs := sortedFQNs(snap[model.KindPods])
	for _, podFQN := range podFQNs {
		pod := snap[model.KindPods][podFQN]
		podActions := make(map[string]model.Action)

		vsvcs, err := selector.IterMatching(snap, model.KindVirtualServices, pod)
		if err != nil {
			return nil, err
		}
		sortByFQN(vsvcs)
		for _, vsvc := range vsvcs {
			fqn := model.FQNOf(vsvc)
			spec, _, _ := unstructured.NestedMap(vsvc.Object, "spec")
			podActions[string(fqn)] = model.Action{
				Type: model.ActionVsvc,
				ID:   string(fqn),
				Name: fqn,
				Spec: spec,
			}
		}

		targets := sortedObjects(snap[model.KindTargets])
		for _, target := range targets {
			targetFQN := model.FQNOf(target)
			extended, ok := resolver.ExtendTarget(snap, target)
			if !ok {
				// Unresolvable linkedVirtualService: the Target
				// contributes zero actions for any Pod.
				continue
			}
			sel, _ := extended["selector"].(map[string]interface{})
			matched, err := selector.Matches(snap, sel, pod)
			if err != nil {
				return nil, err
			}
			if !matched {
				continue
			}

			cluster, _ := extended["cluster"].(map[string]interface{})
			var endpoints []interface{}
			if cluster != nil {
				endpoints, _ = cluster["endpoints"].([]interface{})
			}
			static, dynamic, err := resolver.PartitionEndpoints(snap, targetFQN, endpoints)
			if err != nil {
				return nil, err
			}
			if cluster == nil {
				cluster = map[string]interface{}{}
			}
			cluster["endpoints"] = static
			extended["cluster"] = cluster

			podActions[string(targetFQN)] = model.Action{
				Type: model.ActionTarget,
				ID:   string(targetFQN),
				Name: targetFQN,
				Spec: extended,
			}
			for _, d := range dynamic {
				id := "ep_" + d.Name
				podActions[id] = model.Action{
					Type:   model.ActionDynamicEndpoint,
					ID:     id,
					Name:   model.FQN(d.Name),
					Spec:   d.Spec,
					Target: targetFQN,
				}
			}
		}

		rules, err := selector.IterMatching(snap, model.KindRules, pod)
		if err != nil {
			return nil, err
		}
		sortByFQN(rules)
		for _, rule := range rules {
			fqn := model.FQNOf(rule)
			spec, _, _ := unstructured.NestedMap(rule.Object, "spec")
			podActions[string(fqn)] = model.Action{
				Type: model.ActionRule,
				ID:   string(fqn),
				Name: fqn,
				Spec: spec,
			}
		}

		actions[podFQN] = podActions
	}

	return actions, nil
}

func sortedFQNs(m map[model.FQN]*unstructured.Unstructured) []model.FQN {
	out := make([]model.FQN, 0, len(m))
	for fqn := range m {
		out = append(out, fqn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedObjects(m map[model.FQN]*unstructured.Unstructured) []*unstructured.Unstructured {
	fqns := sortedFQNs(m)
	out := make([]*unstructured.Unstructured, len(fqns))
	for i, fqn := range fqns {
		out[i] = m[fqn]
	}
	return out
}

func sortByFQN(objs []*unstructured.Unstructured) {
	sort.Slice(objs, func(i, j int) bool {
		return model.FQNOf(objs[i]) < model.FQNOf(objs[j])
	})
}
