// Package selector implements the Selector Engine (C2): evaluation of the
// label/expression/field/namespace/service selector clauses a VirtualService,
// Target, or Rule spec uses to pick Pods out of a Snapshot.
//
// The top-level selector is a conjunction: every clause present must match.
// Clauses are dispatched through a closed, compile-time-registered table
// instead of the python original's globals()[fn] string dispatch - an
// unknown clause key is a model.PermanentError, not a runtime lookup miss.
package selector

import (
	"fmt"
	"sort"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/l7mp/l7mp-operator/internal/model"
	"github.com/l7mp/l7mp-operator/internal/store"
)

// clauseFunc evaluates one top-level selector clause against a Pod.
type clauseFunc func(snap store.Snapshot, arg interface{}, pod *unstructured.Unstructured) (bool, error)

var clauses = map[string]clauseFunc{
	"matchLabels":      matchLabels,
	"matchExpressions": matchExpressions,
	"matchFields":      matchFields,
	"matchNamespace":   matchNamespace,
	"matchService":     matchService,
}

// Matches evaluates selector (a decoded JSON object, e.g. the "selector"
// field of a VirtualService/Target/Rule spec) against pod. An empty selector
// matches every Pod. An unknown top-level clause or match operator is a
// model.PermanentError.
func Matches(snap store.Snapshot, selector map[string]interface{}, pod *unstructured.Unstructured) (bool, error) {
	// Sorted iteration keeps clause evaluation order deterministic,
	// which matters only for which error surfaces first when multiple
	// clauses are malformed - the match result itself is conjunctive and
	// order-independent.
	keys := make([]string, 0, len(selector))
	for k := range selector {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fn, ok := clauses[k]
		if !ok {
			return false, model.NewPermanentError(fmt.Errorf("selector not supported: %s", k))
		}
		ok2, err := fn(snap, selector[k], pod)
		if err != nil {
			return false, err
		}
		if !ok2 {
			return false, nil
		}
	}
	return true, nil
}

func podLabels(pod *unstructured.Unstructured) map[string]string {
	labels, _, _ := unstructured.NestedStringMap(pod.Object, "metadata", "labels")
	return labels
}

func matchLabels(_ store.Snapshot, arg interface{}, pod *unstructured.Unstructured) (bool, error) {
	want, ok := toStringMap(arg)
	if !ok {
		return false, model.NewPermanentError(fmt.Errorf("matchLabels: expected a map, got %T", arg))
	}
	labels := podLabels(pod)
	for k, v := range want {
		if labels[k] != v {
			return false, nil
		}
	}
	return true, nil
}

func matchExpressions(_ store.Snapshot, arg interface{}, pod *unstructured.Unstructured) (bool, error) {
	exprs, ok := arg.([]interface{})
	if !ok {
		return false, model.NewPermanentError(fmt.Errorf("matchExpressions: expected a list, got %T", arg))
	}
	labels := podLabels(pod)
	for _, e := range exprs {
		expr, ok := e.(map[string]interface{})
		if !ok {
			return false, model.NewPermanentError(fmt.Errorf("matchExpressions: expected an object entry, got %T", e))
		}
		key, _ := expr["key"].(string)
		op, _ := expr["operator"].(string)
		values := toStringSlice(expr["values"])
		var value *string
		if v, present := labels[key]; present {
			value = &v
		}
		match, err := evalOperator(value, op, values)
		if err != nil {
			return false, err
		}
		if !match {
			return false, nil
		}
	}
	return true, nil
}

func matchFields(_ store.Snapshot, arg interface{}, pod *unstructured.Unstructured) (bool, error) {
	exprs, ok := arg.([]interface{})
	if !ok {
		return false, model.NewPermanentError(fmt.Errorf("matchFields: expected a list, got %T", arg))
	}
	for _, e := range exprs {
		expr, ok := e.(map[string]interface{})
		if !ok {
			return false, model.NewPermanentError(fmt.Errorf("matchFields: expected an object entry, got %T", e))
		}
		key, _ := expr["key"].(string)
		op, _ := expr["operator"].(string)
		values := toStringSlice(expr["values"])

		fields := splitDotted(key)
		val, found, _ := unstructured.NestedFieldNoCopy(pod.Object, fields...)
		var value *string
		if found {
			s := fmt.Sprintf("%v", val)
			value = &s
		}
		match, err := evalOperator(value, op, values)
		if err != nil {
			return false, err
		}
		if !match {
			return false, nil
		}
	}
	return true, nil
}

func matchNamespace(_ store.Snapshot, arg interface{}, pod *unstructured.Unstructured) (bool, error) {
	ns, ok := arg.(string)
	if !ok {
		return false, model.NewPermanentError(fmt.Errorf("matchNamespace: expected a string, got %T", arg))
	}
	return ns == pod.GetNamespace(), nil
}

func matchService(snap store.Snapshot, arg interface{}, pod *unstructured.Unstructured) (bool, error) {
	serviceName, ok := arg.(string)
	if !ok {
		return false, model.NewPermanentError(fmt.Errorf("matchService: expected a string, got %T", arg))
	}
	podUID := string(pod.GetUID())
	if podUID == "" {
		return false, nil
	}

	var serviceEP *unstructured.Unstructured
	for _, ep := range snap[model.KindEndpoints] {
		if ep.GetName() == serviceName {
			serviceEP = ep
			break
		}
	}
	if serviceEP == nil {
		return false, nil
	}

	subsets, _, _ := unstructured.NestedSlice(serviceEP.Object, "subsets")
	for _, s := range subsets {
		subset, ok := s.(map[string]interface{})
		if !ok {
			continue
		}
		addresses, _, _ := unstructured.NestedSlice(subset, "addresses")
		for _, a := range addresses {
			addr, ok := a.(map[string]interface{})
			if !ok {
				continue
			}
			uid, _, _ := unstructured.NestedString(addr, "targetRef", "uid")
			if uid == podUID {
				return true, nil
			}
		}
	}
	return false, nil
}

// evalOperator implements the In/NotIn/Exists/DoesNotExist operator family
// shared by matchExpressions and matchFields. value is nil when the key (or
// field path) was absent - the None sentinel the original's matcher uses.
func evalOperator(value *string, operator string, values []string) (bool, error) {
	switch operator {
	case "In":
		if value == nil {
			return false, nil
		}
		for _, v := range values {
			if v == *value {
				return true, nil
			}
		}
		return false, nil
	case "NotIn":
		if value == nil {
			return true, nil
		}
		for _, v := range values {
			if v == *value {
				return false, nil
			}
		}
		return true, nil
	case "Exists":
		return value != nil, nil
	case "DoesNotExist":
		return value == nil, nil
	default:
		return false, model.NewPermanentError(fmt.Errorf("unknown operator: %s", operator))
	}
}

func toStringMap(v interface{}) (map[string]string, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(m))
	for k, vv := range m {
		s, ok := vv.(string)
		if !ok {
			return nil, false
		}
		out[k] = s
	}
	return out, true
}

func toStringSlice(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func splitDotted(key string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			parts = append(parts, key[start:i])
			start = i + 1
		}
	}
	parts = append(parts, key[start:])
	return parts
}

// IterMatching iterates the objects of the given kind whose spec.selector
// matches pod.
func IterMatching(snap store.Snapshot, kind model.Kind, pod *unstructured.Unstructured) ([]*unstructured.Unstructured, error) {
	var out []*unstructured.Unstructured
	for fqn, obj := range snap[kind] {
		selector, _, err := unstructured.NestedMap(obj.Object, "spec", "selector")
		if err != nil {
			return nil, model.NewPermanentError(fmt.Errorf("%s: malformed spec.selector: %w", fqn, err))
		}
		ok, err := Matches(snap, selector, pod)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fqn, err)
		}
		if ok {
			out = append(out, obj)
		}
	}
	return out, nil
}

// IterMatchingPods returns the Pods in pods whose labels/fields/etc. match
// selector - used by the Link Resolver to expand a dynamic endpoint's
// selector into concrete Pod IPs.
func IterMatchingPods(snap store.Snapshot, selector map[string]interface{}, pods map[model.FQN]*unstructured.Unstructured) ([]*unstructured.Unstructured, error) {
	var out []*unstructured.Unstructured
	for _, pod := range pods {
		ok, err := Matches(snap, selector, pod)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, pod)
		}
	}
	return out, nil
}
