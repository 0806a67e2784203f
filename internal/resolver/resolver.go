// Package resolver implements the Link Resolver (C3): expanding a Target by
// splicing in its referenced VirtualService and materialising dynamic
// endpoints from Pod selectors.
//
// Resolution is pull-time only - nothing about the Target/VirtualService
// relationship is stored; every call re-reads both from the current
// Snapshot, so the resolver never holds a reference into a cyclic-looking
// graph.
package resolver

import (
	"sort"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/l7mp/l7mp-operator/internal/model"
	"github.com/l7mp/l7mp-operator/internal/selector"
	"github.com/l7mp/l7mp-operator/internal/store"
)

// DynamicEndpoint is one endpoint materialised from a selector, keyed by the
// matching Pod's observed IP.
type DynamicEndpoint struct {
	Name string
	Spec map[string]interface{}
}

// ExtendTarget returns Target T's spec extended with its linked
// VirtualService spliced in:
//  1. resolve T.spec.linkedVirtualService by FQN, then by metadata.name scan.
//  2. append {selector: V.spec.selector} to spec.cluster.endpoints (only
//     when V's selector is non-empty) and set
//     spec.cluster.spec := V.spec.listener.spec (overwriting).
//  3. remove the linkedVirtualService key.
//
// ok is false if the Target has no spec, or if linkedVirtualService is set
// but unresolvable - in which case the Target must contribute zero actions
// for every Pod. A Target without linkedVirtualService passes (a deep copy
// of) its spec through unchanged.
func ExtendTarget(snap store.Snapshot, target *unstructured.Unstructured) (spec map[string]interface{}, ok bool) {
	specRaw, found, _ := unstructured.NestedMap(target.Object, "spec")
	if !found {
		return nil, false
	}
	spec = runtimeDeepCopyJSON(specRaw)

	vsvcName, hasLink := spec["linkedVirtualService"].(string)
	if !hasLink {
		return spec, true
	}
	delete(spec, "linkedVirtualService")

	vsvc := lookupVirtualService(snap, vsvcName)
	if vsvc == nil {
		return nil, false
	}

	cluster, _ := spec["cluster"].(map[string]interface{})
	if cluster == nil {
		cluster = map[string]interface{}{}
	}
	endpoints, _ := cluster["endpoints"].([]interface{})

	vsvcSelector, _, _ := unstructured.NestedMap(vsvc.Object, "spec", "selector")
	if len(vsvcSelector) > 0 {
		endpoints = append(endpoints, map[string]interface{}{"selector": runtimeDeepCopyJSONAny(vsvcSelector)})
		cluster["endpoints"] = endpoints
	}

	listenerSpec, _, _ := unstructured.NestedMap(vsvc.Object, "spec", "listener", "spec")
	cluster["spec"] = runtimeDeepCopyJSONAny(listenerSpec)

	spec["cluster"] = cluster
	return spec, true
}

// lookupVirtualService resolves name first as an FQN, then falling back to a
// metadata.name scan across every known VirtualService, matching the python
// original's get_target_extended_spec.
func lookupVirtualService(snap store.Snapshot, name string) *unstructured.Unstructured {
	if v, ok := snap[model.KindVirtualServices][model.FQN(name)]; ok {
		return v
	}
	for _, v := range snap[model.KindVirtualServices] {
		if v.GetName() == name {
			return v
		}
	}
	return nil
}

// PartitionEndpoints splits a cluster's endpoint list into static endpoints
// (passed through unchanged) and dynamic endpoints (materialised from
// selector-matching Pods with a non-empty podIP). The returned dynamic
// slice is sorted by name for deterministic planning.
func PartitionEndpoints(snap store.Snapshot, targetFQN model.FQN, endpoints []interface{}) (static []interface{}, dynamic []DynamicEndpoint, err error) {
	for _, e := range endpoints {
		ep, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		if _, hasSpec := ep["spec"]; hasSpec {
			static = append(static, ep)
			continue
		}
		sel, hasSelector := ep["selector"].(map[string]interface{})
		if !hasSelector {
			continue
		}
		matches, merr := selector.IterMatchingPods(snap, sel, snap[model.KindPods])
		if merr != nil {
			return nil, nil, merr
		}
		for _, pod := range matches {
			podIP, _, _ := unstructured.NestedString(pod.Object, "status", "podIP")
			if podIP == "" {
				continue
			}
			name := string(targetFQN) + "/" + podIP
			dynamic = append(dynamic, DynamicEndpoint{
				Name: name,
				Spec: map[string]interface{}{"address": podIP},
			})
		}
	}
	sort.Slice(dynamic, func(i, j int) bool { return dynamic[i].Name < dynamic[j].Name })
	return static, dynamic, nil
}

func runtimeDeepCopyJSON(m map[string]interface{}) map[string]interface{} {
	cp, _ := runtimeDeepCopyJSONAny(m).(map[string]interface{})
	return cp
}

// runtimeDeepCopyJSONAny deep-copies a decoded-JSON value tree (maps, slices,
// scalars), mirroring the python original's deepcopy() calls over dict/list
// spec bodies.
func runtimeDeepCopyJSONAny(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		cp := make(map[string]interface{}, len(val))
		for k, vv := range val {
			cp[k] = runtimeDeepCopyJSONAny(vv)
		}
		return cp
	case []interface{}:
		cp := make([]interface{}, len(val))
		for i, vv := range val {
			cp[i] = runtimeDeepCopyJSONAny(vv)
		}
		return cp
	default:
		return v
	}
}
