package xds

import (
	"context"
	"sort"

	"github.com/l7mp/l7mp-operator/internal/differ"
	"github.com/l7mp/l7mp-operator/internal/model"
	"github.com/l7mp/l7mp-operator/internal/store"
)

// Dispatcher drives a Server from diff ops. Unlike the REST Dispatcher, a
// Cluster resource bundles every resolved upstream into one payload, so a
// dynamic_endpoint add/delete cannot be pushed incrementally -
// it forces a full resend of the owning Target's Cluster. Dispatch therefore
// also takes the full post-reconcile action set, not just the diff, so it
// can recompute that bundle.
type Dispatcher struct {
	Server *Server
}

func NewDispatcher(server *Server) *Dispatcher {
	return &Dispatcher{Server: server}
}

// Dispatch applies ops to the xDS server's per-Pod streams. newActions is
// the planner's new plan (pod FQN -> action id -> Action), keyed the same
// way as planner.Plan's result.
func (d *Dispatcher) Dispatch(ctx context.Context, snap store.Snapshot, newActions map[model.FQN]map[string]model.Action, ops []differ.Op) error {
	touched := make(map[model.FQN]map[model.FQN]bool)

	for _, o := range ops {
		pod := snap[model.KindPods][o.Pod]
		if pod == nil {
			continue
		}
		uid := string(pod.GetUID())
		if uid == "" {
			continue
		}

		switch o.ActionType {
		case model.ActionVsvc:
			if err := d.dispatchVsvc(uid, o); err != nil {
				return err
			}
		case model.ActionTarget:
			markTouched(touched, o.Pod, o.Name)
		case model.ActionDynamicEndpoint:
			target := o.New.Target
			if o.Cmd == model.CmdDelete {
				target = o.Old.Target
			}
			markTouched(touched, o.Pod, target)
		}
	}

	for podFQN, targets := range touched {
		pod := snap[model.KindPods][podFQN]
		if pod == nil {
			continue
		}
		uid := string(pod.GetUID())
		if uid == "" {
			continue
		}
		for targetFQN := range targets {
			if err := d.resendCluster(uid, targetFQN, newActions[podFQN]); err != nil {
				return err
			}
		}
	}

	return nil
}

// PodRemoved closes out a deleted Pod's listener and cluster streams.
func (d *Dispatcher) PodRemoved(uid string) {
	d.Server.Close(uid)
}

func markTouched(touched map[model.FQN]map[model.FQN]bool, pod, target model.FQN) {
	set, ok := touched[pod]
	if !ok {
		set = make(map[model.FQN]bool)
		touched[pod] = set
	}
	set[target] = true
}

func (d *Dispatcher) dispatchVsvc(uid string, o differ.Op) error {
	switch o.Cmd {
	case model.CmdAdd:
		listenerSpec := nestedMap(o.New.Spec, "listener", "spec")
		payload, err := EncodeListener(o.New.Name, listenerSpec)
		if err != nil {
			return err
		}
		d.Server.PushListener(uid, listenerName(o.New.Name), payload)
	case model.CmdChange:
		listenerSpec := nestedMap(o.New.Spec, "listener", "spec")
		payload, err := EncodeListener(o.New.Name, listenerSpec)
		if err != nil {
			return err
		}
		d.Server.DeleteListener(uid, listenerName(o.Old.Name))
		d.Server.PushListener(uid, listenerName(o.New.Name), payload)
	case model.CmdDelete:
		d.Server.DeleteListener(uid, listenerName(o.Old.Name))
	}
	return nil
}

// resendCluster rebuilds a Target's full upstream set from the current plan
// (the target action's own static endpoints plus every dynamic_endpoint
// action targeting it) and replaces the Cluster resource wholesale, since
// Delta CDS has no concept of a partial-endpoint update.
func (d *Dispatcher) resendCluster(uid string, targetFQN model.FQN, podActions map[string]model.Action) error {
	clusterName := string(targetFQN)
	target, exists := podActions[string(targetFQN)]
	if !exists {
		d.Server.DeleteCluster(uid, clusterName)
		return nil
	}

	clusterSpec := nestedMap(target.Spec, "cluster", "spec")
	listenerPort := toUint32(clusterSpec["port"])

	var upstreams []upstreamAddress
	if endpoints, ok := nestedMap(target.Spec, "cluster")["endpoints"].([]interface{}); ok {
		for _, e := range endpoints {
			epSpec, ok := asMapXDS(e)
			if !ok {
				continue
			}
			inner := nestedMap(epSpec, "spec")
			addr, _ := inner["address"].(string)
			if addr == "" {
				continue
			}
			port := toUint32(inner["port"])
			if port == 0 {
				port = listenerPort
			}
			upstreams = append(upstreams, upstreamAddress{Address: addr, Port: port})
		}
	}

	for id, action := range podActions {
		if action.Type != model.ActionDynamicEndpoint || action.Target != targetFQN {
			continue
		}
		addr, _ := action.Spec["address"].(string)
		if addr == "" {
			continue
		}
		upstreams = append(upstreams, upstreamAddress{Address: addr, Port: listenerPort, Selector: true})
		_ = id
	}

	sort.Slice(upstreams, func(i, j int) bool { return upstreams[i].Address < upstreams[j].Address })

	payload, err := EncodeCluster(targetFQN, upstreams)
	if err != nil {
		return err
	}

	d.Server.DeleteCluster(uid, clusterName)
	d.Server.PushCluster(uid, clusterName, payload)
	return nil
}

func nestedMap(spec map[string]interface{}, path ...string) map[string]interface{} {
	cur := spec
	for _, p := range path {
		next, ok := asMapXDS(cur[p])
		if !ok {
			return map[string]interface{}{}
		}
		cur = next
	}
	return cur
}

func asMapXDS(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

func toUint32(v interface{}) uint32 {
	switch n := v.(type) {
	case int64:
		return uint32(n)
	case int:
		return uint32(n)
	case float64:
		return uint32(n)
	}
	return 0
}
