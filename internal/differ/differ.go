// Package differ implements the Differ (C5): comparing two action plans and
// emitting an ordered stream of (pod, kind, name, cmd) operations. Diff is a
// pure function - Planner + Differ together have no side effects.
package differ

import (
	"reflect"
	"sort"

	"github.com/l7mp/l7mp-operator/internal/model"
)

// Op is one (pod, action, cmd) operation the dispatchers must apply.
type Op struct {
	Pod        model.FQN
	ActionType model.ActionType
	Name       model.FQN
	Cmd        model.Cmd
	Old, New   model.Action
}

// Diff compares old and new action plans (as produced by planner.Plan) and
// returns the ordered list of operations needed to transform old into new.
// For every Pod present in either plan, the union of action-ids is visited
// in sorted order; per id: present in new only -> add, present in old only
// -> delete, present in both and equal -> no-op, present in both and
// unequal -> change. Monotone idempotence: Diff(Plan(S), Plan(S)) = [].
func Diff(old, new map[model.FQN]map[string]model.Action) []Op {
	var ops []Op

	pods := make(map[model.FQN]struct{}, len(old)+len(new))
	for pod := range old {
		pods[pod] = struct{}{}
	}
	for pod := range new {
		pods[pod] = struct{}{}
	}
	podList := make([]model.FQN, 0, len(pods))
	for pod := range pods {
		podList = append(podList, pod)
	}
	sort.Slice(podList, func(i, j int) bool { return podList[i] < podList[j] })

	for _, pod := range podList {
		oldActions := old[pod]
		newActions := new[pod]

		ids := make(map[string]struct{}, len(oldActions)+len(newActions))
		for id := range oldActions {
			ids[id] = struct{}{}
		}
		for id := range newActions {
			ids[id] = struct{}{}
		}
		idList := make([]string, 0, len(ids))
		for id := range ids {
			idList = append(idList, id)
		}
		sort.Strings(idList)

		for _, id := range idList {
			oldAction, hasOld := oldActions[id]
			newAction, hasNew := newActions[id]

			switch {
			case hasOld && hasNew:
				if actionsEqual(oldAction, newAction) {
					continue
				}
				ops = append(ops, Op{
					Pod: pod, ActionType: newAction.Type, Name: newAction.Name,
					Cmd: model.CmdChange, Old: oldAction, New: newAction,
				})
			case hasNew:
				ops = append(ops, Op{
					Pod: pod, ActionType: newAction.Type, Name: newAction.Name,
					Cmd: model.CmdAdd, New: newAction,
				})
			case hasOld:
				ops = append(ops, Op{
					Pod: pod, ActionType: oldAction.Type, Name: oldAction.Name,
					Cmd: model.CmdDelete, Old: oldAction,
				})
			}
		}
	}

	return ops
}

// actionsEqual implements structural equality: two Actions are equal iff
// their serialised contents (Type, Name, Spec, Target) are equal.
func actionsEqual(a, b model.Action) bool {
	return a.Type == b.Type && a.Name == b.Name && a.Target == b.Target && reflect.DeepEqual(a.Spec, b.Spec)
}
