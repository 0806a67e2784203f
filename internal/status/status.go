// Package status implements the Owner-Status Reporter (C9): propagating a
// successfully-applied child object's generation up into every owner's
// status.children.applied map, so an owning controller (or a human running
// kubectl) can tell which generation of a child the operator actually
// converged on.
package status

import (
	"context"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/l7mp/l7mp-operator/internal/model"
	"github.com/l7mp/l7mp-operator/internal/watch"
)

// Reporter patches owner status via a watch.StatusPatcher - the out-of-
// scope watcher/API-server boundary.
type Reporter struct {
	Patcher watch.StatusPatcher
}

// Report propagates childFQN's generation to every same-namespace owner in
// obj.metadata.ownerReferences, mirroring set_owner_status in the python
// original: a no-op unless obj.spec.updateOwners is true and generation is
// non-zero. Cross-namespace owner references are never followed - they are
// disallowed by the Kubernetes API server itself.
func (r *Reporter) Report(ctx context.Context, obj *unstructured.Unstructured, childFQN model.FQN, generation int64) error {
	if generation == 0 {
		return nil
	}
	updateOwners, _, _ := unstructured.NestedBool(obj.Object, "spec", "updateOwners")
	if !updateOwners {
		return nil
	}

	refs, _, _ := unstructured.NestedSlice(obj.Object, "metadata", "ownerReferences")
	for _, r0 := range refs {
		ref, ok := r0.(map[string]interface{})
		if !ok {
			continue
		}
		apiVersion, _ := ref["apiVersion"].(string)
		kind, _ := ref["kind"].(string)
		name, _ := ref["name"].(string)
		if apiVersion == "" || kind == "" || name == "" {
			continue
		}

		ownerFQN := model.NewFQN(apiVersion, kind, obj.GetNamespace(), name)
		patch := map[string]interface{}{
			"children": map[string]interface{}{
				"applied": map[string]interface{}{
					string(childFQN): generation,
				},
			},
		}
		if err := r.Patcher.PatchStatus(ctx, ownerFQN, patch); err != nil {
			return err
		}
	}
	return nil
}
