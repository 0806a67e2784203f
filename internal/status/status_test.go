package status

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/l7mp/l7mp-operator/internal/model"
)

type recordingPatcher struct {
	calls []struct {
		fqn   model.FQN
		patch map[string]interface{}
	}
}

func (p *recordingPatcher) PatchStatus(_ context.Context, fqn model.FQN, patch map[string]interface{}) error {
	p.calls = append(p.calls, struct {
		fqn   model.FQN
		patch map[string]interface{}
	}{fqn, patch})
	return nil
}

func ownerObj(updateOwners bool, owners ...map[string]interface{}) *unstructured.Unstructured {
	refs := make([]interface{}, 0, len(owners))
	for _, o := range owners {
		refs = append(refs, o)
	}
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"metadata": map[string]interface{}{
			"namespace":       "default",
			"name":            "v1",
			"ownerReferences": refs,
		},
		"spec": map[string]interface{}{"updateOwners": updateOwners},
	}}
}

func TestReportNoOpWhenGenerationIsZero(t *testing.T) {
	patcher := &recordingPatcher{}
	r := &Reporter{Patcher: patcher}
	obj := ownerObj(true, map[string]interface{}{"apiVersion": "l7mp.io/v1", "kind": "Owner", "name": "o1"})

	require.NoError(t, r.Report(context.Background(), obj, "child", 0))
	require.Empty(t, patcher.calls)
}

func TestReportNoOpWhenUpdateOwnersFalse(t *testing.T) {
	patcher := &recordingPatcher{}
	r := &Reporter{Patcher: patcher}
	obj := ownerObj(false, map[string]interface{}{"apiVersion": "l7mp.io/v1", "kind": "Owner", "name": "o1"})

	require.NoError(t, r.Report(context.Background(), obj, "child", 2))
	require.Empty(t, patcher.calls)
}

func TestReportPatchesEveryOwnerReference(t *testing.T) {
	patcher := &recordingPatcher{}
	r := &Reporter{Patcher: patcher}
	obj := ownerObj(true,
		map[string]interface{}{"apiVersion": "l7mp.io/v1", "kind": "Owner", "name": "o1"},
		map[string]interface{}{"apiVersion": "l7mp.io/v1", "kind": "Owner", "name": "o2"},
	)

	require.NoError(t, r.Report(context.Background(), obj, "child-fqn", 5))
	require.Len(t, patcher.calls, 2)

	want1 := model.NewFQN("l7mp.io/v1", "Owner", "default", "o1")
	want2 := model.NewFQN("l7mp.io/v1", "Owner", "default", "o2")
	require.Equal(t, want1, patcher.calls[0].fqn)
	require.Equal(t, want2, patcher.calls[1].fqn)

	applied := patcher.calls[0].patch["children"].(map[string]interface{})["applied"].(map[string]interface{})
	require.Equal(t, int64(5), applied["child-fqn"])
}

func TestReportSkipsMalformedOwnerReference(t *testing.T) {
	patcher := &recordingPatcher{}
	r := &Reporter{Patcher: patcher}
	obj := ownerObj(true,
		map[string]interface{}{"apiVersion": "", "kind": "Owner", "name": "o1"},
		map[string]interface{}{"apiVersion": "l7mp.io/v1", "kind": "Owner", "name": "o2"},
	)

	require.NoError(t, r.Report(context.Background(), obj, "child", 1))
	require.Len(t, patcher.calls, 1)
}
