// Package crd describes the l7mp.io/v1 CustomResourceDefinitions this
// operator reconciles against: VirtualService, Target, Rule. It exists so
// the schema downgrader's `spec.names.plural` lookup and test fixtures have
// a canonical shape to consult; installing these into a live cluster is the
// out-of-scope watcher/installer's job.
package crd

import (
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const group = "l7mp.io"
const version = "v1"

func names(plural, singular, kind string, short ...string) apiextensionsv1.CustomResourceDefinitionNames {
	return apiextensionsv1.CustomResourceDefinitionNames{
		Plural:     plural,
		Singular:   singular,
		Kind:       kind,
		ShortNames: short,
	}
}

func definition(plural string, n apiextensionsv1.CustomResourceDefinitionNames) *apiextensionsv1.CustomResourceDefinition {
	return &apiextensionsv1.CustomResourceDefinition{
		ObjectMeta: metav1.ObjectMeta{Name: plural + "." + group},
		Spec: apiextensionsv1.CustomResourceDefinitionSpec{
			Group: group,
			Scope: apiextensionsv1.NamespaceScoped,
			Names: n,
			Versions: []apiextensionsv1.CustomResourceDefinitionVersion{{
				Name:    version,
				Served:  true,
				Storage: true,
				Subresources: &apiextensionsv1.CustomResourceSubresources{
					Status: &apiextensionsv1.CustomResourceSubresourceStatus{},
				},
			}},
		},
	}
}

// VirtualService, Target, Rule mirror util/crd.py's `defs` table - a
// name/kind/pluralisation lookup the core consults, not an admission or
// validation schema.
var (
	VirtualService = definition("virtualservices", names("virtualservices", "virtualservice", "VirtualService", "vsvc"))
	Target         = definition("targets", names("targets", "target", "Target"))
	Rule           = definition("rules", names("rules", "rule", "Rule"))
)

// All lists every managed CRD in a stable order.
var All = []*apiextensionsv1.CustomResourceDefinition{VirtualService, Target, Rule}

// PluralOf returns the plural resource name for a Kind (e.g. "VirtualService"
// -> "virtualservices"), mirroring util/crd.py's get_short_name reverse
// lookup; ok is false for an unrecognised Kind.
func PluralOf(kind string) (plural string, ok bool) {
	for _, d := range All {
		if d.Spec.Names.Kind == kind {
			return d.Spec.Names.Plural, true
		}
	}
	return "", false
}
