// Package downgrade implements the Schema Downgrader (C6): recursively
// rewriting a CR spec using a JSON-schema annotated with rename/lift/
// property-injection hints, loaded once from conv.yml, so the REST
// Dispatcher can talk to a legacy proxy admin API that predates the current
// CRD OpenAPI schema.
package downgrade

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	k8syaml "k8s.io/apimachinery/pkg/util/yaml"
	"sigs.k8s.io/yaml"
)

// recognisedAnnotations is the closed set of x-l7mp-old-* hints convertNode
// understands. Any other key with that prefix halts recursion into it as a
// property, and is rejected outright at load time: annotations are a small,
// closed enum, so an unknown one errors rather than being silently ignored.
var recognisedAnnotations = map[string]bool{
	"x-l7mp-old-name":         true,
	"x-l7mp-old-remove-level": true,
	"x-l7mp-old-property":     true,
}

// schemaNode is one node of the OpenAPI-like schema tree conv.yml carries
// per CRD plural, annotated with the x-l7mp-old-* hints.
type schemaNode struct {
	Properties map[string]*schemaNode `json:"properties,omitempty"`
	Items      *schemaNode            `json:"items,omitempty"`

	OldName        string `json:"x-l7mp-old-name,omitempty"`
	OldRemoveLevel bool   `json:"x-l7mp-old-remove-level,omitempty"`
	OldProperty    string `json:"x-l7mp-old-property,omitempty"`
}

// crdDoc is the CRD-shaped wrapper each conv.yml document is, exposing
// spec.names.plural and spec.versions[0].schema.openAPIV3Schema.
type crdDoc struct {
	Spec struct {
		Names struct {
			Plural string `json:"plural"`
		} `json:"names"`
		Versions []struct {
			Schema struct {
				OpenAPIV3Schema *schemaNode `json:"openAPIV3Schema"`
			} `json:"schema"`
		} `json:"versions"`
	} `json:"spec"`
}

// Table is a schema downgrade table: one schema root per CRD plural name.
type Table struct {
	schemas map[string]*schemaNode
}

// Load parses a YAML multi-document stream (conv.yml's format) into a
// Table.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("downgrade: reading %s: %w", path, err)
	}
	return LoadBytes(data)
}

// LoadBytes parses a YAML multi-document stream already read into memory.
func LoadBytes(data []byte) (*Table, error) {
	docs, err := splitYAMLDocuments(data)
	if err != nil {
		return nil, err
	}

	t := &Table{schemas: make(map[string]*schemaNode, len(docs))}
	for _, raw := range docs {
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		if err := rejectUnknownAnnotations(raw); err != nil {
			return nil, err
		}

		var doc crdDoc
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("downgrade: parsing conv.yml document: %w", err)
		}
		if doc.Spec.Names.Plural == "" {
			continue
		}
		if len(doc.Spec.Versions) != 1 {
			return nil, fmt.Errorf("downgrade: conversion to old %s failed: expected exactly one version, got %d",
				doc.Spec.Names.Plural, len(doc.Spec.Versions))
		}
		t.schemas[doc.Spec.Names.Plural] = doc.Spec.Versions[0].Schema.OpenAPIV3Schema
	}
	return t, nil
}

// rejectUnknownAnnotations decodes raw into a generic tree and walks it
// looking for any "x-l7mp-old*" key outside recognisedAnnotations.
func rejectUnknownAnnotations(raw []byte) error {
	var generic map[string]interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("downgrade: parsing conv.yml document: %w", err)
	}
	return walkForUnknownAnnotations(generic)
}

func walkForUnknownAnnotations(v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, vv := range val {
			if strings.HasPrefix(k, "x-l7mp-old") && !recognisedAnnotations[k] {
				return fmt.Errorf("downgrade: unknown schema annotation %q", k)
			}
			if err := walkForUnknownAnnotations(vv); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, vv := range val {
			if err := walkForUnknownAnnotations(vv); err != nil {
				return err
			}
		}
	}
	return nil
}

// Convert rewrites spec (the "spec" sub-object of plural's CR, as an
// already-decoded JSON tree) according to the schema registered for plural.
// It is a no-op if plural has no registered schema.
func (t *Table) Convert(plural string, spec map[string]interface{}) (map[string]interface{}, error) {
	schema, ok := t.schemas[plural]
	if !ok {
		return spec, nil
	}
	specSchema := schema
	if schema.Properties != nil {
		if s, ok := schema.Properties["spec"]; ok {
			specSchema = s
		}
	}
	_, out := convertNode(specSchema, "all", deepCopyAny(spec))
	converted, _ := out.(map[string]interface{})
	if converted == nil {
		converted = map[string]interface{}{}
	}
	return converted, nil
}

// convertNode walks schema/obj together, applying the x-l7mp-old-* rewrites:
//   - x-l7mp-old-name: the node is emitted under this alternative key in the
//     parent instead of its own property name.
//   - x-l7mp-old-remove-level: replace the value with its single child value.
//   - x-l7mp-old-property: take the first child key as a value and inject it
//     as a named property into the child object.
func convertNode(schema *schemaNode, key string, obj interface{}) (string, interface{}) {
	if obj == nil || schema == nil {
		return key, obj
	}

	if len(schema.Properties) > 0 {
		if m, ok := obj.(map[string]interface{}); ok {
			for k, childSchema := range schema.Properties {
				k1, v1 := convertNode(childSchema, k, m[k])
				if v1 != nil {
					m[k1] = v1
				}
				if k1 != k {
					delete(m, k)
				}
			}
			obj = m
		}
	}

	if schema.Items != nil {
		if list, ok := obj.([]interface{}); ok {
			out := make([]interface{}, len(list))
			for i, item := range list {
				_, v := convertNode(schema.Items, "_", item)
				out[i] = v
			}
			return key, out
		}
	}

	if schema.OldName != "" {
		key = schema.OldName
	}
	if schema.OldRemoveLevel {
		if m, ok := obj.(map[string]interface{}); ok {
			for _, v := range m {
				obj = v
				break
			}
		}
	}
	if schema.OldProperty != "" {
		if m, ok := obj.(map[string]interface{}); ok {
			for subkey, v := range m {
				obj = v
				if vm, ok := obj.(map[string]interface{}); ok {
					vm[schema.OldProperty] = subkey
				}
				break
			}
		}
	}
	return key, obj
}

func deepCopyAny(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		cp := make(map[string]interface{}, len(val))
		for k, vv := range val {
			cp[k] = deepCopyAny(vv)
		}
		return cp
	case []interface{}:
		cp := make([]interface{}, len(val))
		for i, vv := range val {
			cp[i] = deepCopyAny(vv)
		}
		return cp
	default:
		return v
	}
}

// splitYAMLDocuments splits a "---"-delimited multi-document YAML stream
// into individual document byte slices, using the same YAML document
// reader Kubernetes manifests are split with.
func splitYAMLDocuments(data []byte) ([][]byte, error) {
	reader := k8syaml.NewYAMLReader(bufio.NewReader(bytes.NewReader(data)))
	var docs [][]byte
	for {
		doc, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("downgrade: splitting conv.yml: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
