// Package openapi embeds the trace API OpenAPI document for runtime
// distribution.
package openapi

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// TraceAPISpec contains the OpenAPI document for the trace API.
//
//go:embed trace-api.yaml
var TraceAPISpec []byte

// Spec returns a copy of the embedded OpenAPI YAML.
func Spec() []byte {
	return append([]byte(nil), TraceAPISpec...)
}

type document struct {
	Paths map[string]map[string]any `yaml:"paths"`
}

// Operations lists the documented "METHOD path" pairs in sorted order.
func Operations() ([]string, error) {
	var doc document
	if err := yaml.Unmarshal(TraceAPISpec, &doc); err != nil {
		return nil, fmt.Errorf("decode trace api spec: %w", err)
	}
	var ops []string
	for path, methods := range doc.Paths {
		for method := range methods {
			ops = append(ops, fmt.Sprintf("%s %s", strings.ToUpper(method), path))
		}
	}
	sort.Strings(ops)
	return ops, nil
}
