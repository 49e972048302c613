// Package tools provides the tool descriptor model and the registry the
// suggestion router scores against. Tools are descriptive metadata only;
// executing a tool is the caller's business.
package tools

import (
	"fmt"
	"strings"
	"time"
)

// ParameterType enumerates the allowed tool parameter types.
type ParameterType string

const (
	TypeString  ParameterType = "string"
	TypeNumber  ParameterType = "number"
	TypeBoolean ParameterType = "boolean"
	TypeObject  ParameterType = "object"
	TypeArray   ParameterType = "array"
)

// IsValid reports whether the parameter type is one of the known values.
func (t ParameterType) IsValid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeObject, TypeArray:
		return true
	}
	return false
}

// Parameter describes a single tool parameter.
type Parameter struct {
	Name        string         `json:"name"`
	Type        ParameterType  `json:"type"`
	Description string         `json:"description,omitempty"`
	Required    bool           `json:"required"`
	Default     any            `json:"default,omitempty"`
	Constraints map[string]any `json:"constraints,omitempty"`
}

// Tool is a registrable capability descriptor. Tools are immutable value
// objects once registered; an update replaces the whole entry so concurrent
// scoring reads never observe partial mutation.
type Tool struct {
	// Name is the unique key, immutable after registration.
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	Tags        []string    `json:"tags,omitempty"`
	Parameters  []Parameter `json:"parameters,omitempty"`
	Examples    []string    `json:"examples,omitempty"`
	Enabled     bool        `json:"enabled"`
	// Priority influences the base score (base = priority * 0.1).
	Priority int `json:"priority"`
	// Timeout is advisory; enforced by the tool's caller, not the router.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Validate checks the tool descriptor at construction time.
func (t *Tool) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if strings.TrimSpace(t.Description) == "" {
		return fmt.Errorf("tool %q: description cannot be empty", t.Name)
	}
	if t.Priority < 0 {
		return fmt.Errorf("tool %q: priority cannot be negative", t.Name)
	}
	for i, p := range t.Parameters {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("tool %q: parameter %d has no name", t.Name, i)
		}
		if !p.Type.IsValid() {
			return fmt.Errorf("tool %q: parameter %q has invalid type %q", t.Name, p.Name, p.Type)
		}
	}
	return nil
}

// HasTag reports whether the tool carries the given tag (case-insensitive).
func (t *Tool) HasTag(tag string) bool {
	for _, have := range t.Tags {
		if strings.EqualFold(have, tag) {
			return true
		}
	}
	return false
}

// clone returns a deep copy so registry reads never alias registry state.
func (t Tool) clone() Tool {
	cp := t
	if t.Tags != nil {
		cp.Tags = append([]string(nil), t.Tags...)
	}
	if t.Examples != nil {
		cp.Examples = append([]string(nil), t.Examples...)
	}
	if t.Parameters != nil {
		cp.Parameters = append([]Parameter(nil), t.Parameters...)
	}
	return cp
}
