package catalog

import (
	"encoding/json"
	"fmt"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError represents a single validation finding with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location (e.g., "steps[2].tool.name")
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// HasErrors reports whether any finding has error severity.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity != "warning" {
			return true
		}
	}
	return false
}

// ValidateFile performs the full 3-phase validation pipeline on a catalog file.
// Phase 1: Structural (strict YAML decode)
// Phase 2: Semantic (JSON Schema validation)
// Phase 3: Domain (custom Go rules)
func ValidateFile(path string) (*Catalog, []*ValidationError) {
	c, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{{
			Phase:    "structural",
			Message:  err.Error(),
			Severity: "error",
		}}
	}
	return c, Validate(c)
}

// Validate runs phases 2 and 3 against an already-decoded catalog.
func Validate(c *Catalog) []*ValidationError {
	var all []*ValidationError
	all = append(all, validateSemantic(c)...)
	all = append(all, ValidateDomain(c)...)
	return all
}

// validateSemantic validates the catalog against the generated JSON Schema.
func validateSemantic(c *Catalog) []*ValidationError {
	data, err := json.Marshal(c)
	if err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Message:  fmt.Sprintf("marshal for schema validation: %v", err),
			Severity: "error",
		}}
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Message:  fmt.Sprintf("generate schema: %v", err),
			Severity: "error",
		}}
	}

	var schemaDoc interface{}
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Message:  fmt.Sprintf("unmarshal schema: %v", err),
			Severity: "error",
		}}
	}

	comp := sjsonschema.NewCompiler()
	if err := comp.AddResource("catalog-v0.json", schemaDoc); err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Message:  fmt.Sprintf("add schema resource: %v", err),
			Severity: "error",
		}}
	}
	sch, err := comp.Compile("catalog-v0.json")
	if err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Message:  fmt.Sprintf("compile schema: %v", err),
			Severity: "error",
		}}
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Message:  fmt.Sprintf("unmarshal document: %v", err),
			Severity: "error",
		}}
	}

	if err := sch.Validate(doc); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				errs = append(errs, &ValidationError{
					Phase:    "semantic",
					Path:     strings.Join(cause.InstanceLocation, "/"),
					Message:  fmt.Sprintf("%v", cause.ErrorKind),
					Severity: "error",
				})
			}
		} else {
			errs = append(errs, &ValidationError{
				Phase:    "semantic",
				Message:  err.Error(),
				Severity: "error",
			})
		}
		return errs
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// ValidateDomain performs Phase 3 domain-level validation.
func ValidateDomain(c *Catalog) []*ValidationError {
	var errs []*ValidationError

	if c.APIVersion != APIVersionSOP {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "apiVersion",
			Message:  fmt.Sprintf("unrecognized apiVersion %q, expected %q", c.APIVersion, APIVersionSOP),
			Severity: "error",
		})
	}
	if c.Meta.Name == "" {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "meta.name",
			Message:  "meta.name is required",
			Severity: "error",
		})
	}
	if len(c.Steps) == 0 {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "steps",
			Message:  "catalog has no steps",
			Severity: "error",
		})
	}

	seen := make(map[string]int, len(c.Steps))
	for i := range c.Steps {
		s := &c.Steps[i]
		loc := fmt.Sprintf("steps[%d]", i)

		if s.ID == "" {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     loc + ".id",
				Message:  "step id is required",
				Severity: "error",
			})
		} else if prev, dup := seen[s.ID]; dup {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     loc + ".id",
				Message:  fmt.Sprintf("duplicate step id %q (first defined at steps[%d])", s.ID, prev),
				Severity: "error",
			})
		} else {
			seen[s.ID] = i
		}

		// The flow engine reports a missing prompt to the user as a
		// configuration defect at runtime; surface it here as a warning so
		// `aftercare validate` catches it before deployment.
		if s.Prompt == "" {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     loc + ".prompt",
				Message:  fmt.Sprintf("step %q has no prompt; the flow will stop here with a configuration error", s.ID),
				Severity: "warning",
			})
		}

		// Unknown tool names fail at startup rather than mid-flow.
		if s.Kind() == ToolUnknown {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     loc + ".tool.name",
				Message:  fmt.Sprintf("unknown tool %q, expected %q", s.Tool.Name, ToolNameCompatibility),
				Severity: "error",
			})
		}

		if s.OnSuccess != nil && s.OnSuccess.Next != "" {
			target := c.IndexOf(s.OnSuccess.Next)
			switch {
			case target < 0:
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     loc + ".on_success.next",
					Message:  fmt.Sprintf("target step %q not found; runtime falls back to the positional successor", s.OnSuccess.Next),
					Severity: "warning",
				})
			case target <= i:
				// Backward and self edges are permitted (operator
				// responsibility) but almost always a mistake.
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     loc + ".on_success.next",
					Message:  fmt.Sprintf("target step %q is at or before this step; the flow may loop", s.OnSuccess.Next),
					Severity: "warning",
				})
			}
		}
	}

	return errs
}
