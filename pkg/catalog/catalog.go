// Package catalog defines the sop/v0 diagnostic step catalog types.
package catalog

// APIVersionSOP is the accepted apiVersion for step catalogs.
const APIVersionSOP = "sop/v0"

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

// Catalog is the top-level sop/v0 document. Steps are ordered; the default
// successor of a step is the next array index unless on_success overrides it.
type Catalog struct {
	APIVersion string `yaml:"apiVersion" json:"apiVersion"`
	Meta       Meta   `yaml:"meta"       json:"meta"`
	Steps      []Step `yaml:"steps"      json:"steps"`
}

// Meta contains catalog metadata.
type Meta struct {
	Name        string `yaml:"name"                  json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// ---------------------------------------------------------------------------
// Step
// ---------------------------------------------------------------------------

// Step is a single diagnostic step. Prompt is required for a step to be
// executable; the loader keeps a missing prompt as data so the flow engine
// can report it as a configuration defect.
type Step struct {
	ID        string       `yaml:"id"                   json:"id"`
	Prompt    string       `yaml:"prompt,omitempty"     json:"prompt,omitempty"`
	Tool      *ToolSpec    `yaml:"tool,omitempty"       json:"tool,omitempty"`
	OnSuccess *SuccessSpec `yaml:"on_success,omitempty" json:"on_success,omitempty"`
	OnFail    *FailSpec    `yaml:"on_fail,omitempty"    json:"on_fail,omitempty"`
}

// ToolSpec names an automated check to run when the step is entered via the
// answer path.
type ToolSpec struct {
	Name string `yaml:"name" json:"name"`
}

// SuccessSpec overrides the positional successor when the tool verdict is
// compatible. Next is a step id; a dangling id falls back to the positional
// successor at runtime.
type SuccessSpec struct {
	Next string `yaml:"next,omitempty" json:"next,omitempty"`
}

// FailSpec configures the terminal message for an incompatible verdict.
type FailSpec struct {
	Message     string `yaml:"message,omitempty"     json:"message,omitempty"`
	Alternative string `yaml:"alternative,omitempty" json:"alternative,omitempty"`
}

// ---------------------------------------------------------------------------
// Tool dispatch
// ---------------------------------------------------------------------------

// ToolKind is the closed set of automated checks the flow engine implements.
// Tool names are resolved to a kind once, at catalog load; validation rejects
// names outside this set so a bad catalog fails at startup, not mid-flow.
type ToolKind int

const (
	ToolNone ToolKind = iota
	ToolCompatibilityQuery
	ToolUnknown
)

// ToolNameCompatibility is the catalog spelling of the compatibility check.
const ToolNameCompatibility = "query_controller_compatibility"

// Kind resolves the step's tool invocation to a ToolKind.
func (s *Step) Kind() ToolKind {
	if s.Tool == nil || s.Tool.Name == "" {
		return ToolNone
	}
	if s.Tool.Name == ToolNameCompatibility {
		return ToolCompatibilityQuery
	}
	return ToolUnknown
}

// IndexOf returns the index of the step with the given id, or -1.
func (c *Catalog) IndexOf(id string) int {
	for i := range c.Steps {
		if c.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

// Len returns the number of steps.
func (c *Catalog) Len() int { return len(c.Steps) }
