// Package collector checks the collected customer attributes against the
// required-field schema and produces the localized checklist of what is
// still missing.
package collector

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"
)

// Requirement is one required field. When is an optional expr-lang condition
// over the customer info; the field is only required while the condition
// holds. A condition referencing an absent field evaluates to false, which
// gives the short-circuit the battery rule needs: bms_current is not asked
// for until battery_type itself is known.
type Requirement struct {
	Field string `yaml:"field"          json:"field"`
	Label string `yaml:"label"          json:"label"`
	When  string `yaml:"when,omitempty" json:"when,omitempty"`

	program *vm.Program
}

// Schema is the ordered requirement list. Order is significant: the checklist
// lists fields in schema order.
type Schema struct {
	Requirements []Requirement `yaml:"requirements" json:"requirements"`
}

// Compile resolves every When condition once. Unparseable conditions fail
// here, at startup, not per turn.
func (s *Schema) Compile() error {
	for i := range s.Requirements {
		r := &s.Requirements[i]
		if r.Field == "" {
			return fmt.Errorf("requirements[%d]: field is required", i)
		}
		if r.Label == "" {
			return fmt.Errorf("requirement %q: label is required", r.Field)
		}
		if r.When == "" {
			continue
		}
		p, err := expr.Compile(r.When, expr.AllowUndefinedVariables(), expr.AsBool())
		if err != nil {
			return fmt.Errorf("requirement %q: compile condition %q: %w", r.Field, r.When, err)
		}
		r.program = p
	}
	return nil
}

// Load reads and compiles a requirement schema from YAML.
func Load(r io.Reader) (*Schema, error) {
	var s Schema
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	if err := s.Compile(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadFile reads and compiles a requirement schema from a YAML file.
func LoadFile(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open requirement schema: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Default returns the built-in schema for the current-increase SOP.
func Default() *Schema {
	s := &Schema{Requirements: []Requirement{
		{Field: "controller_model", Label: "控制器型号（智科请拍钢印，凌博请截图小程序）"},
		{Field: "vehicle_model", Label: "车辆具体型号"},
		{Field: "motor_power", Label: "电机功率及尺寸"},
		{Field: "battery_type", Label: "电池类型（铅酸或锂电）"},
		{Field: "bms_current", Label: "锂电池保护板持续电流（非常重要！）", When: `battery_type == "lithium"`},
	}}
	if err := s.Compile(); err != nil {
		// The built-in schema is constant; a compile failure is a programming error.
		panic(err)
	}
	return s
}

// Check returns the labels of the fields still missing from info, in schema
// order. Pure function of its input.
func (s *Schema) Check(info map[string]any) []string {
	var missing []string
	for i := range s.Requirements {
		r := &s.Requirements[i]
		if r.program != nil {
			ok, err := expr.Run(r.program, info)
			// Evaluation errors mean the condition cannot hold yet
			// (e.g. a nil operand); treat as not-required.
			if err != nil || ok != true {
				continue
			}
		}
		if !present(info[r.Field]) {
			missing = append(missing, r.Label)
		}
	}
	return missing
}

// present mirrors Python truthiness for collected values: nil, empty string
// and zero numbers all count as absent.
func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	case bool:
		return x
	default:
		return true
	}
}

// Respond produces the assistant reply for the collection gate: the bullet
// checklist when fields are missing, the transition line when complete.
func (s *Schema) Respond(info map[string]any) (reply string, complete bool) {
	missing := s.Check(info)
	if len(missing) == 0 {
		return "信息收集完整，开始为您排查...", true
	}
	var b strings.Builder
	b.WriteString("为了精准调试，还需要麻烦您补充以下信息：")
	for _, m := range missing {
		b.WriteString("\n- ")
		b.WriteString(m)
	}
	return b.String(), false
}
