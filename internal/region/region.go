// Package region holds the canonical table of provinces and their cities.
// Profiles store region codes while equipment rows store the province
// label, so every scoped query goes through this table.
package region

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed regions.yaml
var defaultTable []byte

// Region is one province.
type Region struct {
	Code      string   `yaml:"code" json:"code"`
	Name      string   `yaml:"name" json:"name"`
	SidoLabel string   `yaml:"sido_label" json:"sido_label"`
	Cities    []string `yaml:"cities" json:"cities"`
}

// Table is an immutable, validated region table. It is safe for concurrent
// use.
type Table struct {
	regions []Region
	byCode  map[string]*Region
	cities  map[string]map[string]struct{}
}

type file struct {
	Regions []Region `yaml:"regions"`
}

// Default returns the built-in table.
func Default() (*Table, error) {
	return Parse(defaultTable)
}

// Load reads a table from path. An empty path loads the built-in table.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read region table: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML region table.
func Parse(data []byte) (*Table, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse region table: %w", err)
	}
	if err := Validate(f.Regions); err != nil {
		return nil, err
	}

	t := &Table{
		regions: f.Regions,
		byCode:  make(map[string]*Region, len(f.Regions)),
		cities:  make(map[string]map[string]struct{}, len(f.Regions)),
	}
	for i := range t.regions {
		r := &t.regions[i]
		t.byCode[r.Code] = r
		set := make(map[string]struct{}, len(r.Cities))
		for _, c := range r.Cities {
			set[c] = struct{}{}
		}
		t.cities[r.Code] = set
	}
	return t, nil
}

// ValidationError lists every problem found in a table.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid region table: " + strings.Join(e.Problems, "; ")
}

// Validate checks codes are unique uppercase ASCII, labels are present and
// unique, and cities are unique within their region.
func Validate(regions []Region) error {
	var problems []string
	if len(regions) == 0 {
		problems = append(problems, "no regions defined")
	}

	codes := make(map[string]bool)
	labels := make(map[string]bool)
	for i, r := range regions {
		where := fmt.Sprintf("regions[%d]", i)
		if !isCode(r.Code) {
			problems = append(problems, fmt.Sprintf("%s: code %q must be uppercase ASCII letters", where, r.Code))
		} else if codes[r.Code] {
			problems = append(problems, fmt.Sprintf("%s: duplicate code %s", where, r.Code))
		}
		codes[r.Code] = true

		if strings.TrimSpace(r.Name) == "" {
			problems = append(problems, fmt.Sprintf("%s: name is empty", where))
		}
		if strings.TrimSpace(r.SidoLabel) == "" {
			problems = append(problems, fmt.Sprintf("%s: sido_label is empty", where))
		} else if labels[r.SidoLabel] {
			problems = append(problems, fmt.Sprintf("%s: duplicate sido_label %s", where, r.SidoLabel))
		}
		labels[r.SidoLabel] = true

		seen := make(map[string]bool, len(r.Cities))
		for _, c := range r.Cities {
			if strings.TrimSpace(c) == "" {
				problems = append(problems, fmt.Sprintf("%s: empty city", where))
				continue
			}
			if seen[c] {
				problems = append(problems, fmt.Sprintf("%s: duplicate city %s", where, c))
			}
			seen[c] = true
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func isCode(s string) bool {
	if len(s) < 2 || len(s) > 8 {
		return false
	}
	for _, c := range s {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

// Lookup returns the region with the given code.
func (t *Table) Lookup(code string) (Region, bool) {
	r, ok := t.byCode[code]
	if !ok {
		return Region{}, false
	}
	return *r, true
}

// SidoLabel returns the province label for a code, or "" if unknown.
func (t *Table) SidoLabel(code string) string {
	if r, ok := t.byCode[code]; ok {
		return r.SidoLabel
	}
	return ""
}

// HasCity reports whether city belongs to the region with code.
func (t *Table) HasCity(code, city string) bool {
	_, ok := t.cities[code][city]
	return ok
}

// Codes returns all region codes in sorted order.
func (t *Table) Codes() []string {
	codes := make([]string, 0, len(t.byCode))
	for c := range t.byCode {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// Regions returns a copy of the table rows in file order.
func (t *Table) Regions() []Region {
	out := make([]Region, len(t.regions))
	copy(out, t.regions)
	return out
}
