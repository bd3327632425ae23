// Package schema describes the farm database to the language model and to
// the SQL gate.
package schema

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed schema.yaml
var catalogYAML []byte

type Column struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

type Table struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Columns     []Column `yaml:"columns" json:"columns"`
}

type BusinessTerm struct {
	Terms   []string `yaml:"terms" json:"terms"`
	Meaning string   `yaml:"meaning" json:"meaning"`
}

// Catalog is the static description of the database. It is parsed once and
// never mutated.
type Catalog struct {
	Tables        []Table        `yaml:"tables" json:"tables"`
	Relationships []string       `yaml:"relationships" json:"relationships"`
	BusinessTerms []BusinessTerm `yaml:"business_terms" json:"businessTerms"`
	Restricted    []string       `yaml:"restricted" json:"-"`
}

var (
	catalogOnce sync.Once
	catalog     *Catalog
	catalogErr  error
)

// Load returns the embedded catalog.
func Load() (*Catalog, error) {
	catalogOnce.Do(func() {
		catalog, catalogErr = parseCatalog(catalogYAML)
	})
	return catalog, catalogErr
}

func parseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing schema catalog: %w", err)
	}
	if len(c.Tables) == 0 {
		return nil, fmt.Errorf("schema catalog has no tables")
	}
	restricted := c.RestrictedTables()
	for _, t := range c.Tables {
		if t.Name == "" || len(t.Columns) == 0 {
			return nil, fmt.Errorf("schema catalog: table %q has no name or columns", t.Name)
		}
		if restricted[strings.ToLower(t.Name)] {
			return nil, fmt.Errorf("schema catalog: table %q is both described and restricted", t.Name)
		}
	}
	return &c, nil
}

// AllowedTables returns the lower-cased names of the described tables.
func (c *Catalog) AllowedTables() map[string]bool {
	out := make(map[string]bool, len(c.Tables))
	for _, t := range c.Tables {
		out[strings.ToLower(t.Name)] = true
	}
	return out
}

// RestrictedTables returns the lower-cased names that must never be queried.
func (c *Catalog) RestrictedTables() map[string]bool {
	out := make(map[string]bool, len(c.Restricted))
	for _, t := range c.Restricted {
		out[strings.ToLower(t)] = true
	}
	return out
}

// TableNames returns the allowed table names sorted.
func (c *Catalog) TableNames() []string {
	names := make([]string, 0, len(c.Tables))
	for _, t := range c.Tables {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

func (c *Catalog) render(sb *strings.Builder) {
	sb.WriteString("Tables:\n")
	for _, t := range c.Tables {
		fmt.Fprintf(sb, "- %s: %s\n  columns: ", t.Name, t.Description)
		for i, col := range t.Columns {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(col.Name + " (" + col.Type)
			if col.Description != "" {
				sb.WriteString("; " + col.Description)
			}
			sb.WriteString(")")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Relationships:\n")
	for _, r := range c.Relationships {
		sb.WriteString("- " + r + "\n")
	}

	sb.WriteString("Business terms:\n")
	for _, bt := range c.BusinessTerms {
		fmt.Fprintf(sb, "- %s: %s\n", strings.Join(bt.Terms, ", "), bt.Meaning)
	}
}
