// Package schema models the external table schema document as typed,
// validated column descriptors.
package schema

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v2"
)

var (
	ErrMissingTable  = errors.New("schema: table not declared")
	ErrMissingColumn = errors.New("schema: column not declared")
	ErrUnknownType   = errors.New("schema: unrecognised SQL type")
)

var typePattern = regexp.MustCompile(`^(?:` +
	`VARCHAR\(\d+\)|CHAR\(\d+\)|TEXT|` +
	`INTEGER|INT|BIGINT|SMALLINT|` +
	`(?:DECIMAL|NUMERIC)(?:\(\d+(?:,\s*\d+)?\))?|` +
	`REAL|FLOAT|DOUBLE PRECISION|` +
	`BOOLEAN|DATE|TIMESTAMP|TIMESTAMPTZ` +
	`)$`)

// Column describes one declared column.
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Table is an ordered list of columns under a document key.
type Table struct {
	Name    string
	Columns []Column
}

// Document is a parsed schema file.
type Document struct {
	Tables []*Table
}

// LoadFile reads and parses the schema document at path.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a schema document. The document is JSON; it is decoded as
// YAML into a MapSlice so that column order follows the file.
func Parse(data []byte) (*Document, error) {
	var root yaml.MapSlice
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("schema: decode: %w", err)
	}

	doc := &Document{}
	for _, item := range root {
		name := fmt.Sprint(item.Key)
		cols, ok := item.Value.(yaml.MapSlice)
		if !ok {
			return nil, fmt.Errorf("schema: %q must map column names to types", name)
		}

		t := &Table{Name: name}
		for _, c := range cols {
			col, err := parseColumn(fmt.Sprint(c.Key), c.Value)
			if err != nil {
				return nil, fmt.Errorf("schema: %s: %w", name, err)
			}
			t.Columns = append(t.Columns, col)
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		doc.Tables = append(doc.Tables, t)
	}
	return doc, nil
}

// A column value is either "TYPE" (NOT NULL) or {"type": "TYPE", "nullable": bool}.
func parseColumn(name string, v interface{}) (Column, error) {
	col := Column{Name: strings.ToLower(strings.Trim(name, "[]\" "))}

	switch val := v.(type) {
	case string:
		col.Type = val
	case yaml.MapSlice:
		for _, f := range val {
			switch fmt.Sprint(f.Key) {
			case "type":
				col.Type = fmt.Sprint(f.Value)
			case "nullable":
				b, ok := f.Value.(bool)
				if !ok {
					return col, fmt.Errorf("column %q: nullable must be a boolean", col.Name)
				}
				col.Nullable = b
			}
		}
	default:
		return col, fmt.Errorf("column %q: unsupported declaration %v", col.Name, v)
	}

	col.Type = strings.ToUpper(strings.TrimSpace(col.Type))
	return col, nil
}

// Validate checks column names and types.
func (t *Table) Validate() error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("schema: %s declares no columns", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return fmt.Errorf("schema: %s has an unnamed column", t.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("schema: %s declares %q twice", t.Name, c.Name)
		}
		seen[c.Name] = true
		if !typePattern.MatchString(c.Type) {
			return fmt.Errorf("%w: %s.%s %q", ErrUnknownType, t.Name, c.Name, c.Type)
		}
	}
	return nil
}

// Table returns the table declared under key.
func (d *Document) Table(key string) (*Table, error) {
	for _, t := range d.Tables {
		if t.Name == key {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMissingTable, key)
}

// Column returns the declared column with the given name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Require fails unless every named column is declared.
func (t *Table) Require(names ...string) error {
	var missing []string
	for _, n := range names {
		if _, ok := t.Column(n); !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s lacks %s", ErrMissingColumn, t.Name, strings.Join(missing, ", "))
	}
	return nil
}

// Names returns the declared column names in order.
func (t *Table) Names() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// CreateStatement renders CREATE TABLE IF NOT EXISTS for table name, with
// extra columns appended unless already declared. pk may be empty.
func (t *Table) CreateStatement(name, pk string, extra ...Column) string {
	defs := make([]string, 0, len(t.Columns)+len(extra)+1)
	for _, c := range t.Columns {
		defs = append(defs, c.definition())
	}
	for _, c := range extra {
		if _, ok := t.Column(c.Name); !ok {
			defs = append(defs, c.definition())
		}
	}
	if pk != "" {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", Quote(pk)))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", Quote(name), strings.Join(defs, ",\n\t"))
}

func (c Column) definition() string {
	def := Quote(c.Name) + " " + c.Type
	if !c.Nullable {
		def += " NOT NULL"
	}
	return def
}

// Quote returns a double-quoted SQL identifier.
func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
