// Package schema is the declarative catalog of destination tables: sheet
// name to entity to ordered columns, with strict sheet matching. This
// replaces the source system's reflection-over-annotated-classes approach
// with a static list registered at start-up, the same "runtime-reflected
// entity metadata → declarative schema" redesign spirit applies to its own
// table metadata (table.TableInfo is built once from information_schema at
// Runner startup, then treated as immutable for the rest of the run).
package schema

import "fmt"

// ColumnSpec describes one destination column and the source header it is
// populated from.
type ColumnSpec struct {
	SourceHeader      string
	DestinationColumn string
	SQLType           string
	IsRequired        bool
	IsKey             bool
	HasIndex          bool
	MaxLength         int // 0 means unbounded
	UsesIdentity      bool
}

// TableSpec describes one destination table and its source sheet.
type TableSpec struct {
	SheetName  string
	TableName  string
	SchemaName string
	Columns    []ColumnSpec
}

// RequiredHeaders returns the SourceHeader of every required column: the
// headers a sheet must carry for normalize.Normalize to accept it.
func (t TableSpec) RequiredHeaders() []string {
	var out []string
	for _, c := range t.Columns {
		if c.IsRequired {
			out = append(out, c.SourceHeader)
		}
	}
	return out
}

// AllHeaders returns the SourceHeader of every column, required or not.
func (t TableSpec) AllHeaders() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.SourceHeader
	}
	return out
}

// Column looks up a ColumnSpec by its SourceHeader.
func (t TableSpec) Column(sourceHeader string) (ColumnSpec, bool) {
	for _, c := range t.Columns {
		if c.SourceHeader == sourceHeader {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// ErrNotFound is returned by Registry.SpecBySheet when no TableSpec is
// registered for a sheet name.
type ErrNotFound struct {
	SheetName string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("schema: no TableSpec registered for sheet %q", e.SheetName)
}

// Registry is the immutable, in-process catalog of TableSpecs. It is built
// once at start-up by NewRegistry and never mutated afterward, so it needs
// no locking on the read path.
type Registry struct {
	bySheet map[string]TableSpec
	ordered []TableSpec
}

// NewRegistry builds a Registry from a fixed list of TableSpecs. Duplicate
// sheet names are a programmer error and panic, since the registry is only
// ever constructed once at process start-up from a static literal.
func NewRegistry(specs []TableSpec) *Registry {
	r := &Registry{
		bySheet: make(map[string]TableSpec, len(specs)),
		ordered: append([]TableSpec(nil), specs...),
	}
	for _, s := range specs {
		if _, exists := r.bySheet[s.SheetName]; exists {
			panic(fmt.Sprintf("schema: duplicate sheet_name registered: %q", s.SheetName))
		}
		r.bySheet[s.SheetName] = s
	}
	return r
}

// Tables returns every registered TableSpec in registration order.
func (r *Registry) Tables() []TableSpec {
	return append([]TableSpec(nil), r.ordered...)
}

// SpecBySheet returns the TableSpec registered for sheetName, matching
// strictly (exact equality, no fuzzing or case folding).
func (r *Registry) SpecBySheet(sheetName string) (TableSpec, error) {
	spec, ok := r.bySheet[sheetName]
	if !ok {
		return TableSpec{}, &ErrNotFound{SheetName: sheetName}
	}
	return spec, nil
}

// DefaultRegistry returns the registry seeded with the two destination
// tables known at build time: the worked example from the contract-
// creation workflow, and a second sheet/table pair for move-out notices,
// which exercises the "every sheet maps independently, an unregistered
// sheet is rejected" path end to end.
func DefaultRegistry() *Registry {
	return NewRegistry([]TableSpec{
		{
			SheetName:  "新規to業務管理",
			TableName:  "contract_creation",
			SchemaName: "edges_raw",
			Columns: []ColumnSpec{
				{SourceHeader: "契約ID", DestinationColumn: "contract_id", SQLType: "varchar", IsRequired: true, IsKey: true, MaxLength: 64},
				{SourceHeader: "物件No", DestinationColumn: "property_no", SQLType: "integer", IsRequired: true},
				{SourceHeader: "出力日時", DestinationColumn: "output_at", SQLType: "timestamp", IsRequired: true},
			},
		},
		{
			SheetName:  "退去",
			TableName:  "move_out_notice",
			SchemaName: "edges_raw",
			Columns: []ColumnSpec{
				{SourceHeader: "契約ID", DestinationColumn: "contract_id", SQLType: "varchar", IsRequired: true, IsKey: true, MaxLength: 64},
				{SourceHeader: "退去予定日", DestinationColumn: "move_out_date", SQLType: "date", IsRequired: true},
				{SourceHeader: "備考", DestinationColumn: "remarks", SQLType: "text", IsRequired: false},
			},
		},
	})
}
