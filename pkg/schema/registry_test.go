package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry_SpecBySheet(t *testing.T) {
	r := DefaultRegistry()

	spec, err := r.SpecBySheet("新規to業務管理")
	require.NoError(t, err)
	assert.Equal(t, "contract_creation", spec.TableName)
	assert.Len(t, spec.Columns, 3)

	spec2, err := r.SpecBySheet("退去")
	require.NoError(t, err)
	assert.Equal(t, "move_out_notice", spec2.TableName)
}

func TestRegistry_SpecBySheet_NotFound(t *testing.T) {
	r := DefaultRegistry()

	_, err := r.SpecBySheet("Unknown")
	require.Error(t, err)
	var notFound *ErrNotFound
	assert.ErrorAs(t, err, &notFound)
	assert.Equal(t, "Unknown", notFound.SheetName)
}

func TestRegistry_SpecBySheet_ExactMatchOnly(t *testing.T) {
	r := DefaultRegistry()

	// Strict matching: case and substring variants must not match.
	_, err := r.SpecBySheet("新規TO業務管理")
	assert.Error(t, err)
}

func TestTableSpec_RequiredHeaders(t *testing.T) {
	r := DefaultRegistry()
	spec, err := r.SpecBySheet("退去")
	require.NoError(t, err)

	required := spec.RequiredHeaders()
	assert.Contains(t, required, "契約ID")
	assert.Contains(t, required, "退去予定日")
	assert.NotContains(t, required, "備考")
}

func TestRegistry_Tables_PreservesOrder(t *testing.T) {
	r := DefaultRegistry()
	tables := r.Tables()
	require.Len(t, tables, 2)
	assert.Equal(t, "contract_creation", tables[0].TableName)
	assert.Equal(t, "move_out_notice", tables[1].TableName)
}

func TestNewRegistry_DuplicateSheetNamePanics(t *testing.T) {
	assert.Panics(t, func() {
		NewRegistry([]TableSpec{
			{SheetName: "dup", TableName: "a"},
			{SheetName: "dup", TableName: "b"},
		})
	})
}
