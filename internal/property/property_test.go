package property

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sklad/internal/schema"
)

func TestParseTotality(t *testing.T) {
	// мусор и nil не роняют парсер — просто nil
	cases := []struct {
		typ string
		raw any
	}{
		{schema.TypeInt, "abc"},
		{schema.TypeInt, 7.5},
		{schema.TypeFloat, "not a number"},
		{schema.TypeBool, "maybe"},
		{schema.TypeDate, "вчера"},
		{schema.TypeJSON, "{broken"},
		{schema.TypeString, nil},
	}
	for _, c := range cases {
		assert.Nil(t, Parse(schema.PropertyDef{Name: "x", Type: c.typ}, c.raw),
			"type=%s raw=%v", c.typ, c.raw)
	}
}

func TestParseCoercion(t *testing.T) {
	intDef := schema.PropertyDef{Name: "n", Type: schema.TypeInt}
	assert.Equal(t, int64(42), Parse(intDef, "42"))
	assert.Equal(t, int64(7), Parse(intDef, 7.0)) // json-число без дробной части

	curDef := schema.PropertyDef{Name: "price", Type: schema.TypeCurrency}
	assert.Equal(t, 10.46, Parse(curDef, 10.456))
	assert.Equal(t, 99.99, Parse(curDef, "99,99")) // запятая как десятичный разделитель

	boolDef := schema.PropertyDef{Name: "b", Type: schema.TypeBool}
	assert.Equal(t, true, Parse(boolDef, "yes"))
	assert.Equal(t, false, Parse(boolDef, 0))
}

func TestParseDateTruncatesToMidnight(t *testing.T) {
	def := schema.PropertyDef{Name: "d", Type: schema.TypeDate}
	got := Parse(def, "2024-03-05 10:11:12")
	require.IsType(t, time.Time{}, got)
	tt := got.(time.Time)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), tt)
}

func TestParseJSONCanonical(t *testing.T) {
	def := schema.PropertyDef{Name: "j", Type: schema.TypeJSON}
	a := Parse(def, `{"x": 1, "y": [1, 2]}`)
	b := Parse(def, map[string]any{"x": 1, "y": []any{1, 2}})
	assert.Equal(t, a, b) // round-trip канонизирует числа/слайсы
}

func TestSetValueInvalidNotApplied(t *testing.T) {
	p := New(schema.PropertyDef{Name: "age", Type: schema.TypeInt}, 30)
	changed, err := p.SetValue("not-a-number")
	require.Error(t, err)
	assert.False(t, changed)
	fe, ok := err.(FieldError)
	require.True(t, ok)
	assert.Equal(t, ErrTypeMismatch, fe.Code)
	assert.Equal(t, int64(30), p.Value()) // старое значение на месте
}

func TestSetValueEnumAndPattern(t *testing.T) {
	e := New(schema.PropertyDef{Name: "status", Type: schema.TypeEnum,
		Enum: []string{"new", "done"}}, nil)
	_, err := e.SetValue("in_progress")
	require.Error(t, err)
	assert.Equal(t, ErrEnumInvalid, err.(FieldError).Code)
	_, err = e.SetValue("done")
	require.NoError(t, err)

	sku := New(schema.PropertyDef{Name: "sku", Type: schema.TypeString,
		Pattern: `^[A-Z0-9_-]+$`}, nil)
	_, err = sku.SetValue("молоток")
	require.Error(t, err)
	assert.Equal(t, ErrPatternMismatch, err.(FieldError).Code)
	_, err = sku.SetValue("HAMMER-01")
	require.NoError(t, err)
}

func TestSetValueRequiredNull(t *testing.T) {
	p := New(schema.PropertyDef{Name: "name", Type: schema.TypeString, Required: true}, "x")
	_, err := p.SetValue(nil)
	require.Error(t, err)
	assert.Equal(t, ErrRequired, err.(FieldError).Code)

	nullable := New(schema.PropertyDef{Name: "note", Type: schema.TypeString,
		Required: true, AllowNull: true}, "x")
	_, err = nullable.SetValue(nil)
	assert.NoError(t, err)
}

func TestSetValueNotifiesOnlyOnRealChange(t *testing.T) {
	p := New(schema.PropertyDef{Name: "n", Type: schema.TypeInt}, nil)
	calls := 0
	p.OnChange(func(string, any, any) { calls++ })

	changed, err := p.SetValue(5)
	require.NoError(t, err)
	assert.True(t, changed)

	// та же величина в другом сыром виде — структурно то же значение
	changed, err = p.SetValue("5")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, calls)
}

func TestDisplayValue(t *testing.T) {
	b := New(schema.PropertyDef{Name: "b", Type: schema.TypeBool}, true)
	assert.Equal(t, "yes", b.DisplayValue())

	c := New(schema.PropertyDef{Name: "c", Type: schema.TypeCurrency}, 10.5)
	assert.Equal(t, "10.50", c.DisplayValue())

	d := New(schema.PropertyDef{Name: "d", Type: schema.TypeDate}, "2024-01-02")
	assert.Equal(t, "2024-01-02", d.DisplayValue())

	empty := New(schema.PropertyDef{Name: "e", Type: schema.TypeString}, nil)
	assert.Equal(t, "", empty.DisplayValue())
}

func TestSubmitValueDates(t *testing.T) {
	d := New(schema.PropertyDef{Name: "d", Type: schema.TypeDate}, "2024-01-02")
	assert.Equal(t, "2024-01-02", d.SubmitValue())

	n := New(schema.PropertyDef{Name: "n", Type: schema.TypeInt}, "7")
	assert.Equal(t, int64(7), n.SubmitValue())
}

func TestTempIDs(t *testing.T) {
	tmp := NewTempID()
	assert.Contains(t, tmp, TempIDPrefix)

	p := New(schema.PropertyDef{Name: "id", Type: schema.TypeULID}, tmp)
	assert.True(t, p.IsTempID())
	assert.True(t, p.HasNewID())

	perm := New(schema.PropertyDef{Name: "id", Type: schema.TypeULID}, NewID())
	assert.False(t, perm.IsTempID())

	plain := New(schema.PropertyDef{Name: "id", Type: schema.TypeString}, "abc")
	assert.False(t, plain.HasNewID()) // постоянный id выдаёт хранилище

	// временные умеет любой тип: тело под int парсится после снятия префикса
	intDef := schema.PropertyDef{Name: "id", Type: schema.TypeInt}
	itmp := NewTempIDFor(intDef)
	ip := New(intDef, itmp)
	assert.True(t, ip.IsTempID())
	assert.NotNil(t, Parse(intDef, strings.TrimPrefix(itmp, TempIDPrefix)))
}
