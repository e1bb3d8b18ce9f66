package entity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sklad/internal/events"
	"sklad/internal/property"
	"sklad/internal/schema"
)

func clientSchema() *schema.Schema {
	return &schema.Schema{
		Module:          "crm",
		Name:            "Client",
		IDProperty:      "id",
		DisplayProperty: "name",
		Properties: []schema.PropertyDef{
			{Name: "id", Type: schema.TypeULID},
			{Name: "name", Type: schema.TypeString, Required: true},
			{Name: "age", Type: schema.TypeInt, AllowNull: true},
			{Name: "city", Type: schema.TypeString, Mapping: "address.city"},
			{Name: "zip", Type: schema.TypeString, Mapping: "address.geo.zip"},
		},
	}
}

func TestPhantomLifecycle(t *testing.T) {
	e, err := New(clientSchema(), map[string]any{"name": "Иванов"})
	require.NoError(t, err)

	assert.True(t, e.IsPhantom())
	assert.False(t, e.IsPersisted())
	assert.False(t, e.HasTempID())

	tmp, err := e.CreateTempID()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tmp, property.TempIDPrefix))
	assert.True(t, e.HasTempID())
	assert.True(t, e.IsPhantom()) // временный id — всё ещё фантом

	require.NoError(t, e.MarkSaved())
	assert.False(t, e.IsPhantom())
	assert.True(t, e.IsPersisted())
	assert.False(t, e.IsDirty())
	assert.Equal(t, strings.TrimPrefix(tmp, property.TempIDPrefix), e.IDString())
}

func TestCreateTempIDKeepsExisting(t *testing.T) {
	e, err := New(clientSchema(), map[string]any{"id": "01ARZ3NDEKTSV4RRFFQ69G5FAV", "name": "x"})
	require.NoError(t, err)
	id, err := e.CreateTempID()
	require.NoError(t, err)
	assert.Equal(t, "01ARZ3NDEKTSV4RRFFQ69G5FAV", id)
}

func TestIntIDTempLifecycle(t *testing.T) {
	sch := &schema.Schema{
		Module: "crm", Name: "Ticket",
		IDProperty: "id", DisplayProperty: "title",
		Properties: []schema.PropertyDef{
			{Name: "id", Type: schema.TypeInt},
			{Name: "title", Type: schema.TypeString},
		},
	}
	e, err := New(sch, map[string]any{"title": "без номера"})
	require.NoError(t, err)
	assert.True(t, e.IsPhantom())

	// числовой идентификатор тоже получает временный — tmp-тело
	// обязано распарситься int'ом после промоушена
	tmp, err := e.CreateTempID()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tmp, property.TempIDPrefix))
	assert.True(t, e.HasTempID())
	assert.True(t, e.IsPhantom())

	require.NoError(t, e.MarkSaved())
	assert.False(t, e.IsPhantom())
	_, isInt := e.ID().(int64)
	assert.True(t, isInt)
	assert.Equal(t, strings.TrimPrefix(tmp, property.TempIDPrefix), e.IDString())
}

func TestCallerMapMutationDoesNotLeak(t *testing.T) {
	raw := map[string]any{
		"id": "a1", "name": "Иванов",
		"address": map[string]any{"city": "Тверь"},
	}
	e, err := Load(clientSchema(), raw)
	require.NoError(t, err)

	// вызывающая сторона портит свою карту — подтверждённый снимок
	// не алиасит её
	raw["name"] = "Петров"
	raw["address"].(map[string]any)["city"] = "Москва"

	assert.False(t, e.IsDirty())
	assert.Equal(t, "Иванов", e.OriginalData()["name"])
	assert.Equal(t, "Тверь", e.Value("city"))
	require.NoError(t, e.Reset())
	assert.Equal(t, "Иванов", e.Value("name"))
}

func TestDirtyAndReset(t *testing.T) {
	e, err := Load(clientSchema(), map[string]any{"id": "a1", "name": "Иванов", "age": 30})
	require.NoError(t, err)
	assert.True(t, e.IsPersisted())
	assert.False(t, e.IsDirty())

	changed, err := e.SetValue("name", "Петров")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, e.IsDirty())

	require.NoError(t, e.Reset())
	assert.False(t, e.IsDirty())
	assert.Equal(t, "Иванов", e.Value("name"))
}

func TestSetValueInvalidKeepsState(t *testing.T) {
	e, err := Load(clientSchema(), map[string]any{"id": "a1", "name": "Иванов", "age": 30})
	require.NoError(t, err)

	_, err = e.SetValue("age", "not a number")
	require.Error(t, err)
	assert.Equal(t, int64(30), e.Value("age"))
	assert.False(t, e.IsDirty())
}

func TestMappingRoundTrip(t *testing.T) {
	raw := map[string]any{
		"id":   "a1",
		"name": "Иванов",
		"address": map[string]any{
			"city": "Пермь",
			"geo":  map[string]any{"zip": "614000"},
		},
	}
	e, err := Load(clientSchema(), raw)
	require.NoError(t, err)
	assert.Equal(t, "Пермь", e.Value("city"))
	assert.Equal(t, "614000", e.Value("zip"))

	// реконструкция вложенной формы из плоских свойств
	out := e.WriteOriginal()
	addr, ok := out["address"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Пермь", addr["city"])
	geo, ok := addr["geo"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "614000", geo["zip"])
}

func TestMappingMissingHopIsNil(t *testing.T) {
	e, err := Load(clientSchema(), map[string]any{"id": "a1", "name": "x"})
	require.NoError(t, err)
	assert.Nil(t, e.Value("city"))
	assert.Nil(t, e.Value("zip"))
}

func TestReadMapped(t *testing.T) {
	raw := map[string]any{"a": map[string]any{"b": map[string]any{"c": 1}}}
	assert.Equal(t, 1, ReadMapped(raw, "a.b.c"))
	assert.Nil(t, ReadMapped(raw, "a.x.c"))
	assert.Nil(t, ReadMapped(raw, "a.b.c.d")) // c — не объект
	assert.Nil(t, ReadMapped(nil, "a"))
}

func TestDeepMergeReverseMap(t *testing.T) {
	m := DeepMerge(ReverseMap("a.b", 1), ReverseMap("a.c", 2))
	a := m["a"].(map[string]any)
	assert.Equal(t, 1, a["b"])
	assert.Equal(t, 2, a["c"])
}

func TestSnapshotRestore(t *testing.T) {
	e, err := Load(clientSchema(), map[string]any{"id": "a1", "name": "Иванов"})
	require.NoError(t, err)

	snap := e.Snapshot()
	_, err = e.SetValue("name", "Петров")
	require.NoError(t, err)
	require.NoError(t, e.MarkSaved())
	require.NoError(t, e.MarkDeleted())

	e.Restore(snap)
	assert.Equal(t, "Иванов", e.Value("name"))
	assert.False(t, e.IsDirty())
	assert.False(t, e.IsDeleted())
	assert.Equal(t, "Иванов", e.OriginalData()["name"])
}

func TestUndeleteForbiddenWithAutoSave(t *testing.T) {
	e, err := Load(clientSchema(), map[string]any{"id": "a1", "name": "x"})
	require.NoError(t, err)

	require.NoError(t, e.MarkDeleted())
	require.NoError(t, e.Undelete())
	assert.False(t, e.IsDeleted())

	e.SetAutoSave(true)
	require.NoError(t, e.MarkDeleted())
	assert.ErrorIs(t, e.Undelete(), ErrUndeleteAutoSave)
}

func TestDestroyKeepsLastID(t *testing.T) {
	e, err := Load(clientSchema(), map[string]any{"id": "a1", "name": "x"})
	require.NoError(t, err)

	e.Destroy()
	assert.True(t, e.IsDestroyed())
	assert.Equal(t, "a1", e.IDString())

	_, err = e.SetValue("name", "y")
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.ErrorIs(t, e.MarkSaved(), ErrDestroyed)
}

func TestDefaultValue(t *testing.T) {
	sch := clientSchema()
	sch.Properties = append(sch.Properties,
		schema.PropertyDef{Name: "country", Type: schema.TypeString, Default: "RU"})
	e, err := New(sch, map[string]any{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, "RU", e.Value("country"))
}

func TestConvertStrategy(t *testing.T) {
	require.NoError(t, RegisterConvert("full_name_test", func(_ any, values map[string]any) any {
		first, _ := values["first"].(string)
		last, _ := values["last"].(string)
		return strings.TrimSpace(first + " " + last)
	}))

	sch := &schema.Schema{
		Module: "crm", Name: "Person", IDProperty: "id",
		Properties: []schema.PropertyDef{
			{Name: "id", Type: schema.TypeULID},
			{Name: "first", Type: schema.TypeString},
			{Name: "last", Type: schema.TypeString},
			{Name: "full", Type: schema.TypeString,
				Depends: []string{"first", "last"},
				Options: map[string]string{"convert": "full_name_test"}},
		},
	}
	e, err := Load(sch, map[string]any{"id": "p1", "first": "Анна", "last": "Ким"})
	require.NoError(t, err)
	assert.Equal(t, "Анна Ким", e.Value("full"))

	// незарегистрированная стратегия — ошибка создания
	sch2 := &schema.Schema{
		Module: "crm", Name: "Broken", IDProperty: "id",
		Properties: []schema.PropertyDef{
			{Name: "id", Type: schema.TypeULID},
			{Name: "x", Type: schema.TypeString,
				Depends: []string{"id"},
				Options: map[string]string{"convert": "no_such"}},
		},
	}
	_, err = Load(sch2, nil)
	require.Error(t, err)
}

func TestChangeEvent(t *testing.T) {
	e, err := Load(clientSchema(), map[string]any{"id": "a1", "name": "x"})
	require.NoError(t, err)

	var got []events.Event
	e.Emitter().On(events.EventChange, func(ev events.Event) { got = append(got, ev) })

	_, err = e.SetValue("name", "y")
	require.NoError(t, err)
	_, err = e.SetValue("name", "y") // то же значение — без события
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
