package schema

import (
	"fmt"
	"strings"
)

// Property types — закрытый набор, диспетчеризация по дискриминатору Type.
const (
	TypeString   = "string"
	TypeInt      = "int"
	TypeFloat    = "float"
	TypeBool     = "bool"
	TypeDate     = "date"
	TypeDatetime = "datetime"
	TypeEnum     = "enum"
	TypeJSON     = "json"
	TypeULID     = "ulid"
	TypeCurrency = "currency"
)

var knownTypes = map[string]bool{
	TypeString: true, TypeInt: true, TypeFloat: true, TypeBool: true,
	TypeDate: true, TypeDatetime: true, TypeEnum: true, TypeJSON: true,
	TypeULID: true, TypeCurrency: true,
}

// KnownType сообщает, входит ли t в поддерживаемый набор типов свойств.
func KnownType(t string) bool { return knownTypes[strings.ToLower(t)] }

// PropertyDef описывает одно свойство сущности.
type PropertyDef struct {
	Name    string
	Type    string   // string, int, float, bool, date, datetime, enum, json, ulid, currency
	Mapping string   // dotted-путь в сыром объекте ("a.b.c"); пусто = Name
	Depends []string // имена свойств, от которых зависит значение
	Enum    []string // значения enum, если поле типа enum

	AllowNull bool
	Sortable  bool
	Unique    bool
	Required  bool

	Default string // сырое значение по умолчанию (парсится типом)
	Pattern string // regexp-валидатор для строковых значений

	Options map[string]string // прочие опции как есть
}

// SorterDef — сортировка по умолчанию из схемы.
type SorterDef struct {
	Property string
	Desc     bool
}

// Schema описывает структуру сущности. После загрузки неизменяема.
type Schema struct {
	Module     string
	Name       string
	Properties []PropertyDef

	IDProperty      string // свойство-идентификатор (default "id")
	DisplayProperty string
	Sorters         []SorterDef
}

// FQN возвращает полное имя "<module>.<name>".
func (s *Schema) FQN() string {
	return s.Module + "." + s.Name
}

// Property ищет определение свойства по имени.
func (s *Schema) Property(name string) (PropertyDef, bool) {
	for _, p := range s.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return PropertyDef{}, false
}

// IDDef возвращает определение identity-свойства.
func (s *Schema) IDDef() (PropertyDef, bool) {
	return s.Property(s.IDProperty)
}

// Validate проверяет согласованность схемы после загрузки.
func (s *Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schema has no name")
	}
	if s.Module == "" {
		return fmt.Errorf("schema %q has no module — add `module <name>` at the top", s.Name)
	}
	seen := make(map[string]bool, len(s.Properties))
	for _, p := range s.Properties {
		if p.Name == "" {
			return fmt.Errorf("%s: property with empty name", s.FQN())
		}
		if seen[p.Name] {
			return fmt.Errorf("%s: duplicate property %q", s.FQN(), p.Name)
		}
		seen[p.Name] = true
		if !KnownType(p.Type) {
			return fmt.Errorf("%s.%s: unknown type %q", s.FQN(), p.Name, p.Type)
		}
		if p.Type == TypeEnum && len(p.Enum) == 0 {
			return fmt.Errorf("%s.%s: enum without values", s.FQN(), p.Name)
		}
	}
	for _, p := range s.Properties {
		for _, d := range p.Depends {
			if !seen[d] {
				return fmt.Errorf("%s.%s: depends on unknown property %q", s.FQN(), p.Name, d)
			}
		}
	}
	if s.IDProperty != "" && !seen[s.IDProperty] {
		return fmt.Errorf("%s: id property %q is not declared", s.FQN(), s.IDProperty)
	}
	for _, srt := range s.Sorters {
		if !seen[srt.Property] {
			return fmt.Errorf("%s: default sorter references unknown property %q", s.FQN(), srt.Property)
		}
	}
	return nil
}

// normalize проставляет дефолты после парсинга.
func (s *Schema) normalize() {
	if s.IDProperty == "" {
		if _, ok := s.Property("id"); ok {
			s.IDProperty = "id"
		}
	}
	if s.DisplayProperty == "" && len(s.Properties) > 0 {
		s.DisplayProperty = s.Properties[0].Name
	}
}
