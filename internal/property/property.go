// Package property реализует типизированные ячейки значений сущности:
// parse/display/submit поведение по закрытому набору типов из схемы
// плюс валидация на запись.
package property

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"sklad/internal/schema"

	"github.com/oklog/ulid/v2"
)

// TempIDPrefix помечает временные идентификаторы, выданные до
// подтверждения хранилищем.
const TempIDPrefix = "tmp-"

// Property — одна ячейка: сырое значение + распарсенное.
// Инвариант: parsed == Parse(def, raw) после любой мутации.
type Property struct {
	def    schema.PropertyDef
	raw    any
	parsed any

	// onChange зовётся только когда распарсенное значение реально
	// поменялось (структурное сравнение).
	onChange func(name string, old, new any)

	pattern *regexp.Regexp
}

// New создаёт свойство и сразу применяет сырое значение без валидации
// (как при инициализации из подтверждённых данных).
func New(def schema.PropertyDef, raw any) *Property {
	p := &Property{def: def}
	if def.Pattern != "" {
		// невалидный паттерн в схеме — ошибка конфигурации, ловим при загрузке
		p.pattern = regexp.MustCompile(def.Pattern)
	}
	p.load(raw)
	return p
}

// OnChange устанавливает хук изменения (обычно — владелец-Entity).
func (p *Property) OnChange(fn func(name string, old, new any)) {
	p.onChange = fn
}

func (p *Property) Name() string            { return p.def.Name }
func (p *Property) Def() schema.PropertyDef { return p.def }
func (p *Property) Raw() any                { return p.raw }
func (p *Property) Value() any              { return p.parsed }
func (p *Property) IsSortable() bool        { return p.def.Sortable }

// IsTempID сообщает, что значение — временный идентификатор.
func (p *Property) IsTempID() bool {
	s, ok := p.parsed.(string)
	return ok && strings.HasPrefix(s, TempIDPrefix)
}

// IsEmpty: нет значения (nil или пустая строка).
func (p *Property) IsEmpty() bool {
	if p.parsed == nil {
		return true
	}
	if s, ok := p.parsed.(string); ok && s == "" {
		return true
	}
	return false
}

// load применяет значение без валидации (подтверждённые данные).
func (p *Property) load(raw any) {
	p.raw = raw
	p.parsed = Parse(p.def, raw)
}

// LoadValue применяет сырое значение без валидации и без уведомления —
// путь для подтверждённых данных (reset/loadOriginalData).
func (p *Property) LoadValue(raw any) {
	p.load(raw)
}

// SetValue применяет новое сырое значение: парсит, валидирует, и
// возвращает признак реального изменения. Невалидное значение НЕ
// применяется.
func (p *Property) SetValue(raw any) (changed bool, err error) {
	parsed := Parse(p.def, raw)
	if err := p.validate(raw, parsed); err != nil {
		return false, err
	}
	if structEqual(p.parsed, parsed) {
		// тихая запись того же значения — без уведомления
		p.raw = raw
		return false, nil
	}
	old := p.parsed
	p.raw = raw
	p.parsed = parsed
	if p.onChange != nil {
		p.onChange(p.def.Name, old, parsed)
	}
	return true, nil
}

func (p *Property) validate(raw, parsed any) error {
	name := p.def.Name
	if parsed == nil {
		if raw != nil {
			return Ferr(ErrTypeMismatch, name, fmt.Sprintf("expected %s", p.def.Type))
		}
		if p.def.Required && !p.def.AllowNull {
			return Ferr(ErrRequired, name, "Field '"+name+"' is required")
		}
		return nil
	}
	if p.def.Type == schema.TypeEnum {
		s := fmt.Sprintf("%v", parsed)
		found := false
		for _, ev := range p.def.Enum {
			if s == ev {
				found = true
				break
			}
		}
		if !found {
			return Ferr(ErrEnumInvalid, name, "Invalid value for '"+name+"'")
		}
	}
	if p.pattern != nil {
		if s, ok := parsed.(string); ok && !p.pattern.MatchString(s) {
			return Ferr(ErrPatternMismatch, name, "Field '"+name+"' does not match pattern")
		}
	}
	return nil
}

// DisplayValue — человекочитаемое представление.
func (p *Property) DisplayValue() string {
	if p.parsed == nil {
		return ""
	}
	switch p.def.Type {
	case schema.TypeBool:
		if p.parsed.(bool) {
			return "yes"
		}
		return "no"
	case schema.TypeDate:
		return p.parsed.(time.Time).Format(DateLayout)
	case schema.TypeDatetime:
		return p.parsed.(time.Time).Format(time.RFC3339)
	case schema.TypeCurrency:
		return fmt.Sprintf("%.2f", p.parsed.(float64))
	case schema.TypeJSON:
		b, err := json.Marshal(p.parsed)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", p.parsed)
	}
}

// SubmitValue — представление для отправки в хранилище/на сервер.
func (p *Property) SubmitValue() any {
	if p.parsed == nil {
		return nil
	}
	switch p.def.Type {
	case schema.TypeDate:
		return p.parsed.(time.Time).Format(DateLayout)
	case schema.TypeDatetime:
		return p.parsed.(time.Time).Format(time.RFC3339)
	default:
		return p.parsed
	}
}

// HasNewID: умеет ли свойство само выдавать ПОСТОЯННЫЕ идентификаторы.
// Стратегия есть только у ulid-типа; остальные ждут id от хранилища.
// Временные идентификаторы умеет любой тип (NewTempIDFor).
func (p *Property) HasNewID() bool {
	return p.def.Type == schema.TypeULID
}

// NewID выдаёт постоянный идентификатор (ULID).
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// NewIDFor выдаёт постоянный идентификатор, парсящийся под типом
// identity-свойства: число для int, иначе ULID.
func NewIDFor(def schema.PropertyDef) any {
	if def.Type == schema.TypeInt {
		var b [8]byte
		_, _ = rand.Read(b[:])
		return int64(binary.BigEndian.Uint64(b[:]) >> 1)
	}
	return NewID()
}

// NewTempID выдаёт временный идентификатор с префиксом tmp-.
func NewTempID() string {
	return TempIDPrefix + NewID()
}

// NewTempIDFor выдаёт временный идентификатор под тип identity-свойства:
// после снятия префикса тело обязано парситься этим типом.
func NewTempIDFor(def schema.PropertyDef) string {
	return TempIDPrefix + fmt.Sprintf("%v", NewIDFor(def))
}

// structEqual — структурное, а не ссылочное сравнение значений.
func structEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
