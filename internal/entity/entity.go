// Package entity реализует запись: упорядоченный набор типизированных
// свойств с отслеживанием состояний dirty/phantom/persisted/deleted и
// двусторонним маппингом вложенных данных.
package entity

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"sklad/internal/events"
	"sklad/internal/property"
	"sklad/internal/schema"
)

var (
	// ErrDestroyed — операция над уничтоженной сущностью (ошибка
	// использования, поднимается синхронно).
	ErrDestroyed = errors.New("entity: operation on destroyed entity")
	// ErrNoSchema — сущность без схемы не живёт.
	ErrNoSchema = errors.New("entity: schema is required")
	// ErrUndeleteAutoSave — возврат удаления запрещён при авто-сохранении.
	ErrUndeleteAutoSave = errors.New("entity: cannot undelete while auto-saving")
)

// Entity — одна запись.
//
// Инварианты:
//   - IsPhantom ⇔ identity-свойство пустое или временное;
//   - IsDirty ⇔ текущие распарсенные значения структурно отличаются от
//     originalParsed;
//   - originalData реконструируемо из текущих сырых значений через
//     обратный маппинг (WriteOriginal).
type Entity struct {
	sch   *schema.Schema
	props map[string]*property.Property
	order []string

	originalData   map[string]any // сырое, вложенная форма
	originalParsed map[string]any // по имени свойства

	persisted bool
	deleted   bool
	destroyed bool
	autoSave  bool

	lastID  string
	emitter *events.Emitter

	converts map[string]ConvertFunc // разрешено при создании
}

// New создаёт новую (ещё не подтверждённую хранилищем) сущность.
func New(sch *schema.Schema, raw map[string]any) (*Entity, error) {
	return construct(sch, raw, false)
}

// Load создаёт сущность из подтверждённых данных (например, страница из
// хранилища): persisted = true.
func Load(sch *schema.Schema, raw map[string]any) (*Entity, error) {
	return construct(sch, raw, true)
}

func construct(sch *schema.Schema, raw map[string]any, persisted bool) (*Entity, error) {
	if sch == nil {
		return nil, ErrNoSchema
	}
	e := &Entity{
		sch:       sch,
		props:     make(map[string]*property.Property, len(sch.Properties)),
		persisted: persisted,
		emitter:   events.NewEmitter(),
		converts:  map[string]ConvertFunc{},
	}
	// convert-стратегии разрешаем один раз, здесь
	for _, def := range sch.Properties {
		e.order = append(e.order, def.Name)
		if name := def.Options["convert"]; name != "" {
			fn, ok := lookupConvert(name)
			if !ok {
				return nil, fmt.Errorf("entity %s: convert %q is not registered", sch.FQN(), name)
			}
			e.converts[def.Name] = fn
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	e.applyOriginal(raw)
	return e, nil
}

// applyOriginal принимает raw как подтверждённые данные и
// инициализирует свойства из них. Данные копируются глубоко: карта
// вызывающей стороны не должна алиасить подтверждённый снимок.
func (e *Entity) applyOriginal(raw map[string]any) {
	raw = deepCopyMap(raw)
	e.originalData = raw
	e.buildProperties(raw)
	e.snapshotParsed()
}

// buildProperties заполняет свойства из raw в два прохода: сначала
// независимые, затем объявившие depends. Многоуровневые цепочки
// зависимостей не гарантированы (однопроходное разрешение).
func (e *Entity) buildProperties(raw map[string]any) {
	resolve := func(def schema.PropertyDef, withDeps bool) {
		if (len(def.Depends) > 0) != withDeps {
			return
		}
		rawVal := e.readRaw(raw, def)
		if withDeps {
			if fn, ok := e.converts[def.Name]; ok {
				rawVal = fn(rawVal, e.Values())
			}
		}
		if p, ok := e.props[def.Name]; ok {
			// повторная инициализация (reset) — без валидации и без
			// уведомлений, это подтверждённые данные
			p.LoadValue(rawVal)
			return
		}
		p := property.New(def, rawVal)
		name := def.Name
		p.OnChange(func(_ string, old, new any) {
			e.emitter.Emit(events.EventChange, map[string]any{
				"property": name, "old": old, "new": new,
			})
		})
		e.props[name] = p
	}
	for _, def := range e.sch.Properties {
		resolve(def, false)
	}
	for _, def := range e.sch.Properties {
		resolve(def, true)
	}
}

// readRaw достаёт сырое значение свойства из вложенного объекта:
// по маппингу либо по прямому ключу; default — если данных нет.
func (e *Entity) readRaw(raw map[string]any, def schema.PropertyDef) any {
	var v any
	if def.Mapping != "" {
		v = ReadMapped(raw, def.Mapping)
	} else if raw != nil {
		v = raw[def.Name]
	}
	if v == nil && def.Default != "" {
		v = def.Default
	}
	return v
}

func (e *Entity) snapshotParsed() {
	snap := make(map[string]any, len(e.props))
	for name, p := range e.props {
		snap[name] = p.Value()
	}
	e.originalParsed = snap
}

// Schema возвращает схему сущности (nil после Destroy).
func (e *Entity) Schema() *schema.Schema { return e.sch }

// Emitter — для подписки на change/destroy.
func (e *Entity) Emitter() *events.Emitter { return e.emitter }

// Property возвращает свойство по имени.
func (e *Entity) Property(name string) (*property.Property, bool) {
	p, ok := e.props[name]
	return p, ok
}

// ID — распарсенное значение identity-свойства.
func (e *Entity) ID() any {
	if e.destroyed {
		return e.lastID
	}
	p, ok := e.props[e.sch.IDProperty]
	if !ok {
		return nil
	}
	return p.Value()
}

// IDString — идентификатор строкой ("" если нет).
func (e *Entity) IDString() string {
	v := e.ID()
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// IsPhantom: нет подтверждённого постоянного идентификатора.
func (e *Entity) IsPhantom() bool {
	if e.destroyed {
		return false
	}
	p, ok := e.props[e.sch.IDProperty]
	if !ok {
		return true
	}
	return p.IsEmpty() || p.IsTempID()
}

// HasTempID: identity-свойство держит временный идентификатор.
func (e *Entity) HasTempID() bool {
	if e.destroyed {
		return false
	}
	p, ok := e.props[e.sch.IDProperty]
	return ok && p.IsTempID()
}

// IsDirty: текущие значения структурно отличаются от последнего
// подтверждённого снимка.
func (e *Entity) IsDirty() bool {
	if e.destroyed {
		return false
	}
	for name, p := range e.props {
		if !reflect.DeepEqual(p.Value(), e.originalParsed[name]) {
			return true
		}
	}
	return false
}

func (e *Entity) IsPersisted() bool { return e.persisted }
func (e *Entity) IsDeleted() bool   { return e.deleted }
func (e *Entity) IsDestroyed() bool { return e.destroyed }

// SetAutoSave помечается владеющим репозиторием; блокирует Undelete.
func (e *Entity) SetAutoSave(v bool) { e.autoSave = v }

// Value — распарсенное значение свойства.
func (e *Entity) Value(name string) any {
	if p, ok := e.props[name]; ok {
		return p.Value()
	}
	return nil
}

// DisplayValue — человекочитаемое значение свойства.
func (e *Entity) DisplayValue(name string) string {
	if p, ok := e.props[name]; ok {
		return p.DisplayValue()
	}
	return ""
}

// Display — значение display-свойства.
func (e *Entity) Display() string {
	if e.destroyed {
		return e.lastID
	}
	return e.DisplayValue(e.sch.DisplayProperty)
}

// SetValue мутирует одно свойство. Невалидное значение блокируется.
func (e *Entity) SetValue(name string, raw any) (bool, error) {
	if e.destroyed {
		return false, ErrDestroyed
	}
	p, ok := e.props[name]
	if !ok {
		return false, property.Ferr(property.ErrNotFound, name, "Unknown property '"+name+"'")
	}
	return p.SetValue(raw)
}

// SetValues мутирует несколько свойств; ошибки собираются, валидные
// записи применяются.
func (e *Entity) SetValues(values map[string]any) (changed bool, errs []error) {
	if e.destroyed {
		return false, []error{ErrDestroyed}
	}
	for name, raw := range values {
		ch, err := e.SetValue(name, raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		changed = changed || ch
	}
	return changed, errs
}

// Values — снимок распарсенных значений по имени свойства.
func (e *Entity) Values() map[string]any {
	out := make(map[string]any, len(e.props))
	for name, p := range e.props {
		out[name] = p.Value()
	}
	return out
}

// SubmitData — плоские submit-значения для отправки.
func (e *Entity) SubmitData() map[string]any {
	out := make(map[string]any, len(e.props))
	for _, name := range e.order {
		if p, ok := e.props[name]; ok {
			out[name] = p.SubmitValue()
		}
	}
	return out
}

// WriteOriginal реконструирует вложенную сырую форму из текущих сырых
// значений через обратный маппинг.
func (e *Entity) WriteOriginal() map[string]any {
	out := map[string]any{}
	for _, name := range e.order {
		p, ok := e.props[name]
		if !ok {
			continue
		}
		def := p.Def()
		if def.Mapping != "" {
			out = DeepMerge(out, ReverseMap(def.Mapping, p.Raw()))
			continue
		}
		out[name] = p.Raw()
	}
	return out
}

// Reset откатывает свойства к originalData. После вызова IsDirty == false.
func (e *Entity) Reset() error {
	if e.destroyed {
		return ErrDestroyed
	}
	e.buildProperties(e.originalData)
	e.snapshotParsed()
	return nil
}

// LoadOriginalData принимает новые подтверждённые данные и
// переинициализирует свойства из них.
func (e *Entity) LoadOriginalData(raw map[string]any) error {
	if e.destroyed {
		return ErrDestroyed
	}
	if raw == nil {
		raw = map[string]any{}
	}
	e.applyOriginal(raw)
	e.emitter.Emit(events.EventChangeData, nil)
	return nil
}

// CreateTempID выдаёт временный идентификатор. Стратегия есть у любого
// типа identity-свойства: тело подбирается так, чтобы после промоушена
// оно распарсилось объявленным типом. Сущность остаётся фантомом.
func (e *Entity) CreateTempID() (string, error) {
	if e.destroyed {
		return "", ErrDestroyed
	}
	p, ok := e.props[e.sch.IDProperty]
	if !ok {
		return "", nil
	}
	if !p.IsEmpty() {
		return e.IDString(), nil
	}
	id := property.NewTempIDFor(p.Def())
	if _, err := p.SetValue(id); err != nil {
		return "", err
	}
	return id, nil
}

// MarkSaved: подтверждение хранилища. Временный идентификатор становится
// постоянным, текущее состояние — новым оригиналом, dirty снимается.
func (e *Entity) MarkSaved() error {
	if e.destroyed {
		return ErrDestroyed
	}
	if p, ok := e.props[e.sch.IDProperty]; ok && p.IsTempID() {
		perm := strings.TrimPrefix(p.Value().(string), property.TempIDPrefix)
		if _, err := p.SetValue(perm); err != nil {
			return err
		}
	}
	e.persisted = true
	e.originalData = deepCopyMap(e.WriteOriginal())
	e.snapshotParsed()
	e.emitter.Emit(events.EventSave, nil)
	return nil
}

// MarkDeleted помечает сущность на удаление.
func (e *Entity) MarkDeleted() error {
	if e.destroyed {
		return ErrDestroyed
	}
	e.deleted = true
	e.emitter.Emit(events.EventDelete, nil)
	return nil
}

// Undelete снимает пометку удаления; запрещён при авто-сохранении —
// удаление могло уже уйти в хранилище.
func (e *Entity) Undelete() error {
	if e.destroyed {
		return ErrDestroyed
	}
	if e.autoSave {
		return ErrUndeleteAutoSave
	}
	e.deleted = false
	return nil
}

// Destroy рвёт ссылки на схему/свойства. Необратимо; последний известный
// идентификатор сохраняется.
func (e *Entity) Destroy() {
	if e.destroyed {
		return
	}
	e.lastID = e.IDString()
	e.emitter.Emit(events.EventDestroy, e.lastID)
	e.emitter.Destroy()
	e.destroyed = true
	e.props = nil
	e.sch = nil
	e.originalData = nil
	e.originalParsed = nil
}
