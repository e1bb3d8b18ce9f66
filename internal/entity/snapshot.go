package entity

// Snapshot — клон подтверждённого состояния сущности. Снимается перед
// вызовом адаптера; при отказе адаптера состояние восстанавливается
// (компенсирующий откат вместо блокировки до подтверждения).
type Snapshot struct {
	Raw            map[string]any // текущие сырые значения по имени свойства
	OriginalData   map[string]any
	OriginalParsed map[string]any
	Persisted      bool
	Deleted        bool
}

// Snapshot снимает клон состояния. Все map'ы копируются глубоко.
func (e *Entity) Snapshot() Snapshot {
	raw := make(map[string]any, len(e.props))
	for name, p := range e.props {
		raw[name] = deepCopyValue(p.Raw())
	}
	return Snapshot{
		Raw:            raw,
		OriginalData:   deepCopyMap(e.originalData),
		OriginalParsed: deepCopyMap(e.originalParsed),
		Persisted:      e.persisted,
		Deleted:        e.deleted,
	}
}

// Restore возвращает сущность к снятому ранее состоянию.
func (e *Entity) Restore(s Snapshot) {
	if e.destroyed {
		return
	}
	for name, p := range e.props {
		p.LoadValue(s.Raw[name])
	}
	e.originalData = deepCopyMap(s.OriginalData)
	e.originalParsed = deepCopyMap(s.OriginalParsed)
	e.persisted = s.Persisted
	e.deleted = s.Deleted
}

// OriginalData — копия последних подтверждённых сырых данных.
func (e *Entity) OriginalData() map[string]any {
	return deepCopyMap(e.originalData)
}

// AssignID применяет идентификатор, выданный хранилищем (без валидации).
func (e *Entity) AssignID(id any) error {
	if e.destroyed {
		return ErrDestroyed
	}
	p, ok := e.props[e.sch.IDProperty]
	if !ok {
		return ErrNoSchema
	}
	p.LoadValue(id)
	return nil
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, it := range t {
			out[i] = deepCopyValue(it)
		}
		return out
	default:
		return v
	}
}
