package repo

import (
	"fmt"
	"sort"
	"time"

	"sklad/internal/entity"
	"sklad/internal/schema"
)

// Sorter — критерий сортировки: декларативный (Property/Desc) либо
// функциональный (Fn возвращает знак сравнения).
type Sorter struct {
	Property string
	Desc     bool
	Fn       func(a, b *entity.Entity) int
}

// FromSorterDefs конвертирует сортировки по умолчанию из схемы.
func FromSorterDefs(defs []schema.SorterDef) []Sorter {
	out := make([]Sorter, 0, len(defs))
	for _, d := range defs {
		out = append(out, Sorter{Property: d.Property, Desc: d.Desc})
	}
	return out
}

// applySorters — стабильная мультиключевая сортировка: первый сортер
// главный, равенства разруливает следующий. nulls — в конец.
func applySorters(list []*entity.Entity, sorters []Sorter) {
	if len(sorters) == 0 {
		return
	}
	sort.SliceStable(list, func(i, j int) bool {
		for _, s := range sorters {
			if c := s.compare(list[i], list[j]); c != 0 {
				return c < 0
			}
		}
		return false
	})
}

func (s Sorter) compare(a, b *entity.Entity) int {
	if s.Fn != nil {
		return s.Fn(a, b)
	}
	va := a.Value(s.Property)
	vb := b.Value(s.Property)

	na, nb := va == nil, vb == nil
	if na && nb {
		return 0
	}
	// nulls last независимо от направления
	if na != nb {
		if na {
			return +1
		}
		return -1
	}

	rel := compareValues(va, vb)
	if s.Desc {
		rel = -rel
	}
	return rel
}

// compareValues сравнивает типизированно, со строковым фолбэком.
func compareValues(a, b any) int {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return +1
			default:
				return 0
			}
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			switch {
			case ta.Before(tb):
				return -1
			case ta.After(tb):
				return +1
			default:
				return 0
			}
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			default:
				return +1
			}
		}
	}
	sa := fmt.Sprintf("%v", a)
	sb := fmt.Sprintf("%v", b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return +1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}
