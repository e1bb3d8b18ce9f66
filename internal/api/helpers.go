package api

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"sklad/internal/property"
	"sklad/internal/schema"
)

func flatten(rec *Record) map[string]any {
	out := map[string]any{
		"id":         rec.ID,
		"version":    rec.Version,
		"created_at": rec.CreatedAt.Format(time.RFC3339),
		"updated_at": rec.UpdatedAt.Format(time.RFC3339),
	}
	for k, v := range rec.Data {
		// пользовательские поля не перетирают служебные при совпадении
		if _, clash := out[k]; clash {
			out["data."+k] = v
			continue
		}
		out[k] = v
	}
	return out
}

// validateRecord прогоняет данные через типизацию свойств.
func validateRecord(sch *schema.Schema, obj map[string]any) []property.FieldError {
	var errs []property.FieldError
	for _, def := range sch.Properties {
		if def.Name == sch.IDProperty {
			continue
		}
		v, ok := obj[def.Name]
		if !ok {
			if def.Required {
				errs = append(errs, property.Ferr(property.ErrRequired, def.Name,
					"Field '"+def.Name+"' is required"))
			}
			continue
		}
		p := property.New(def, nil)
		if _, err := p.SetValue(v); err != nil {
			if fe, okFE := err.(property.FieldError); okFE {
				errs = append(errs, fe)
			} else {
				errs = append(errs, property.Ferr(property.ErrTypeMismatch, def.Name, err.Error()))
			}
		}
	}
	return errs
}

// uniqueOK — проверка уникальности по полю (in-memory).
func (s *Storage) uniqueOK(fqn, field string, value any, exceptID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, rec := range s.Data[fqn] {
		if rec.Deleted || id == exceptID {
			continue
		}
		if v, ok := rec.Data[field]; ok {
			if stringify(v) == stringify(value) {
				return false
			}
		}
	}
	return true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

// liveRecords — все живые записи сущности, отсортированные по id для
// стабильного базового порядка.
func (s *Storage) liveRecords(fqn string) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.Data[fqn]))
	for _, r := range s.Data[fqn] {
		if !r.Deleted {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
