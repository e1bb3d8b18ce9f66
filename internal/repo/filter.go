package repo

import (
	"fmt"
	"reflect"

	"sklad/internal/entity"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Filter — предикат: декларативная пара имя/значение (сравнение с
// распарсенным значением свойства) либо функция.
type Filter struct {
	Property string
	Value    any
	Fn       func(*entity.Entity) bool
}

func (f Filter) match(e *entity.Entity) bool {
	if f.Fn != nil {
		return f.Fn(e)
	}
	v := e.Value(f.Property)
	if reflect.DeepEqual(v, f.Value) {
		return true
	}
	// декларативное значение часто приходит нетипизированным — сравним
	// и строковые представления
	return fmt.Sprintf("%v", v) == fmt.Sprintf("%v", f.Value)
}

// CompileFilterExpr собирает фильтр из выражения expr-lang; окружение —
// распарсенные значения свойств сущности.
// Пример: `age > 30 && status == "active"`.
func CompileFilterExpr(code string) (Filter, error) {
	program, err := expr.Compile(code,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return Filter{}, fmt.Errorf("compile filter %q: %w", code, err)
	}
	return Filter{Fn: exprPredicate(program)}, nil
}

func exprPredicate(program *vm.Program) func(*entity.Entity) bool {
	return func(e *entity.Entity) bool {
		out, err := expr.Run(program, e.Values())
		if err != nil {
			return false
		}
		b, _ := out.(bool)
		return b
	}
}

func applyFilters(list []*entity.Entity, filters []Filter) []*entity.Entity {
	if len(filters) == 0 {
		return list
	}
	out := make([]*entity.Entity, 0, len(list))
	for _, e := range list {
		ok := true
		for _, f := range filters {
			if !f.match(e) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, e)
		}
	}
	return out
}
