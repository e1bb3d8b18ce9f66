package entity

import (
	"fmt"
	"strings"
	"sync"
)

// ConvertFunc вычисляет значение зависимого свойства: получает сырое
// значение из данных (может быть nil) и уже распарсенные значения
// остальных свойств.
type ConvertFunc func(raw any, values map[string]any) any

// Таблица convert-стратегий: имя из схемы (options: convert=<name>) →
// функция. Разрешается один раз при создании сущности, не мутирует
// инстансы в рантайме.
var (
	convertMu       sync.RWMutex
	convertRegistry = map[string]ConvertFunc{}
)

// RegisterConvert добавляет стратегию под именем name.
func RegisterConvert(name string, fn ConvertFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("entity: convert name and func must be set")
	}
	key := strings.ToLower(name)
	convertMu.Lock()
	defer convertMu.Unlock()
	if _, exists := convertRegistry[key]; exists {
		return fmt.Errorf("entity: convert %q already registered", name)
	}
	convertRegistry[key] = fn
	return nil
}

func lookupConvert(name string) (ConvertFunc, bool) {
	convertMu.RLock()
	defer convertMu.RUnlock()
	fn, ok := convertRegistry[strings.ToLower(name)]
	return fn, ok
}
