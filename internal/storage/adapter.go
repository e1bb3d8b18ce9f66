// Package storage — контракт key/value адаптеров долговременного
// хранения и их реализации (memory, sqlite, postgres). Ядро переживает
// отказ любого вызова адаптера: откат делает владеющий репозиторий.
package storage

import "context"

// Adapter — узкий контракт хранилища. GetValue возвращает (nil, nil)
// для отсутствующего ключа.
type Adapter interface {
	GetValue(ctx context.Context, key string) ([]byte, error)
	SetValue(ctx context.Context, key string, value []byte) error
	DeleteValue(ctx context.Context, key string) error
}

// Keys возвращает все ключи с данным префиксом, если адаптер это умеет.
// Опциональное расширение контракта.
type Keys interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}
