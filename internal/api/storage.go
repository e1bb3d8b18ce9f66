// Package api — эталонный record-сервер: удалённый конец синхронизации
// и интеграционная обвязка для тестов. Хранит записи в памяти, id —
// ULID, оптимистичная конкуренция через счётчик версий.
package api

import (
	"io"
	"math/rand"
	"sync"
	"time"

	"sklad/internal/schema"

	"github.com/oklog/ulid/v2"
)

// Record — одна запись на сервере.
type Record struct {
	ID        string         `json:"id"`
	Version   int64          `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Deleted   bool           `json:"-"`
	Data      map[string]any `json:"data"`
}

// Storage — in-memory хранилище сервера.
type Storage struct {
	mu      sync.RWMutex
	Schemas map[string]*schema.Schema     // FQN ("module.name") -> схема
	Data    map[string]map[string]*Record // FQN -> id -> запись
	entropy io.Reader
}

// NewStorage наполняет схемы и готов к работе.
func NewStorage(schemas map[string]*schema.Schema) *Storage {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	s := &Storage{
		Schemas: make(map[string]*schema.Schema, len(schemas)),
		Data:    make(map[string]map[string]*Record),
		entropy: ulid.Monotonic(src, 0),
	}
	for fqn, sch := range schemas {
		s.Schemas[fqn] = sch
	}
	return s
}

func (s *Storage) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// Lookup находит схему по паре module/entity.
func (s *Storage) Lookup(module, entity string) (string, *schema.Schema, bool) {
	fqn := module + "." + entity
	s.mu.RLock()
	defer s.mu.RUnlock()
	sch, ok := s.Schemas[fqn]
	return fqn, sch, ok
}

// Exists: живая запись с таким id.
func (s *Storage) Exists(fqn, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.Data[fqn]
	if m == nil {
		return false
	}
	rec := m[id]
	return rec != nil && !rec.Deleted
}
