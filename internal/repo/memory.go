package repo

import (
	"context"
	"sync"

	"sklad/internal/entity"
	"sklad/internal/property"
	"sklad/internal/schema"
)

// Memory — бэкенд без долговременного хранилища: пересчёт
// sort→filter→paginate идёт целиком в процессе, идентификаторы выдаёт
// сам бэкенд.
type Memory struct {
	sch  *schema.Schema
	seed []map[string]any

	mu  sync.Mutex
	seq int64
}

var _ Backend = (*Memory)(nil)

// NewMemory создаёт бэкенд с начальными записями (могут быть nil).
func NewMemory(sch *schema.Schema, seed []map[string]any) *Memory {
	return &Memory{sch: sch, seed: seed}
}

// NewMemoryRepository — репозиторий с памятью в качестве хранилища.
func NewMemoryRepository(sch *schema.Schema, seed []map[string]any, cfg Config) (*Repository, error) {
	return New(sch, NewMemory(sch, seed), cfg)
}

func (m *Memory) DoLoad(_ context.Context) ([]map[string]any, int, error) {
	out := make([]map[string]any, len(m.seed))
	copy(out, m.seed)
	return out, len(out), nil
}

func (m *Memory) DoAdd(_ context.Context, batch []*entity.Entity) error {
	for _, e := range batch {
		if e.IsPhantom() && !e.HasTempID() {
			// идентификатор выдаёт «хранилище»
			if err := e.AssignID(m.nextID()); err != nil {
				return err
			}
		}
		if err := e.MarkSaved(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) DoEdit(_ context.Context, batch []*entity.Entity) error {
	for _, e := range batch {
		if err := e.MarkSaved(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) DoDelete(_ context.Context, _ []*entity.Entity) error {
	// физического хранилища нет — изъятие из набора делает репозиторий
	return nil
}

func (m *Memory) nextID() any {
	if def, ok := m.sch.IDDef(); ok {
		switch def.Type {
		case schema.TypeInt:
			m.mu.Lock()
			defer m.mu.Unlock()
			m.seq++
			return m.seq
		}
	}
	return property.NewID()
}
