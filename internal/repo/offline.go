package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"sklad/internal/entity"
	"sklad/internal/property"
	"sklad/internal/schema"
	"sklad/internal/storage"
)

// Offline — бэкенд поверх key/value адаптера долговременного хранения.
//
// Оптимистичная схема: состояние в памяти мутируется сразу (отзывчивость),
// вызов адаптера идёт следом; отказ адаптера компенсируется откатом к
// снятому перед вызовом клону, а не блокировкой до подтверждения.
// Рядом с записями живёт durable-индекс идентификаторов; его
// read-modify-write сериализуется mu — конкурентный батч-режим
// репозитория зовёт DoAdd/DoDelete из параллельных горутин.
type Offline struct {
	sch *schema.Schema
	ad  storage.Adapter

	mu sync.Mutex // защищает индекс
}

var _ Backend = (*Offline)(nil)

// NewOffline создаёт бэкенд поверх адаптера.
func NewOffline(sch *schema.Schema, ad storage.Adapter) *Offline {
	return &Offline{sch: sch, ad: ad}
}

// NewOfflineRepository — репозиторий с durable-хранилищем.
func NewOfflineRepository(sch *schema.Schema, ad storage.Adapter, cfg Config) (*Repository, error) {
	return New(sch, NewOffline(sch, ad), cfg)
}

func (o *Offline) recordKey(id string) string { return o.sch.FQN() + "/" + id }
func (o *Offline) indexKey() string           { return o.sch.FQN() + "/_index" }

func (o *Offline) readIndex(ctx context.Context) ([]string, error) {
	data, err := o.ad.GetValue(ctx, o.indexKey())
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	return ids, nil
}

func (o *Offline) writeIndex(ctx context.Context, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	if err := o.ad.SetValue(ctx, o.indexKey(), data); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

func (o *Offline) DoLoad(ctx context.Context) ([]map[string]any, int, error) {
	ids, err := o.readIndex(ctx)
	if err != nil {
		return nil, 0, err
	}
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		data, err := o.ad.GetValue(ctx, o.recordKey(id))
		if err != nil {
			return nil, 0, fmt.Errorf("read %s: %w", id, err)
		}
		if data == nil {
			// индекс разошёлся с записями — пропускаем
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, 0, fmt.Errorf("decode %s: %w", id, err)
		}
		out = append(out, rec)
	}
	return out, len(out), nil
}

func (o *Offline) DoAdd(ctx context.Context, batch []*entity.Entity) error {
	for _, e := range batch {
		snap := e.Snapshot()
		if e.IsPhantom() && !e.HasTempID() {
			def, _ := o.sch.IDDef()
			if err := e.AssignID(property.NewIDFor(def)); err != nil {
				return err
			}
		}
		if err := e.MarkSaved(); err != nil {
			e.Restore(snap)
			return err
		}
		if err := o.persistRecord(ctx, e, true); err != nil {
			e.Restore(snap)
			return err
		}
	}
	return nil
}

func (o *Offline) DoEdit(ctx context.Context, batch []*entity.Entity) error {
	for _, e := range batch {
		snap := e.Snapshot()
		if err := e.MarkSaved(); err != nil {
			e.Restore(snap)
			return err
		}
		if err := o.persistRecord(ctx, e, false); err != nil {
			e.Restore(snap)
			return err
		}
	}
	return nil
}

func (o *Offline) DoDelete(ctx context.Context, batch []*entity.Entity) error {
	for _, e := range batch {
		snap := e.Snapshot()
		id := e.IDString()
		if err := o.ad.DeleteValue(ctx, o.recordKey(id)); err != nil {
			e.Restore(snap)
			return fmt.Errorf("delete %s: %w", id, err)
		}
		if err := o.dropFromIndex(ctx, id); err != nil {
			// запись уже стёрта — вернём её, чтобы индекс не разошёлся
			if data, mErr := json.Marshal(snap.OriginalData); mErr == nil {
				_ = o.ad.SetValue(ctx, o.recordKey(id), data)
			}
			e.Restore(snap)
			return err
		}
	}
	return nil
}

// persistRecord пишет подтверждённые данные сущности и, для новых
// записей, дополняет индекс идентификаторов.
func (o *Offline) persistRecord(ctx context.Context, e *entity.Entity, addToIndex bool) error {
	id := e.IDString()
	data, err := json.Marshal(e.OriginalData())
	if err != nil {
		return err
	}
	if err := o.ad.SetValue(ctx, o.recordKey(id), data); err != nil {
		return fmt.Errorf("write %s: %w", id, err)
	}
	if !addToIndex {
		return nil
	}
	if err := o.appendToIndex(ctx, id); err != nil {
		// индекс не записался — компенсируем только что записанную запись
		_ = o.ad.DeleteValue(ctx, o.recordKey(id))
		return err
	}
	return nil
}

// appendToIndex дописывает идентификатор; читать и писать индекс можно
// только под mu, иначе параллельные добавления затирают друг друга.
func (o *Offline) appendToIndex(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids, err := o.readIndex(ctx)
	if err != nil {
		return err
	}
	for _, x := range ids {
		if x == id {
			return nil
		}
	}
	return o.writeIndex(ctx, append(ids, id))
}

// dropFromIndex убирает идентификатор; та же дисциплина, что и append.
func (o *Offline) dropFromIndex(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids, err := o.readIndex(ctx)
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, x := range ids {
		if x != id {
			kept = append(kept, x)
		}
	}
	return o.writeIndex(ctx, kept)
}
