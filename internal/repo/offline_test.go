package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sklad/internal/storage"
)

func TestOfflinePersistAndReload(t *testing.T) {
	ctx := context.Background()
	sch := productSchema()
	ad := storage.NewMemory()

	r, err := NewOfflineRepository(sch, ad, Config{})
	require.NoError(t, err)
	require.NoError(t, r.Load(ctx))

	e, err := r.Add(ctx, map[string]any{"name": "hammer", "price": 10.5})
	require.NoError(t, err)
	require.NoError(t, r.Save(ctx, e))
	id := e.IDString()

	// свежий репозиторий над тем же адаптером видит запись
	r2, err := NewOfflineRepository(sch, ad, Config{})
	require.NoError(t, err)
	require.NoError(t, r2.Load(ctx))
	got := r2.GetByID(id)
	require.NotNil(t, got)
	assert.Equal(t, "hammer", got.Value("name"))
	assert.Equal(t, 10.5, got.Value("price"))
	assert.True(t, got.IsPersisted())
}

func TestOfflineAddRollback(t *testing.T) {
	ctx := context.Background()
	ad := storage.NewMemory()
	r, err := NewOfflineRepository(productSchema(), ad, Config{})
	require.NoError(t, err)
	require.NoError(t, r.Load(ctx))

	ad.FailSet = errors.New("disk full")
	e, err := r.Add(ctx, map[string]any{"name": "hammer"})
	require.NoError(t, err)
	tmpID := e.IDString()

	require.Error(t, r.Save(ctx, e))

	// откат: сущность снова фантом с тем же временным идентификатором
	assert.True(t, e.IsPhantom())
	assert.True(t, e.HasTempID())
	assert.False(t, e.IsPersisted())
	assert.Equal(t, tmpID, e.IDString())
	assert.Equal(t, 0, ad.Len()) // в адаптер ничего не протекло
	assert.NotNil(t, r.GetByID(tmpID), "запись осталась в рабочем наборе")
}

func TestOfflineEditRollback(t *testing.T) {
	ctx := context.Background()
	ad := storage.NewMemory()
	r, err := NewOfflineRepository(productSchema(), ad, Config{})
	require.NoError(t, err)
	require.NoError(t, r.Load(ctx))

	e, err := r.Add(ctx, map[string]any{"name": "hammer"})
	require.NoError(t, err)
	require.NoError(t, r.Save(ctx, e))

	ad.FailSet = errors.New("disk full")
	_, err = e.SetValue("name", "drill")
	require.NoError(t, err)
	require.Error(t, r.Save(ctx, e))

	// подтверждённое состояние не тронуто, попытка осталась локальной
	assert.True(t, e.IsPersisted())
	assert.True(t, e.IsDirty())
	assert.Equal(t, "hammer", e.OriginalData()["name"])

	// после починки адаптера повторный Save проходит
	ad.FailSet = nil
	require.NoError(t, r.Save(ctx, e))
	assert.False(t, e.IsDirty())
	assert.Equal(t, "drill", e.OriginalData()["name"])
}

func TestOfflineDeleteRollback(t *testing.T) {
	ctx := context.Background()
	ad := storage.NewMemory()
	r, err := NewOfflineRepository(productSchema(), ad, Config{})
	require.NoError(t, err)
	require.NoError(t, r.Load(ctx))

	e, err := r.Add(ctx, map[string]any{"name": "hammer"})
	require.NoError(t, err)
	require.NoError(t, r.Save(ctx, e))
	id := e.IDString()
	keysBefore := ad.Len()

	ad.FailDelete = errors.New("io error")
	require.NoError(t, r.Delete(ctx, e))
	require.Error(t, r.Save(ctx, e))

	// запись не изъята ни из набора, ни из адаптера
	assert.NotNil(t, r.GetByID(id))
	assert.Equal(t, keysBefore, ad.Len())

	ad.FailDelete = nil
	require.NoError(t, r.Save(ctx, e))
	assert.Nil(t, r.GetByID(id))

	// остался только индекс (пустой)
	ids, err := ad.Keys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestOfflineIndexConsistency(t *testing.T) {
	ctx := context.Background()
	sch := productSchema()
	ad := storage.NewMemory()
	r, err := NewOfflineRepository(sch, ad, Config{})
	require.NoError(t, err)
	require.NoError(t, r.Load(ctx))

	a, err := r.Add(ctx, map[string]any{"name": "a"})
	require.NoError(t, err)
	b, err := r.Add(ctx, map[string]any{"name": "b"})
	require.NoError(t, err)
	require.NoError(t, r.Save(ctx))
	require.NoError(t, r.Delete(ctx, a))
	require.NoError(t, r.Save(ctx, a))

	r2, err := NewOfflineRepository(sch, ad, Config{})
	require.NoError(t, err)
	require.NoError(t, r2.Load(ctx))
	assert.Equal(t, 1, r2.Total())
	assert.NotNil(t, r2.GetByID(b.IDString()))
}

func TestOfflineConcurrentAddsKeepIndexComplete(t *testing.T) {
	ctx := context.Background()
	sch := productSchema()
	ad := storage.NewMemory()

	// конкурентный батч-режим (по умолчанию): DoAdd идёт из
	// параллельных горутин, индекс не должен терять записи
	r, err := NewOfflineRepository(sch, ad, Config{})
	require.NoError(t, err)
	require.NoError(t, r.Load(ctx))

	for i := 0; i < 10; i++ {
		_, err := r.Add(ctx, map[string]any{"name": fmt.Sprintf("item-%02d", i)})
		require.NoError(t, err)
	}
	require.NoError(t, r.Save(ctx))

	fresh, err := NewOfflineRepository(sch, ad, Config{})
	require.NoError(t, err)
	require.NoError(t, fresh.Load(ctx))
	assert.Equal(t, 10, fresh.Total())
}

func TestPartialSaveKeepsUnrelatedPendingDelete(t *testing.T) {
	ctx := context.Background()
	sch := productSchema()
	ad := storage.NewMemory()
	r, err := NewOfflineRepository(sch, ad, Config{})
	require.NoError(t, err)
	require.NoError(t, r.Load(ctx))

	e1, err := r.Add(ctx, map[string]any{"name": "first"})
	require.NoError(t, err)
	e2, err := r.Add(ctx, map[string]any{"name": "second"})
	require.NoError(t, err)
	require.NoError(t, r.Save(ctx))

	require.NoError(t, r.Delete(ctx, e1))
	require.NoError(t, r.Delete(ctx, e2))

	// частичный Save трогает только e1; отложенное удаление e2
	// остаётся в наборе и уходит в хранилище следующим Save
	require.NoError(t, r.Save(ctx, e1))
	assert.Nil(t, r.GetByID(e1.IDString()))
	require.NotNil(t, r.GetByID(e2.IDString()))
	assert.True(t, e2.IsDeleted())

	require.NoError(t, r.Save(ctx))
	assert.Nil(t, r.GetByID(e2.IDString()))

	fresh, err := NewOfflineRepository(sch, ad, Config{})
	require.NoError(t, err)
	require.NoError(t, fresh.Load(ctx))
	assert.Equal(t, 0, fresh.Total())
	assert.Nil(t, fresh.GetByID(e2.IDString()))
}
