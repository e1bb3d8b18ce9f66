// Package repo реализует репозиторий сущностей: оркестрация
// add/edit/delete батчей, конвейер sort→filter→paginate и события.
// Конкретное хранилище подставляется через Backend.
package repo

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"sklad/internal/entity"
	"sklad/internal/events"
	"sklad/internal/schema"
)

// Operation — тип операции сохранения.
type Operation string

const (
	OpAdd    Operation = "add"
	OpEdit   Operation = "edit"
	OpDelete Operation = "delete"
)

// DefaultBatchOrder — порядок флаша операций по умолчанию.
var DefaultBatchOrder = []Operation{OpAdd, OpEdit, OpDelete}

var (
	// ErrRepoDestroyed — операция над уничтоженным репозиторием.
	ErrRepoDestroyed = errors.New("repo: operation on destroyed repository")
	// ErrNotLoaded — Save/recompute до первой загрузки допустимы, но
	// Load обязателен для backed-репозиториев с данными.
	ErrNotLoaded = errors.New("repo: repository is not loaded")
)

// Backend — поставляемый вариантом репозитория адаптер персистентности.
// Каждый Do* сам переводит состояния сущностей (MarkSaved/откат);
// репозиторий отвечает за порядок, батчи и события.
type Backend interface {
	DoLoad(ctx context.Context) ([]map[string]any, int, error)
	DoAdd(ctx context.Context, batch []*entity.Entity) error
	DoEdit(ctx context.Context, batch []*entity.Entity) error
	DoDelete(ctx context.Context, batch []*entity.Entity) error
}

// Config — поведение репозитория.
type Config struct {
	BatchOrder      []Operation // default: add, edit, delete
	BatchActions    bool        // один вызов на операцию вместо вызова на сущность
	SyncBatch       bool        // последовательные вызовы вместо конкурентных
	AutoSave        bool        // сохранять сразу при Add/Delete
	ReloadAfterSave bool        // перезагрузка после add/delete (сервер пересчитывает порядок)
	PageSize        int         // default 25
}

// Repository держит страницу сущностей и полный рабочий набор.
//
// Инвариант (in-memory вариант): видимая страница — детерминированная
// функция (несортированный набор, sorters, filters, page, pageSize);
// пересчёт идемпотентен.
type Repository struct {
	mu  sync.Mutex
	sch *schema.Schema
	bk  Backend
	cfg Config

	source []*entity.Entity // полный набор, включая помеченные на удаление
	page   []*entity.Entity // текущая видимая страница
	pageFP []map[string]any // submit-отпечаток страницы (анти-шторм)

	sorters []Sorter
	filters []Filter

	pageNum  int
	pageSize int
	total    int

	loaded    bool
	saving    bool
	destroyed bool

	emitter *events.Emitter
}

// New создаёт репозиторий по схеме. Сортировки по умолчанию берутся из
// схемы.
func New(sch *schema.Schema, bk Backend, cfg Config) (*Repository, error) {
	if sch == nil {
		return nil, entity.ErrNoSchema
	}
	if bk == nil {
		return nil, fmt.Errorf("repo %s: backend is required", sch.FQN())
	}
	if len(cfg.BatchOrder) == 0 {
		cfg.BatchOrder = DefaultBatchOrder
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 25
	}
	return &Repository{
		sch:      sch,
		bk:       bk,
		cfg:      cfg,
		sorters:  FromSorterDefs(sch.Sorters),
		pageNum:  1,
		pageSize: cfg.PageSize,
		emitter:  events.NewEmitter(),
	}, nil
}

func (r *Repository) Schema() *schema.Schema   { return r.sch }
func (r *Repository) Emitter() *events.Emitter { return r.emitter }

// IsLoaded: была ли успешная загрузка.
func (r *Repository) IsLoaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// IsSaving: идёт ли сейчас батч сохранения.
func (r *Repository) IsSaving() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saving
}

// Total — размер отфильтрованного набора.
func (r *Repository) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Entities — копия текущей страницы.
func (r *Repository) Entities() []*entity.Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.Entity, len(r.page))
	copy(out, r.page)
	return out
}

// All — копия видимого набора (без помеченных на удаление).
func (r *Repository) All() []*entity.Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visibleLocked()
}

// PageInfo — текущие производные пагинации.
func (r *Repository) PageInfo() PageInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return CalcPage(r.total, r.pageNum, r.pageSize)
}

// Load загружает полный набор из бэкенда и пересчитывает страницу.
func (r *Repository) Load(ctx context.Context) error {
	if r.isDestroyed() {
		return ErrRepoDestroyed
	}
	records, _, err := r.bk.DoLoad(ctx)
	if err != nil {
		r.emitter.Emit(events.EventError, err)
		return err
	}
	if r.isDestroyed() {
		// репозиторий умер, пока ждали бэкенд — результат отбрасываем
		return ErrRepoDestroyed
	}
	ents := make([]*entity.Entity, 0, len(records))
	for _, rec := range records {
		e, err := entity.Load(r.sch, rec)
		if err != nil {
			return err
		}
		e.SetAutoSave(r.cfg.AutoSave)
		ents = append(ents, e)
	}
	r.mu.Lock()
	r.source = ents
	r.loaded = true
	r.mu.Unlock()
	r.recompute()
	r.emitter.Emit(events.EventLoad, len(ents))
	return nil
}

// Add создаёт новую сущность из сырых данных. Фантом до сохранения.
func (r *Repository) Add(ctx context.Context, raw map[string]any) (*entity.Entity, error) {
	if r.isDestroyed() {
		return nil, ErrRepoDestroyed
	}
	e, err := entity.New(r.sch, raw)
	if err != nil {
		return nil, err
	}
	e.SetAutoSave(r.cfg.AutoSave)
	if _, err := e.CreateTempID(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.source = append(r.source, e)
	r.mu.Unlock()
	r.emitter.Emit(events.EventAdd, e)
	if r.cfg.AutoSave {
		if err := r.Save(ctx, e); err != nil {
			return e, err
		}
	}
	r.recompute()
	return e, nil
}

// AddMultiple добавляет несколько записей; события add идут по одной,
// пересчёт один.
func (r *Repository) AddMultiple(ctx context.Context, raws []map[string]any) ([]*entity.Entity, error) {
	out := make([]*entity.Entity, 0, len(raws))
	for _, raw := range raws {
		e, err := r.Add(ctx, raw)
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}

// GetByID ищет по идентификатору (включая временные).
func (r *Repository) GetByID(id string) *entity.Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.source {
		if e.IDString() == id {
			return e
		}
	}
	return nil
}

// GetBy возвращает все видимые сущности, прошедшие предикат.
func (r *Repository) GetBy(pred func(*entity.Entity) bool) []*entity.Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Entity
	for _, e := range r.visibleLocked() {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// GetFirstBy — первая видимая сущность по предикату, либо nil.
func (r *Repository) GetFirstBy(pred func(*entity.Entity) bool) *entity.Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.visibleLocked() {
		if pred(e) {
			return e
		}
	}
	return nil
}

// Delete помечает сущность на удаление; физическое удаление — в Save.
func (r *Repository) Delete(ctx context.Context, e *entity.Entity) error {
	if r.isDestroyed() {
		return ErrRepoDestroyed
	}
	if err := e.MarkDeleted(); err != nil {
		return err
	}
	r.emitter.Emit(events.EventDelete, e)
	if r.cfg.AutoSave {
		return r.Save(ctx, e)
	}
	r.recompute()
	return nil
}

// DeleteByID — Delete по идентификатору.
func (r *Repository) DeleteByID(ctx context.Context, id string) error {
	e := r.GetByID(id)
	if e == nil {
		return fmt.Errorf("repo %s: record %q not found", r.sch.FQN(), id)
	}
	return r.Delete(ctx, e)
}

// DeleteAll помечает на удаление весь видимый набор; событие delete идёт
// по каждой записи, пересчёт один.
func (r *Repository) DeleteAll(ctx context.Context) error {
	if r.isDestroyed() {
		return ErrRepoDestroyed
	}
	r.mu.Lock()
	victims := r.visibleLocked()
	r.mu.Unlock()
	for _, e := range victims {
		if err := e.MarkDeleted(); err != nil {
			return err
		}
		r.emitter.Emit(events.EventDelete, e)
	}
	if r.cfg.AutoSave && len(victims) > 0 {
		return r.Save(ctx, victims...)
	}
	r.recompute()
	return nil
}

// Sort заменяет сортеры и пересчитывает.
func (r *Repository) Sort(sorters ...Sorter) {
	r.mu.Lock()
	r.sorters = sorters
	r.mu.Unlock()
	r.emitter.Emit(events.EventChangeSorters, sorters)
	r.recompute()
}

// Filter заменяет фильтры и пересчитывает.
func (r *Repository) Filter(filters ...Filter) {
	r.mu.Lock()
	r.filters = filters
	r.pageNum = 1
	r.mu.Unlock()
	r.emitter.Emit(events.EventChangeFilters, filters)
	r.recompute()
}

// FilterExpr добавляет фильтр-выражение (expr-lang).
func (r *Repository) FilterExpr(code string) error {
	f, err := CompileFilterExpr(code)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.filters = append(r.filters, f)
	r.pageNum = 1
	filters := r.filters
	r.mu.Unlock()
	r.emitter.Emit(events.EventChangeFilters, filters)
	r.recompute()
	return nil
}

// ClearFilters снимает все фильтры.
func (r *Repository) ClearFilters() {
	r.Filter()
}

// SetPage переключает страницу (1-based).
func (r *Repository) SetPage(page int) {
	r.mu.Lock()
	r.pageNum = page
	r.mu.Unlock()
	r.emitter.Emit(events.EventChangePage, page)
	r.recompute()
}

// SetPageSize меняет размер страницы и возвращает на первую.
func (r *Repository) SetPageSize(size int) {
	if size <= 0 {
		return
	}
	r.mu.Lock()
	r.pageSize = size
	r.pageNum = 1
	r.mu.Unlock()
	r.emitter.Emit(events.EventChangePage, 1)
	r.recompute()
}

// Destroy уничтожает репозиторий и все его сущности.
func (r *Repository) Destroy() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	src := r.source
	r.source = nil
	r.page = nil
	r.mu.Unlock()
	for _, e := range src {
		e.Destroy()
	}
	r.emitter.Emit(events.EventDestroy, nil)
	r.emitter.Destroy()
}

func (r *Repository) isDestroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

// visibleLocked — набор без помеченных на удаление. Зовётся под локом.
func (r *Repository) visibleLocked() []*entity.Entity {
	out := make([]*entity.Entity, 0, len(r.source))
	for _, e := range r.source {
		if !e.IsDeleted() && !e.IsDestroyed() {
			out = append(out, e)
		}
	}
	return out
}

// recompute гонит конвейер sort→filter→paginate и шлёт одно
// уведомление, только если страница реально поменялась по
// submit-значениям.
func (r *Repository) recompute() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	visible := r.visibleLocked()
	applySorters(visible, r.sorters)
	filtered := applyFilters(visible, r.filters)
	r.total = len(filtered)

	info := CalcPage(r.total, r.pageNum, r.pageSize)
	r.pageNum = info.Page
	var page []*entity.Entity
	if info.PageTotal > 0 {
		page = filtered[info.PageStart-1 : info.PageEnd]
	}

	fp := make([]map[string]any, len(page))
	for i, e := range page {
		fp[i] = e.SubmitData()
	}
	changed := !reflect.DeepEqual(fp, r.pageFP)
	r.page = page
	r.pageFP = fp
	r.mu.Unlock()

	if changed {
		r.emitter.Emit(events.EventChangeData, info)
	}
}
