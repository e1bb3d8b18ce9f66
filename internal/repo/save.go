package repo

import (
	"context"
	"errors"
	"sync"

	"sklad/internal/entity"
	"sklad/internal/events"
)

// SaveResult — сводка батча, уходит в событие save.
type SaveResult struct {
	Added   int
	Edited  int
	Deleted int
	Failed  int
}

// Save сохраняет переданные сущности, либо весь рабочий набор.
//
// Одиночный путь по квадре (isPersisted, isDirty, isDeleted) выбирает
// ровно одну операцию: add / edit / delete / локальное удаление
// неперсистентной записи. Батч идёт в порядке cfg.BatchOrder; внутри
// операции вызовы либо одним батчем (BatchActions), либо по сущности —
// последовательно (SyncBatch) или конкурентно со сбором результатов.
//
// Ошибка одной сущности не прерывает соседей: она копится, уходит
// событием error, репозиторий остаётся рабочим.
func (r *Repository) Save(ctx context.Context, ents ...*entity.Entity) error {
	if r.isDestroyed() {
		return ErrRepoDestroyed
	}
	r.mu.Lock()
	if r.saving {
		r.mu.Unlock()
		return errors.New("repo: save already in progress")
	}
	r.saving = true
	candidates := ents
	if len(candidates) == 0 {
		candidates = make([]*entity.Entity, len(r.source))
		copy(candidates, r.source)
	}
	r.mu.Unlock()

	// settled помечает удаления, обработанные ИМЕННО этим батчем:
	// при частичном Save(ctx, e1) чужая отложенная пометка удаления
	// не должна исчезнуть из набора, не дойдя до хранилища
	var adds, edits, dels []*entity.Entity
	settled := make(map[*entity.Entity]bool)
	for _, e := range candidates {
		if e == nil || e.IsDestroyed() {
			continue
		}
		switch {
		case e.IsDeleted() && !e.IsPersisted():
			// новая и сразу удалённая — не должна попасть в хранилище;
			// добьём локально в финализации
			settled[e] = true
		case e.IsDeleted():
			dels = append(dels, e)
			settled[e] = true
		case !e.IsPersisted():
			adds = append(adds, e)
		case e.IsDirty():
			edits = append(edits, e)
		}
	}

	var allErrs []error
	failed := make(map[*entity.Entity]bool)

	for _, op := range r.cfg.BatchOrder {
		var batch []*entity.Entity
		var call func(context.Context, []*entity.Entity) error
		switch op {
		case OpAdd:
			batch, call = adds, r.bk.DoAdd
		case OpEdit:
			batch, call = edits, r.bk.DoEdit
		case OpDelete:
			batch, call = dels, r.bk.DoDelete
		}
		if len(batch) == 0 {
			continue
		}
		for e, err := range r.runOp(ctx, call, batch) {
			failed[e] = true
			allErrs = append(allErrs, err)
			r.emitter.Emit(events.EventError, err)
		}
	}

	// финализация: убрать из набора удалённые этим батчем (успешно —
	// из хранилища, неперсистентные — просто локально)
	removedAny := false
	r.mu.Lock()
	kept := r.source[:0]
	for _, e := range r.source {
		if settled[e] && !failed[e] {
			removedAny = true
			continue
		}
		kept = append(kept, e)
	}
	r.source = kept
	r.saving = false
	destroyed := r.destroyed
	r.mu.Unlock()

	if destroyed {
		// умерли, пока ждали бэкенд — состояние не трогаем
		return ErrRepoDestroyed
	}

	res := SaveResult{
		Added:   len(adds),
		Edited:  len(edits),
		Deleted: len(dels),
		Failed:  len(failed),
	}
	r.emitter.Emit(events.EventSave, res)

	// сервер, пересчитывающий порядок, требует перезагрузки после
	// add/delete; иначе достаточно пересчитать страницу
	if r.cfg.ReloadAfterSave && r.IsLoaded() && (len(adds) > 0 || removedAny) && len(allErrs) == 0 {
		if err := r.Load(ctx); err != nil {
			allErrs = append(allErrs, err)
		}
	} else {
		r.recompute()
	}
	return errors.Join(allErrs...)
}

// runOp выполняет одну операцию над батчем и возвращает ошибки по
// сущностям.
func (r *Repository) runOp(ctx context.Context, call func(context.Context, []*entity.Entity) error, batch []*entity.Entity) map[*entity.Entity]error {
	out := make(map[*entity.Entity]error)

	if r.cfg.BatchActions {
		// один комбинированный вызов на всю операцию
		if err := call(ctx, batch); err != nil {
			for _, e := range batch {
				out[e] = err
			}
		}
		return out
	}

	if r.cfg.SyncBatch {
		// строго последовательно: следующий вызов после завершения
		// предыдущего
		for _, e := range batch {
			if err := call(ctx, []*entity.Entity{e}); err != nil {
				out[e] = err
			}
		}
		return out
	}

	// конкурентно, с join всех результатов до финализации
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, e := range batch {
		wg.Add(1)
		go func(e *entity.Entity) {
			defer wg.Done()
			if err := call(ctx, []*entity.Entity{e}); err != nil {
				mu.Lock()
				out[e] = err
				mu.Unlock()
			}
		}(e)
	}
	wg.Wait()
	return out
}
