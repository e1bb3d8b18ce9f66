// Package lrsync — координатор локального и удалённого хранилищ.
// Три режима: зеркало (read-only слепок сервера), оффлайн-очередь
// (локальное хранилище первично, операции копятся и реплеятся) и
// fallback (удалённое первично, локальное подхватывает при обрыве).
package lrsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"

	"sklad/internal/entity"
	"sklad/internal/events"
	"sklad/internal/property"
	"sklad/internal/repo"
)

// Mode — режим координации.
type Mode string

const (
	ModeMirror         Mode = "mirror"
	ModeOfflineQueue   Mode = "offline_queue"
	ModeRemoteFallback Mode = "remote_fallback"
)

var (
	// ErrReadOnlyMode — мутация в режиме зеркала.
	ErrReadOnlyMode = errors.New("lrsync: mirror mode is read-only")
	// ErrDestroyed — операция над уничтоженным координатором.
	ErrDestroyed = errors.New("lrsync: coordinator is destroyed")
)

// Command — отложенная операция в очереди реплея. Данные НЕ копируются в
// команду: при реплее берём актуальное состояние локальной сущности, так
// несколько правок схлопываются сами.
type Command struct {
	Op repo.Operation
	ID string
}

// PurgeHandler решает, убирать ли команду из очереди после попытки
// реплея (err == nil — попытка удалась). Возврат false оставляет команду
// на следующий цикл.
type PurgeHandler func(cmd Command, err error) bool

// defaultPurge убирает только выполненные команды.
func defaultPurge(_ Command, err error) bool { return err == nil }

// Config — поведение координатора.
type Config struct {
	Mode      Mode
	SyncRate  time.Duration // период фоновой синхронизации (default 30s)
	RetryRate time.Duration // период повтора после отказа (default 10s)
	Purge     PurgeHandler  // default: убирать выполненные
	Manual    bool          // без фонового таймера, только явный Sync
}

// Coordinator связывает локальный репозиторий с удалённым бэкендом.
type Coordinator struct {
	mu    sync.Mutex
	local *repo.Repository
	rb    repo.Backend
	cfg   Config

	online     bool
	syncing    bool
	lastSync   time.Time
	lastFailed bool
	queue      []Command
	timer      *time.Timer
	destroyed  bool

	emitter *events.Emitter
}

// New создаёт координатор. Стартуем оптимистично-онлайн; первый же
// неудачный обмен уводит в оффлайн с ретраями.
func New(local *repo.Repository, rb repo.Backend, cfg Config) (*Coordinator, error) {
	if local == nil || rb == nil {
		return nil, errors.New("lrsync: local repository and remote backend are required")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeMirror
	}
	if cfg.SyncRate <= 0 {
		cfg.SyncRate = 30 * time.Second
	}
	if cfg.RetryRate <= 0 {
		cfg.RetryRate = 10 * time.Second
	}
	if cfg.Purge == nil {
		cfg.Purge = defaultPurge
	}
	s := &Coordinator{
		local:   local,
		rb:      rb,
		cfg:     cfg,
		online:  true,
		emitter: events.NewEmitter(),
	}
	if !cfg.Manual {
		s.reschedule()
	}
	return s, nil
}

func (s *Coordinator) Mode() Mode               { return s.cfg.Mode }
func (s *Coordinator) Local() *repo.Repository  { return s.local }
func (s *Coordinator) Emitter() *events.Emitter { return s.emitter }

// IsOnline: удалённая сторона считалась доступной на последнем обмене.
func (s *Coordinator) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// IsSyncing: цикл синхронизации выполняется прямо сейчас.
func (s *Coordinator) IsSyncing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncing
}

// LastSync — время последнего удачного цикла (zero, если не было).
func (s *Coordinator) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

// Queue — копия очереди реплея.
func (s *Coordinator) Queue() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Command, len(s.queue))
	copy(out, s.queue)
	return out
}

// SetOnline переключает признак доступности вручную (сетевой индикатор
// платформы). Переход в онлайн запускает немедленную синхронизацию.
func (s *Coordinator) SetOnline(ctx context.Context, online bool) {
	s.mu.Lock()
	if s.destroyed || s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	if online {
		s.lastFailed = false
	} else {
		// оффлайн живёт на retryRate до первого удачного обмена
		s.lastFailed = true
	}
	s.mu.Unlock()

	s.emitter.Emit(events.EventOnline, online)
	if online {
		if err := s.Sync(ctx); err != nil {
			glog.Warningf("lrsync %s: sync on reconnect: %v", s.local.Schema().FQN(), err)
		}
	} else if !s.cfg.Manual {
		s.reschedule()
	}
}

// Add создаёт запись локально и ставит команду на реплей.
func (s *Coordinator) Add(ctx context.Context, raw map[string]any) (*entity.Entity, error) {
	if err := s.writable(); err != nil {
		return nil, err
	}
	e, err := s.local.Add(ctx, raw)
	if err != nil {
		return nil, err
	}
	if err := s.local.Save(ctx, e); err != nil {
		return e, err
	}
	s.enqueue(Command{Op: repo.OpAdd, ID: e.IDString()})
	s.pushSoon(ctx)
	return e, nil
}

// Edit применяет значения к локальной записи и ставит команду на реплей.
func (s *Coordinator) Edit(ctx context.Context, id string, values map[string]any) (*entity.Entity, error) {
	if err := s.writable(); err != nil {
		return nil, err
	}
	e := s.local.GetByID(id)
	if e == nil {
		return nil, property.Ferr(property.ErrNotFound, "", "record '"+id+"' not found")
	}
	if _, errs := e.SetValues(values); len(errs) > 0 {
		return e, errs[0]
	}
	if err := s.local.Save(ctx, e); err != nil {
		return e, err
	}
	s.enqueue(Command{Op: repo.OpEdit, ID: id})
	s.pushSoon(ctx)
	return e, nil
}

// Delete удаляет запись локально и ставит команду на реплей.
func (s *Coordinator) Delete(ctx context.Context, id string) error {
	if err := s.writable(); err != nil {
		return err
	}
	e := s.local.GetByID(id)
	if e == nil {
		return property.Ferr(property.ErrNotFound, "", "record '"+id+"' not found")
	}
	if err := s.local.Delete(ctx, e); err != nil {
		return err
	}
	if err := s.local.Save(ctx, e); err != nil {
		return err
	}
	s.enqueue(Command{Op: repo.OpDelete, ID: id})
	s.pushSoon(ctx)
	return nil
}

func (s *Coordinator) writable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}
	if s.cfg.Mode == ModeMirror {
		return ErrReadOnlyMode
	}
	return nil
}

// enqueue добавляет команду, схлопывая избыточные:
//   - edit поверх невыполненного add/edit не добавляется (реплей add
//     унесёт актуальные данные);
//   - delete поверх невыполненного add снимает add — запись никогда не
//     существовала на сервере;
//   - delete снимает накопленные edit этой записи.
func (s *Coordinator) enqueue(cmd Command) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd.Op {
	case repo.OpEdit:
		for _, c := range s.queue {
			if c.ID == cmd.ID && (c.Op == repo.OpAdd || c.Op == repo.OpEdit) {
				return
			}
		}
	case repo.OpDelete:
		hadAdd := false
		kept := s.queue[:0]
		for _, c := range s.queue {
			if c.ID == cmd.ID {
				if c.Op == repo.OpAdd {
					hadAdd = true
				}
				continue
			}
			kept = append(kept, c)
		}
		s.queue = kept
		if hadAdd {
			return
		}
	}
	s.queue = append(s.queue, cmd)
}

// pushSoon — немедленная попытка реплея, если режим fallback и мы
// считаем себя онлайн. Очередь первична: отказ просто уведёт в оффлайн.
func (s *Coordinator) pushSoon(ctx context.Context) {
	s.mu.Lock()
	push := s.cfg.Mode == ModeRemoteFallback && s.online && !s.syncing
	s.mu.Unlock()
	if !push {
		return
	}
	if err := s.Sync(ctx); err != nil {
		glog.V(1).Infof("lrsync %s: push failed, staying offline: %v", s.local.Schema().FQN(), err)
	}
}

// Sync выполняет один цикл синхронизации согласно режиму. Повторный
// вход во время работающего цикла — no-op.
func (s *Coordinator) Sync(ctx context.Context) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	if s.syncing {
		s.mu.Unlock()
		return nil
	}
	s.syncing = true
	mode := s.cfg.Mode
	s.mu.Unlock()

	var err error
	switch mode {
	case ModeMirror:
		err = s.mirrorSync(ctx)
	case ModeOfflineQueue:
		err = s.replayQueue(ctx)
	case ModeRemoteFallback:
		// локальные изменения побеждают: сперва реплей очереди, затем
		// авторитетная перезагрузка слепка
		if err = s.replayQueue(ctx); err == nil {
			err = s.mirrorSync(ctx)
		}
	}

	s.mu.Lock()
	s.syncing = false
	wasOnline := s.online
	if err != nil {
		s.online = false
		s.lastFailed = true
	} else {
		s.online = true
		s.lastFailed = false
		s.lastSync = time.Now()
	}
	last := s.lastSync
	destroyed := s.destroyed
	s.mu.Unlock()

	if destroyed {
		return ErrDestroyed
	}
	if err != nil {
		if wasOnline {
			s.emitter.Emit(events.EventOnline, false)
		}
		s.emitter.Emit(events.EventError, err)
		glog.Warningf("lrsync %s: sync failed: %v", s.local.Schema().FQN(), err)
	} else {
		if !wasOnline {
			s.emitter.Emit(events.EventOnline, true)
		}
		s.emitter.Emit(events.EventSync, last)
		glog.V(2).Infof("lrsync %s: sync ok", s.local.Schema().FQN())
	}
	if !s.cfg.Manual {
		s.reschedule()
	}
	return err
}

// mirrorSync заменяет локальный слепок содержимым сервера. Локальные
// идентификаторы совпадают с серверными: сырые записи несут id.
func (s *Coordinator) mirrorSync(ctx context.Context) error {
	records, _, err := s.rb.DoLoad(ctx)
	if err != nil {
		return err
	}
	if err := s.local.DeleteAll(ctx); err != nil {
		return err
	}
	if err := s.local.Save(ctx); err != nil {
		return err
	}
	if _, err := s.local.AddMultiple(ctx, records); err != nil {
		return err
	}
	return s.local.Save(ctx)
}

// replayQueue прогоняет очередь с головы. Первая ошибка останавливает
// реплей: порядок операций важен, перескакивать нельзя.
func (s *Coordinator) replayQueue(ctx context.Context) error {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return nil
		}
		cmd := s.queue[0]
		s.mu.Unlock()

		err := s.applyCommand(ctx, cmd)
		if s.cfg.Purge(cmd, err) {
			s.mu.Lock()
			if len(s.queue) > 0 && s.queue[0] == cmd {
				s.queue = s.queue[1:]
			}
			s.mu.Unlock()
		} else if err == nil {
			// хендлер оставил выполненную команду — выходим, иначе цикл
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// applyCommand выполняет одну команду против удалённого бэкенда, беря
// данные из актуального локального состояния.
func (s *Coordinator) applyCommand(ctx context.Context, cmd Command) error {
	switch cmd.Op {
	case repo.OpAdd, repo.OpEdit:
		e := s.local.GetByID(cmd.ID)
		if e == nil || e.IsDestroyed() {
			// запись исчезла локально до реплея — нечего отправлять
			return nil
		}
		if cmd.Op == repo.OpAdd {
			return s.rb.DoAdd(ctx, []*entity.Entity{e})
		}
		return s.rb.DoEdit(ctx, []*entity.Entity{e})
	case repo.OpDelete:
		sch := s.local.Schema()
		stub, err := entity.Load(sch, map[string]any{sch.IDProperty: cmd.ID})
		if err != nil {
			return err
		}
		return s.rb.DoDelete(ctx, []*entity.Entity{stub})
	}
	return nil
}

// reschedule перевзводит фоновый таймер: retryRate после отказа,
// syncRate в штатном режиме.
func (s *Coordinator) reschedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	d := s.cfg.SyncRate
	if s.lastFailed {
		d = s.cfg.RetryRate
	}
	s.timer = time.AfterFunc(d, func() {
		_ = s.Sync(context.Background())
	})
}

// Destroy останавливает таймер и подписки. Репозитории не трогаем — ими
// владеет вызывающая сторона.
func (s *Coordinator) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.queue = nil
	s.mu.Unlock()
	s.emitter.Emit(events.EventDestroy, nil)
	s.emitter.Destroy()
}
