package lrsync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sklad/internal/entity"
	"sklad/internal/events"
	"sklad/internal/property"
	"sklad/internal/repo"
	"sklad/internal/schema"
	"sklad/internal/storage"
)

// fakeRemote — удалённый бэкенд в памяти с выключателем доступности.
type fakeRemote struct {
	mu      sync.Mutex
	records map[string]map[string]any
	failing bool
	calls   []string
}

var errUnavailable = errors.New("remote unavailable")

func newFakeRemote() *fakeRemote {
	return &fakeRemote{records: map[string]map[string]any{}}
}

func (f *fakeRemote) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

func (f *fakeRemote) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[id]
	return ok
}

func (f *fakeRemote) put(rec map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec["id"].(string)] = rec
}

func (f *fakeRemote) drop(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
}

func (f *fakeRemote) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func (f *fakeRemote) DoLoad(context.Context) ([]map[string]any, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "load")
	if f.failing {
		return nil, 0, errUnavailable
	}
	ids := make([]string, 0, len(f.records))
	for id := range f.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		rec := make(map[string]any, len(f.records[id]))
		for k, v := range f.records[id] {
			rec[k] = v
		}
		out = append(out, rec)
	}
	return out, len(out), nil
}

func (f *fakeRemote) apply(op string, batch []*entity.Entity) error {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return errUnavailable
	}
	for _, e := range batch {
		switch op {
		case "add", "edit":
			rec := e.SubmitData()
			f.mu.Lock()
			f.records[e.IDString()] = rec
			f.mu.Unlock()
			if err := e.MarkSaved(); err != nil {
				return err
			}
		case "delete":
			f.mu.Lock()
			delete(f.records, e.IDString())
			f.mu.Unlock()
		}
	}
	return nil
}

func (f *fakeRemote) DoAdd(_ context.Context, batch []*entity.Entity) error {
	return f.apply("add", batch)
}

func (f *fakeRemote) DoEdit(_ context.Context, batch []*entity.Entity) error {
	return f.apply("edit", batch)
}

func (f *fakeRemote) DoDelete(_ context.Context, batch []*entity.Entity) error {
	return f.apply("delete", batch)
}

func taskSchema() *schema.Schema {
	return &schema.Schema{
		Module: "todo", Name: "Task",
		IDProperty: "id", DisplayProperty: "title",
		Properties: []schema.PropertyDef{
			{Name: "id", Type: schema.TypeULID},
			{Name: "title", Type: schema.TypeString, Required: true},
			{Name: "done", Type: schema.TypeBool, AllowNull: true},
		},
	}
}

func newLocal(t *testing.T) *repo.Repository {
	t.Helper()
	r, err := repo.NewOfflineRepository(taskSchema(), storage.NewMemory(), repo.Config{SyncBatch: true})
	require.NoError(t, err)
	require.NoError(t, r.Load(context.Background()))
	return r
}

func newCoordinator(t *testing.T, mode Mode, rb repo.Backend) *Coordinator {
	t.Helper()
	local := newLocal(t)
	co, err := New(local, rb, Config{Mode: mode, Manual: true})
	require.NoError(t, err)
	t.Cleanup(co.Destroy)
	return co
}

func TestMirrorModeIsReadOnly(t *testing.T) {
	ctx := context.Background()
	co := newCoordinator(t, ModeMirror, newFakeRemote())

	_, err := co.Add(ctx, map[string]any{"title": "x"})
	assert.ErrorIs(t, err, ErrReadOnlyMode)
	_, err = co.Edit(ctx, "any", map[string]any{"title": "y"})
	assert.ErrorIs(t, err, ErrReadOnlyMode)
	assert.ErrorIs(t, co.Delete(ctx, "any"), ErrReadOnlyMode)
}

func TestMirrorSyncReplacesLocalSet(t *testing.T) {
	ctx := context.Background()
	rb := newFakeRemote()
	rb.put(map[string]any{"id": "a", "title": "first", "done": false})
	rb.put(map[string]any{"id": "b", "title": "second", "done": true})

	co := newCoordinator(t, ModeMirror, rb)
	require.NoError(t, co.Sync(ctx))

	local := co.Local()
	assert.Equal(t, 2, local.Total())
	got := local.GetByID("a")
	require.NotNil(t, got)
	assert.Equal(t, "first", got.Value("title"))
	assert.True(t, got.IsPersisted())

	// сервер поменялся — слепок следует за ним
	rb.drop("a")
	rb.put(map[string]any{"id": "c", "title": "third"})
	require.NoError(t, co.Sync(ctx))
	assert.Equal(t, 2, local.Total())
	assert.Nil(t, local.GetByID("a"))
	assert.NotNil(t, local.GetByID("c"))
}

func TestQueueCollapse(t *testing.T) {
	ctx := context.Background()
	co := newCoordinator(t, ModeOfflineQueue, newFakeRemote())

	// add + edit той же записи → остаётся один add
	e, err := co.Add(ctx, map[string]any{"title": "x"})
	require.NoError(t, err)
	_, err = co.Edit(ctx, e.IDString(), map[string]any{"title": "x2"})
	require.NoError(t, err)
	require.Len(t, co.Queue(), 1)
	assert.Equal(t, repo.OpAdd, co.Queue()[0].Op)

	// delete невыполненного add снимает обе команды
	require.NoError(t, co.Delete(ctx, e.IDString()))
	assert.Empty(t, co.Queue())

	// edit + delete существующей записи → остаётся один delete
	e2, err := co.Add(ctx, map[string]any{"title": "y"})
	require.NoError(t, err)
	q := co.Queue()
	require.Len(t, q, 1)
	// реплеим add вручную, имитируя прошедшую синхронизацию
	require.NoError(t, co.Sync(ctx))
	require.Empty(t, co.Queue())

	_, err = co.Edit(ctx, e2.IDString(), map[string]any{"title": "y2"})
	require.NoError(t, err)
	require.NoError(t, co.Delete(ctx, e2.IDString()))
	q = co.Queue()
	require.Len(t, q, 1)
	assert.Equal(t, repo.OpDelete, q[0].Op)
}

func TestOfflineQueueReplayOnReconnect(t *testing.T) {
	ctx := context.Background()
	rb := newFakeRemote()
	rb.setFailing(true)
	co := newCoordinator(t, ModeOfflineQueue, rb)

	a, err := co.Add(ctx, map[string]any{"title": "first"})
	require.NoError(t, err)
	b, err := co.Add(ctx, map[string]any{"title": "second"})
	require.NoError(t, err)

	// локально записи живут, на сервере пусто
	assert.Equal(t, 2, co.Local().Total())
	assert.Equal(t, 0, rb.size())
	require.Len(t, co.Queue(), 2)

	require.Error(t, co.Sync(ctx))
	assert.False(t, co.IsOnline())
	require.Len(t, co.Queue(), 2, "неудачные команды остаются в очереди")

	var onlineEvents []bool
	co.Emitter().On(events.EventOnline, func(ev events.Event) {
		onlineEvents = append(onlineEvents, ev.Payload.(bool))
	})

	rb.setFailing(false)
	co.SetOnline(ctx, true)

	assert.True(t, co.IsOnline())
	assert.Empty(t, co.Queue())
	assert.Equal(t, 2, rb.size())
	assert.True(t, rb.has(a.IDString()))
	assert.True(t, rb.has(b.IDString()))
	assert.Equal(t, []bool{true}, onlineEvents)
	assert.False(t, co.LastSync().IsZero())
}

func TestPurgeHandlerDecidesRemoval(t *testing.T) {
	ctx := context.Background()
	rb := newFakeRemote()
	rb.setFailing(true)

	local := newLocal(t)
	dropAll := func(Command, error) bool { return true } // чистить даже неудачные
	co, err := New(local, rb, Config{Mode: ModeOfflineQueue, Manual: true, Purge: dropAll})
	require.NoError(t, err)
	t.Cleanup(co.Destroy)

	_, err = co.Add(ctx, map[string]any{"title": "x"})
	require.NoError(t, err)
	require.Len(t, co.Queue(), 1)

	require.Error(t, co.Sync(ctx))
	assert.Empty(t, co.Queue(), "хендлер выбросил команду несмотря на ошибку")
	assert.Equal(t, 0, rb.size())
}

func TestFallbackPushesImmediately(t *testing.T) {
	ctx := context.Background()
	rb := newFakeRemote()
	co := newCoordinator(t, ModeRemoteFallback, rb)

	e, err := co.Add(ctx, map[string]any{"title": "x"})
	require.NoError(t, err)

	// онлайн: команда ушла сразу, очередь пуста, слепок перечитан
	assert.True(t, rb.has(e.IDString()))
	assert.Empty(t, co.Queue())
	assert.Equal(t, 1, co.Local().Total())
	assert.True(t, co.IsOnline())
}

func TestFallbackGoesOfflineAndRecovers(t *testing.T) {
	ctx := context.Background()
	rb := newFakeRemote()
	co := newCoordinator(t, ModeRemoteFallback, rb)

	rb.setFailing(true)
	e, err := co.Add(ctx, map[string]any{"title": "x"})
	require.NoError(t, err, "локальная запись не зависит от сервера")

	assert.False(t, co.IsOnline())
	require.Len(t, co.Queue(), 1)
	assert.NotNil(t, co.Local().GetByID(e.IDString()))

	// обрыв кончился: локальные изменения побеждают при переподключении
	rb.setFailing(false)
	co.SetOnline(ctx, true)
	assert.True(t, rb.has(e.IDString()))
	assert.Empty(t, co.Queue())
	assert.True(t, co.IsOnline())
}

func TestEditMissingRecord(t *testing.T) {
	ctx := context.Background()
	co := newCoordinator(t, ModeOfflineQueue, newFakeRemote())

	_, err := co.Edit(ctx, "no-such", map[string]any{"title": "x"})
	var fe property.FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, property.ErrNotFound, fe.Code)

	require.Error(t, co.Delete(ctx, "no-such"))
	assert.Empty(t, co.Queue())
}

func TestDestroyedCoordinator(t *testing.T) {
	ctx := context.Background()
	co := newCoordinator(t, ModeOfflineQueue, newFakeRemote())
	co.Destroy()

	_, err := co.Add(ctx, map[string]any{"title": "x"})
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.ErrorIs(t, co.Sync(ctx), ErrDestroyed)
	co.Destroy() // повторный — no-op
}

func TestOfflineTransitionRearmsTimerAtRetryRate(t *testing.T) {
	ctx := context.Background()
	local := newLocal(t)
	rb := newFakeRemote()

	// фоновый таймер: штатный период заведомо недостижим в тесте,
	// ретрай — короткий; уход в оффлайн обязан перевзвести таймер
	// на retryRate, а не оставить его на syncRate
	co, err := New(local, rb, Config{
		Mode:      ModeOfflineQueue,
		SyncRate:  time.Hour,
		RetryRate: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(co.Destroy)

	co.SetOnline(ctx, false)
	require.False(t, co.IsOnline())

	// удалённая сторона жива: сработавший ретрай возвращает онлайн
	require.Eventually(t, co.IsOnline, time.Second, 5*time.Millisecond)
}
