// Package events — общий pub/sub для Property/Entity/Repository и
// координатора синхронизации. Каждый компонент держит свой Emitter с
// типизированными именами событий.
package events

import "sync"

// Имена событий жизненного цикла репозиториев и сущностей.
const (
	EventAdd           = "add"
	EventChange        = "change"
	EventSave          = "save"
	EventDelete        = "delete"
	EventChangeData    = "changeData"
	EventChangeSorters = "changeSorters"
	EventChangeFilters = "changeFilters"
	EventChangePage    = "changePage"
	EventLoad          = "load"
	EventError         = "error"
	EventDestroy       = "destroy"

	// события координатора синхронизации
	EventSync   = "sync"
	EventOnline = "online"
)

// Event — одно уведомление: имя + произвольная нагрузка.
type Event struct {
	Name    string
	Payload any
}

// Handler получает событие. Хендлер может отписаться прямо из dispatch —
// список слушателей копируется перед обходом.
type Handler func(Event)

// Emitter хранит подписчиков по имени события.
type Emitter struct {
	mu       sync.Mutex
	handlers map[string][]*subscription
	dead     bool
}

type subscription struct {
	fn Handler
}

// NewEmitter создаёт пустой эмиттер.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[string][]*subscription)}
}

// On подписывает h на событие name и возвращает функцию отписки.
func (e *Emitter) On(name string, h Handler) (off func()) {
	if e == nil || h == nil {
		return func() {}
	}
	sub := &subscription{fn: h}
	e.mu.Lock()
	if e.dead {
		e.mu.Unlock()
		return func() {}
	}
	e.handlers[name] = append(e.handlers[name], sub)
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		list := e.handlers[name]
		for i, s := range list {
			if s == sub {
				e.handlers[name] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	}
}

// Emit рассылает событие всем подписчикам. Список снимается под локом,
// сами хендлеры зовутся без лока.
func (e *Emitter) Emit(name string, payload any) {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.dead {
		e.mu.Unlock()
		return
	}
	list := e.handlers[name]
	snapshot := make([]*subscription, len(list))
	copy(snapshot, list)
	e.mu.Unlock()

	ev := Event{Name: name, Payload: payload}
	for _, s := range snapshot {
		s.fn(ev)
	}
}

// Destroy снимает всех подписчиков; дальнейшие On/Emit — no-op.
func (e *Emitter) Destroy() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dead = true
	e.handlers = nil
}
