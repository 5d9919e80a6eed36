package provider

import "sync"

const subscriptionBuffer = 16

// hub fans provider events out to subscriptions.
type hub struct {
	mu      sync.Mutex
	subs    map[*subscription]struct{}
	closed  bool
	onEmpty func()
}

type subscription struct {
	ch   chan Event
	hub  *hub
	once sync.Once
}

func (s *subscription) Events() <-chan Event { return s.ch }

func (s *subscription) Unsubscribe() {
	s.once.Do(func() { s.hub.remove(s) })
}

func newHub(onEmpty func()) *hub {
	return &hub{subs: make(map[*subscription]struct{}), onEmpty: onEmpty}
}

func (h *hub) subscribe() *subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &subscription{ch: make(chan Event, subscriptionBuffer), hub: h}
	if h.closed {
		close(s.ch)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

func (h *hub) remove(s *subscription) {
	h.mu.Lock()
	if _, ok := h.subs[s]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, s)
	close(s.ch)
	empty := len(h.subs) == 0
	h.mu.Unlock()

	if empty && h.onEmpty != nil {
		h.onEmpty()
	}
}

// emit delivers ev to every subscription, dropping it for slow readers.
func (h *hub) emit(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
		}
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
	}
}
