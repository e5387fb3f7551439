package backend

import (
	"io"
	"log"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"outpost.ai/internal/protocol"
)

type outFrame struct {
	kind int
	data []byte
}

type subscriber struct {
	compressed bool
	out        chan outFrame
	done       chan struct{}
	closeOnce  sync.Once
}

func (s *subscriber) close() { s.closeOnce.Do(func() { close(s.done) }) }

// Hub fans stream frames out to the websocket subscribers of each scene.
// A subscriber that is behind loses frames instead of stalling the sender.
type Hub struct {
	log *log.Logger

	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool

	dropped atomic.Uint64
}

func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Hub{log: logger, subs: map[string]map[*subscriber]struct{}{}}
}

func (h *Hub) subscribe(sceneID string, compressed bool, queue int) *subscriber {
	s := &subscriber{
		compressed: compressed,
		out:        make(chan outFrame, queue),
		done:       make(chan struct{}),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.close()
		return s
	}
	m := h.subs[sceneID]
	if m == nil {
		m = map[*subscriber]struct{}{}
		h.subs[sceneID] = m
	}
	m[s] = struct{}{}
	return s
}

func (h *Hub) unsubscribe(sceneID string, s *subscriber) {
	h.mu.Lock()
	if m := h.subs[sceneID]; m != nil {
		delete(m, s)
		if len(m) == 0 {
			delete(h.subs, sceneID)
		}
	}
	h.mu.Unlock()
	s.close()
}

// Broadcast queues a JSON frame for every subscriber of the scene and
// returns how many accepted it.
func (h *Hub) Broadcast(sceneID string, frame []byte) int {
	h.mu.Lock()
	targets := make([]*subscriber, 0, len(h.subs[sceneID]))
	for s := range h.subs[sceneID] {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	var compressed []byte
	n := 0
	for _, s := range targets {
		f := outFrame{kind: websocket.TextMessage, data: frame}
		if s.compressed {
			if compressed == nil {
				compressed = protocol.CompressFrame(frame)
			}
			f = outFrame{kind: websocket.BinaryMessage, data: compressed}
		}
		if s.send(f) {
			n++
		} else {
			h.dropped.Add(1)
		}
	}
	if n < len(targets) {
		h.log.Printf("stream %s: %d subscriber(s) behind, frame dropped", sceneID, len(targets)-n)
	}
	return n
}

func (s *subscriber) send(f outFrame) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- f:
		return true
	default:
		return false
	}
}

func (s *subscriber) sendFrame(frame []byte) bool {
	if s.compressed {
		return s.send(outFrame{kind: websocket.BinaryMessage, data: protocol.CompressFrame(frame)})
	}
	return s.send(outFrame{kind: websocket.TextMessage, data: frame})
}

// Subscribers reports the number of live subscriptions to a scene.
func (h *Hub) Subscribers(sceneID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sceneID])
}

// Dropped reports frames discarded because a subscriber queue was full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Close ends every subscription. Later subscriptions are closed at once.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*subscriber
	for _, m := range h.subs {
		for s := range m {
			all = append(all, s)
		}
	}
	h.subs = map[string]map[*subscriber]struct{}{}
	h.mu.Unlock()
	for _, s := range all {
		s.close()
	}
}
