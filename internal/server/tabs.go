package server

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ablaszkiewicz/google-meet-slack-emojis/internal/router"
	"github.com/ablaszkiewicz/google-meet-slack-emojis/pkg/transport"
)

// TabTable tracks the live tab connections by id.
type TabTable struct {
	mu   sync.RWMutex
	tabs map[uuid.UUID]*transport.Connection
}

func NewTabTable() *TabTable {
	return &TabTable{tabs: make(map[uuid.UUID]*transport.Connection)}
}

// compile-time check that the table satisfies the router's registry.
var _ router.TabRegistry = (*TabTable)(nil)

func (t *TabTable) Register(conn *transport.Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tabs[conn.ID()] = conn
}

func (t *TabTable) Deregister(tabID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tabs, tabID)
}

func (t *TabTable) Find(tabID uuid.UUID) (router.Tab, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	conn, ok := t.tabs[tabID]
	if !ok {
		return nil, false
	}
	return conn, true
}

func (t *TabTable) All() []*transport.Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	conns := make([]*transport.Connection, 0, len(t.tabs))
	for _, c := range t.tabs {
		conns = append(conns, c)
	}
	return conns
}
