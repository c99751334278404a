package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
)

// Manager holds a mutable middleware chain mounted on the engine as one
// handler, so middlewares can be added after the routes are built.
type Manager struct {
	mu   sync.RWMutex
	mids []gin.HandlerFunc
}

func NewManager(mids ...gin.HandlerFunc) *Manager {
	return &Manager{mids: mids}
}

// Add appends h to the chain.
func (m *Manager) Add(h gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids = append(m.mids, h)
}

func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids = nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.mids)
}

// Use returns the handler that runs a snapshot of the chain in order and
// stops at the first abort. Chained handlers must not call c.Next.
func (m *Manager) Use() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.mu.RLock()
		handlers := append([]gin.HandlerFunc{}, m.mids...)
		m.mu.RUnlock()

		for _, h := range handlers {
			h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}
