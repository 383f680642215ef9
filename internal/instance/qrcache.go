package instance

import (
	"sync"

	"github.com/foxzi/wacampaign/internal/metrics"
)

// qrCache holds the latest QR image per instance. A new image releases the
// one it supersedes.
type qrCache struct {
	mu      sync.Mutex
	handles map[string][]byte
}

func newQRCache() *qrCache {
	return &qrCache{handles: make(map[string][]byte)}
}

func (c *qrCache) put(name string, qr []byte) {
	if len(qr) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handles[name] = qr
	metrics.SetQRHandlesLive(len(c.handles))
}

func (c *qrCache) get(name string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles[name]
}

func (c *qrCache) release(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.handles, name)
	metrics.SetQRHandlesLive(len(c.handles))
}

func (c *qrCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

// releaseAll drops every handle
func (c *qrCache) releaseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.handles)
	metrics.SetQRHandlesLive(0)
}
