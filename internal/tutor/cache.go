package tutor

import (
	"sync"

	"github.com/hamchoi/talkmate/pkg/audio"
)

// bufferCache holds synthesized audio keyed by the exact line text, so a
// line is synthesized at most once per conversation. Hint playback of user
// lines and bot playback share the same cache.
type bufferCache struct {
	mu   sync.Mutex
	bufs map[string]*audio.Buffer
}

func newBufferCache() *bufferCache {
	return &bufferCache{bufs: make(map[string]*audio.Buffer)}
}

func (c *bufferCache) Get(text string) (*audio.Buffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.bufs[text]
	return buf, ok
}

func (c *bufferCache) Put(text string, buf *audio.Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bufs[text] = buf
}

func (c *bufferCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bufs)
}

// Clear drops all cached audio. Called when a new script replaces the old
// one.
func (c *bufferCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bufs = make(map[string]*audio.Buffer)
}
