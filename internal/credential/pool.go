// Package credential manages the ordered pool of synthesis API keys and its
// remote backing store. Quota failures rotate the pool cursor; new keys are
// appended up to a bound, dropping the oldest on overflow.
package credential

import "sync"

// Pool holds an ordered list of credentials plus a cursor. Rotation is
// circular; the cursor always indexes a valid slot while the pool is
// non-empty.
type Pool struct {
	mu      sync.Mutex
	keys    []string
	cursor  int
	maxKeys int
}

func NewPool(maxKeys int) *Pool {
	if maxKeys <= 0 {
		maxKeys = 20
	}
	return &Pool{maxKeys: maxKeys}
}

// Current returns the credential at the cursor, or false if the pool is empty.
func (p *Pool) Current() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return "", false
	}
	return p.keys[p.cursor], true
}

// Rotate advances the cursor circularly and returns the new current
// credential. A rotation on an empty pool is a no-op.
func (p *Pool) Rotate() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return "", false
	}
	p.cursor = (p.cursor + 1) % len(p.keys)
	return p.keys[p.cursor], true
}

// Add appends a credential if not already present, keeping at most the most
// recent maxKeys entries. Returns true if the pool changed.
func (p *Pool) Add(key string) bool {
	if key == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.keys {
		if existing == key {
			return false
		}
	}
	p.keys = append(p.keys, key)
	if overflow := len(p.keys) - p.maxKeys; overflow > 0 {
		p.keys = p.keys[overflow:]
		p.cursor -= overflow
		if p.cursor < 0 {
			p.cursor = 0
		}
	}
	return true
}

// Replace swaps the pool contents wholesale, resetting the cursor. Used when
// reloading from the remote store.
func (p *Pool) Replace(keys []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(keys) > p.maxKeys {
		keys = keys[len(keys)-p.maxKeys:]
	}
	p.keys = append([]string(nil), keys...)
	p.cursor = 0
}

// Len reports the number of credentials held.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Snapshot returns a copy of the pool contents in order.
func (p *Pool) Snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}
