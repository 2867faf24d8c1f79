// Package credential holds the rotating pool of remote-service credentials
// used to work around per-credential storage quotas.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrPoolEmpty is returned when no credentials are configured. This is a
// fatal configuration error at startup, not a per-job failure.
var ErrPoolEmpty = errors.New("credential pool is empty")

// Credential is an opaque blob handed to the fetcher. The engine never
// inspects its contents.
type Credential struct {
	Name     string `json:"name"`
	Identity string `json:"identity"`
	Secret   string `json:"secret"`
}

// Pool holds an ordered list of named credentials and a rotation pointer.
// Rotation is process-wide: every job in flight observes the same current
// credential after a rotation. A fetch attempt that captured its credential
// before the rotation is unaffected.
type Pool struct {
	mu    sync.Mutex
	creds []Credential
	index int
}

// NewPool creates a pool from an ordered credential list.
func NewPool(creds []Credential) (*Pool, error) {
	if len(creds) == 0 {
		return nil, ErrPoolEmpty
	}
	return &Pool{creds: creds}, nil
}

// LoadPool reads a JSON credential list from path and builds a pool.
func LoadPool(path string) (*Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	var creds []Credential
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("decode credentials file: %w", err)
	}

	return NewPool(creds)
}

// Current returns the credential at the rotation pointer.
func (p *Pool) Current() Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creds[p.index]
}

// Rotate advances the pointer to the next credential modulo pool size. A pool
// of size 1 rotates to itself, so callers must still bound their retries.
func (p *Pool) Rotate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.index = (p.index + 1) % len(p.creds)
}

// Size returns the number of credentials in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// CurrentName returns the name of the current credential, for status reporting.
func (p *Pool) CurrentName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creds[p.index].Name
}
