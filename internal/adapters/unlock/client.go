// Package unlock queries the Unlock Protocol API for premium key
// ownership.
package unlock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dgrange/huddle/internal/core"
	"github.com/dgrange/huddle/internal/domain"
)

// Client checks key validity against one lock on one chain. Answers are
// cached for TTL so the gate can be consulted on every operation
// without hammering the API.
type Client struct {
	base    string
	lock    string
	chainID int
	ttl     time.Duration
	http    *http.Client

	mu    sync.Mutex
	cache map[string]cached
}

type cached struct {
	status  core.KeyStatus
	expires time.Time
}

func New(base, lockAddress string, chainID int, ttl time.Duration) *Client {
	return &Client{
		base:    strings.TrimRight(base, "/"),
		lock:    lockAddress,
		chainID: chainID,
		ttl:     ttl,
		http:    &http.Client{Timeout: 10 * time.Second},
		cache:   make(map[string]cached),
	}
}

type keyResponse struct {
	HasValidKey bool `json:"hasValidKey"`
}

// KeyStatus reports whether address holds a valid key. Network or
// protocol failures come back in Err, never as a panic or a false
// positive; either way the caller reads it as not entitled.
func (c *Client) KeyStatus(ctx context.Context, address string) core.KeyStatus {
	if !domain.ValidAddress(address) {
		return core.KeyStatus{Err: domain.ErrBadAddress.Error()}
	}
	addr := strings.ToLower(address)

	c.mu.Lock()
	if e, ok := c.cache[addr]; ok && time.Now().Before(e.expires) {
		c.mu.Unlock()
		return e.status
	}
	c.mu.Unlock()

	status := c.fetch(ctx, addr)
	// Errors are not cached so the next check retries.
	if status.Err == "" {
		c.mu.Lock()
		c.cache[addr] = cached{status: status, expires: time.Now().Add(c.ttl)}
		c.mu.Unlock()
	}
	return status
}

func (c *Client) fetch(ctx context.Context, address string) core.KeyStatus {
	url := fmt.Sprintf("%s/v2/key/%s/%s?chain=%d", c.base, c.lock, address, c.chainID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return core.KeyStatus{Err: err.Error()}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.unlock").Msg("key check failed")
		return core.KeyStatus{Err: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return core.KeyStatus{Err: fmt.Sprintf("unlock api status %d", resp.StatusCode)}
	}
	var body keyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return core.KeyStatus{Err: err.Error()}
	}
	log.Debug().Str("module", "adapters.unlock").Str("address", address).Bool("hasKey", body.HasValidKey).Msg("key checked")
	return core.KeyStatus{HasKey: body.HasValidKey}
}

// Invalidate drops the cached answer for address, e.g. right after a
// purchase.
func (c *Client) Invalidate(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, strings.ToLower(address))
}
