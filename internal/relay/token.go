package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultTokenCacheName = ".onenote_mcp_tokens.json"

// cachedToken mirrors the JSON written by the OneNote MCP server.
type cachedToken struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresAt    float64 `json:"expires_at"`
}

// TokenSource provides the upstream bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Clear() error
}

// TokenCache reads access tokens from the cache file shared with the
// OneNote MCP server. The relay never refreshes tokens itself; it only
// consumes what the MCP server writes. A filesystem watch invalidates
// the in-memory copy when the file changes, so an out-of-band re-auth
// is picked up without a restart.
type TokenCache struct {
	path string

	mu     sync.Mutex
	loaded bool
	tok    cachedToken

	watcher *fsnotify.Watcher
	done    chan struct{}

	now func() time.Time
}

func NewTokenCache(path string) *TokenCache {
	return &TokenCache{path: path, now: time.Now}
}

// DefaultTokenCachePath is the cache file the OneNote MCP server writes.
func DefaultTokenCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultTokenCacheName
	}
	return filepath.Join(home, defaultTokenCacheName)
}

// Watch starts a filesystem watch on the cache file's directory.
// Callers that skip Watch still get correct tokens; they just keep the
// last loaded copy until Clear or process restart.
func (c *TokenCache) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		_ = watcher.Close()
		return err
	}
	c.watcher = watcher
	c.done = make(chan struct{})
	go c.watchLoop()
	return nil
}

func (c *TokenCache) watchLoop() {
	for {
		select {
		case <-c.done:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(c.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				c.invalidate()
			}
		case _, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the filesystem watch.
func (c *TokenCache) Close() error {
	if c.watcher == nil {
		return nil
	}
	close(c.done)
	return c.watcher.Close()
}

func (c *TokenCache) invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.tok = cachedToken{}
	c.mu.Unlock()
}

// Token returns the cached access token if present and unexpired.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		if err := c.loadLocked(); err != nil {
			return "", err
		}
	}
	if c.tok.AccessToken == "" {
		return "", ErrNotAuthenticated
	}
	if c.tok.ExpiresAt > 0 && float64(c.now().Unix()) >= c.tok.ExpiresAt {
		return "", fmt.Errorf("cached token expired: %w", ErrNotAuthenticated)
	}
	return c.tok.AccessToken, nil
}

// ValidFor reports how long the cached token remains valid. Zero when
// no token is loaded or it has already expired.
func (c *TokenCache) ValidFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded || c.tok.ExpiresAt <= 0 {
		return 0
	}
	remaining := time.Duration(c.tok.ExpiresAt-float64(c.now().Unix())) * time.Second
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (c *TokenCache) loadLocked() error {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotAuthenticated
	}
	if err != nil {
		return err
	}
	var tok cachedToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return fmt.Errorf("token cache %s: %w", c.path, err)
	}
	c.tok = tok
	c.loaded = true
	return nil
}

// Clear discards the in-memory token and deletes the cache file. It is
// idempotent: clearing an already empty cache succeeds.
func (c *TokenCache) Clear() error {
	c.invalidate()
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
