package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// --- Token Cache ---

const (
	potScopeWeb     = "web"
	potCacheTTL     = 6 * time.Hour
	potFetchRetries = 3
)

var potFetchRetryWait = 2 * time.Second

type potCacheEntry struct {
	token     string
	expiresAt time.Time
}

type potCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]potCacheEntry
}

func newPotCache(ttl time.Duration) *potCache {
	return &potCache{
		ttl:     ttl,
		entries: map[string]potCacheEntry{},
	}
}

// set stores a token under the scope with a fresh TTL.
func (c *potCache) set(scope, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[scope] = potCacheEntry{
		token:     token,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// get returns the cached token for the scope. Expired entries are
// evicted on read; reads never extend an entry's lifetime.
func (c *potCache) get(scope string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[scope]
	if !ok {
		return "", false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, scope)
		return "", false
	}
	return entry.token, true
}

var potTokens = newPotCache(potCacheTTL)

// --- Token Fetcher ---

// requestPoToken performs a single POST against the provider. It returns the
// token on success or retryable=false when the provider explicitly rejected
// the request and further attempts are pointless.
func requestPoToken(ctx context.Context, baseURL, contentBinding string) (token string, retryable bool, err error) {
	payload := map[string]string{}
	if contentBinding != "" {
		payload["content_binding"] = contentBinding
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/get_pot", bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := HttpClient.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, err
	}

	var result struct {
		PoToken   string `json:"poToken"`
		PoTokenLC string `json:"po_token"`
		ExpiresAt string `json:"expiresAt"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		// The provider answers with an HTML page while it is still
		// warming up. Treat anything that isn't JSON as "not ready".
		return "", true, nil
	}

	if result.Error != "" {
		LogPot(MsgPotRejected, result.Error)
		return "", false, nil
	}

	token = result.PoToken
	if token == "" {
		token = result.PoTokenLC
	}
	if token == "" {
		LogPot(MsgPotMissingToken)
		return "", true, nil
	}

	expires := result.ExpiresAt
	if expires == "" {
		expires = "unknown"
	}
	LogPot(MsgPotObtained, potScopeWeb, expires)
	return token, false, nil
}

// fetchPoToken asks the local provider for a proof-of-origin token,
// retrying while the service spins up. It returns ok=false when no
// token could be obtained; callers degrade to tokenless streaming.
func fetchPoToken(ctx context.Context, baseURL, contentBinding string) (string, bool) {
	for attempt := 1; attempt <= potFetchRetries; attempt++ {
		LogPot(MsgPotFetching, baseURL, attempt, potFetchRetries)

		token, retryable, err := requestPoToken(ctx, baseURL, contentBinding)
		if token != "" {
			return token, true
		}
		if !retryable && err == nil {
			return "", false
		}

		if attempt == potFetchRetries {
			break
		}
		if err != nil {
			LogPot(MsgPotTransportErr, err, potFetchRetryWait)
		} else {
			LogPot(MsgPotNotReady, potFetchRetryWait)
		}

		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(potFetchRetryWait):
		}
	}

	LogPot(MsgPotGaveUp, potFetchRetries)
	return "", false
}

// potExtractorArg formats a token for yt-dlp's extractor-args flag.
func potExtractorArg(token string) string {
	return "youtube:po_token=" + potScopeWeb + "+" + token
}
