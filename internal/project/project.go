// Package project derives and caches the stable project identity the
// Session Lifecycle (C16) names a session's scaffold after, and that
// the GitHub-export flow (internal/credentials) falls back to when a
// caller doesn't supply an explicit repository name. A session id maps
// to exactly one identity for the life of the process: a retried
// Initialize after a partial failure, or a repeat export, must land on
// the same project name rather than minting a new one every attempt.
package project

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Info is one session's cached project identity.
type Info struct {
	// ID is a short, stable identifier derived from the session id
	// itself, so it never changes across retries.
	ID string
	// Slug is a lowercase, hyphenated, ≤20-char prefix derived from the
	// seed (typically the session's opening query) the first time this
	// session id was seen.
	Slug string
}

var (
	mu    sync.RWMutex
	cache = make(map[string]*Info)
)

// FromSession resolves sessionID's project identity, computing and
// caching it from seed on the first call. Later calls for the same
// sessionID return the cached Info unchanged, regardless of seed.
func FromSession(sessionID, seed string) *Info {
	mu.RLock()
	if info, ok := cache[sessionID]; ok {
		mu.RUnlock()
		return info
	}
	mu.RUnlock()

	info := &Info{ID: hashID(sessionID), Slug: slugify(seed)}

	mu.Lock()
	defer mu.Unlock()
	if existing, ok := cache[sessionID]; ok {
		// Lost a race with a concurrent first call for the same session;
		// the earlier writer's identity wins so both callers agree.
		return existing
	}
	cache[sessionID] = info
	return info
}

// Name joins Slug and ID into the project-name form the Session
// Lifecycle and GitHub export both use, falling back to a plain "project"
// prefix when seed slugified to nothing (an empty or all-punctuation
// query).
func (i *Info) Name() string {
	prefix := i.Slug
	if prefix == "" {
		prefix = "project"
	}
	return prefix + "-" + i.ID
}

// ClearCache drops every cached identity. Tests that reuse session ids
// across cases call this to avoid cross-test leakage.
func ClearCache() {
	mu.Lock()
	defer mu.Unlock()
	cache = make(map[string]*Info)
}

func hashID(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:])[:6]
}

func slugify(s string) string {
	out := make([]rune, 0, len(s))
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
			lastDash = false
		case r >= 'A' && r <= 'Z':
			out = append(out, r-'A'+'a')
			lastDash = false
		default:
			if !lastDash && len(out) > 0 {
				out = append(out, '-')
				lastDash = true
			}
		}
		if len(out) >= 20 {
			break
		}
	}
	return trimTrailingDash(string(out))
}

func trimTrailingDash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '-' {
		s = s[:len(s)-1]
	}
	return s
}
