// Package sharing implements the GitHub-export flow's share-link
// bookkeeping (spec §4.16): once credentials.PushToGitHub lands a
// session's exported history in a new repository, the resulting
// repository URL is registered here behind a short opaque token so a
// frontend can hand out a stable share link instead of the raw GitHub
// URL, and so a later view of that link can be rate-limited or expired
// without touching GitHub itself.
package sharing

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

// ShareInfo is the bookkeeping record for one session's exported
// repository.
type ShareInfo struct {
	Token         string    `json:"token"`
	SessionID     string    `json:"sessionId"`
	RepositoryURL string    `json:"repositoryUrl"`
	URL           string    `json:"url"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt,omitempty"`
	Views         int       `json:"views"`
	MaxViews      int       `json:"maxViews,omitempty"` // 0 = unlimited
}

// ShareOptions configures a share link's lifetime and view budget.
type ShareOptions struct {
	ExpiresIn time.Duration
	MaxViews  int
}

// Manager holds every session's share link in memory for the lifetime
// of the process, keyed both by token (for resolving an inbound share
// URL) and by session id (so a repeat export updates the same link
// instead of minting a new one).
type Manager struct {
	mu        sync.RWMutex
	shares    map[string]*ShareInfo // token -> share info
	bySession map[string]string     // sessionID -> token
	baseURL   string
}

// NewManager creates a share-link manager. baseURL prefixes every
// issued link (e.g. "https://runtime.example.com/share"); an empty
// baseURL falls back to a path-only "/share" prefix so links stay
// resolvable behind whatever host is fronting the server.
func NewManager(baseURL string) *Manager {
	if baseURL == "" {
		baseURL = "/share"
	}
	return &Manager{
		shares:    make(map[string]*ShareInfo),
		bySession: make(map[string]string),
		baseURL:   baseURL,
	}
}

// Share registers repositoryURL as sessionID's exported destination,
// reusing the existing token (and refreshing its expiry/view budget) if
// this session was already shared — an export retry after a partial
// failure must not hand out a second, different link for the same
// session.
func (m *Manager) Share(sessionID, repositoryURL string, opts *ShareOptions) (*ShareInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token, exists := m.bySession[sessionID]; exists {
		if info, ok := m.shares[token]; ok {
			info.RepositoryURL = repositoryURL
			applyOptions(info, opts)
			return info, nil
		}
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("sharing: generate token: %w", err)
	}

	info := &ShareInfo{
		Token:         token,
		SessionID:     sessionID,
		RepositoryURL: repositoryURL,
		URL:           fmt.Sprintf("%s/%s", m.baseURL, token),
		CreatedAt:     time.Now(),
	}
	applyOptions(info, opts)

	m.shares[token] = info
	m.bySession[sessionID] = token
	return info, nil
}

func applyOptions(info *ShareInfo, opts *ShareOptions) {
	if opts == nil {
		return
	}
	if opts.ExpiresIn != 0 {
		info.ExpiresAt = time.Now().Add(opts.ExpiresIn)
	}
	if opts.MaxViews > 0 {
		info.MaxViews = opts.MaxViews
	}
}

// Unshare revokes sessionID's share link.
func (m *Manager) Unshare(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, exists := m.bySession[sessionID]
	if !exists {
		return fmt.Errorf("sharing: session %s is not shared", sessionID)
	}
	delete(m.shares, token)
	delete(m.bySession, sessionID)
	return nil
}

// GetByToken resolves an inbound share link, enforcing expiry and view
// limits. Callers that successfully resolve a token should follow up
// with RecordView.
func (m *Manager) GetByToken(token string) (*ShareInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.shares[token]
	if !ok {
		return nil, fmt.Errorf("sharing: token not found")
	}
	if !info.ExpiresAt.IsZero() && time.Now().After(info.ExpiresAt) {
		return nil, fmt.Errorf("sharing: share expired")
	}
	if info.MaxViews > 0 && info.Views >= info.MaxViews {
		return nil, fmt.Errorf("sharing: view limit exceeded")
	}
	return info, nil
}

// GetBySession retrieves the share link for a session, if any.
func (m *Manager) GetBySession(sessionID string) (*ShareInfo, error) {
	m.mu.RLock()
	token, exists := m.bySession[sessionID]
	m.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("sharing: session %s is not shared", sessionID)
	}
	return m.GetByToken(token)
}

// RecordView increments a share link's view count.
func (m *Manager) RecordView(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.shares[token]
	if !ok {
		return fmt.Errorf("sharing: token not found")
	}
	info.Views++
	return nil
}

// IsShared reports whether sessionID currently has a live share link.
func (m *Manager) IsShared(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.bySession[sessionID]
	return exists
}

// ListShares returns every currently registered share link.
func (m *Manager) ListShares() []*ShareInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	shares := make([]*ShareInfo, 0, len(m.shares))
	for _, info := range m.shares {
		shares = append(shares, info)
	}
	return shares
}

// CleanExpired evicts share links that are past their expiry or view
// budget, returning the number removed. The Session Lifecycle does not
// call this on a timer (no background sweeper exists in this runtime
// yet); it is here for a caller that does want periodic cleanup.
func (m *Manager) CleanExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	count := 0
	for token, info := range m.shares {
		expired := !info.ExpiresAt.IsZero() && now.After(info.ExpiresAt)
		overViewed := info.MaxViews > 0 && info.Views >= info.MaxViews
		if expired || overViewed {
			delete(m.shares, token)
			delete(m.bySession, info.SessionID)
			count++
		}
	}
	return count
}

// generateToken mints a URL-safe, unguessable share token.
func generateToken() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(raw)[:22], nil
}
