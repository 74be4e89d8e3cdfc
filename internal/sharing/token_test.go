package sharing

import (
	"testing"
	"time"
)

func TestNewManager_DefaultBaseURL(t *testing.T) {
	m := NewManager("")
	if m.baseURL != "/share" {
		t.Errorf("baseURL = %q, want /share", m.baseURL)
	}
}

func TestNewManager_CustomBaseURL(t *testing.T) {
	m := NewManager("https://runtime.example.com/share")
	if m.baseURL != "https://runtime.example.com/share" {
		t.Errorf("baseURL = %q, want custom", m.baseURL)
	}
}

func TestShare_IssuesTokenAndURL(t *testing.T) {
	m := NewManager("")

	info, err := m.Share("sess-1", "https://github.com/acme/sess-1", nil)
	if err != nil {
		t.Fatalf("Share() = %v", err)
	}
	if info.Token == "" {
		t.Error("expected non-empty token")
	}
	if info.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", info.SessionID)
	}
	if info.RepositoryURL != "https://github.com/acme/sess-1" {
		t.Errorf("RepositoryURL = %q", info.RepositoryURL)
	}
	if info.URL == "" {
		t.Error("expected non-empty share URL")
	}
}

func TestShare_RepeatExportReusesToken(t *testing.T) {
	m := NewManager("")

	first, err := m.Share("sess-1", "https://github.com/acme/sess-1", nil)
	if err != nil {
		t.Fatalf("Share() = %v", err)
	}
	second, err := m.Share("sess-1", "https://github.com/acme/sess-1-retry", nil)
	if err != nil {
		t.Fatalf("Share() (retry) = %v", err)
	}

	if first.Token != second.Token {
		t.Fatalf("retrying an export minted a new token: %q != %q", first.Token, second.Token)
	}
	if second.RepositoryURL != "https://github.com/acme/sess-1-retry" {
		t.Errorf("RepositoryURL not updated on retry: %q", second.RepositoryURL)
	}
}

func TestGetByToken_NotFound(t *testing.T) {
	m := NewManager("")
	if _, err := m.GetByToken("missing"); err == nil {
		t.Fatal("expected error for unknown token")
	}
}

func TestGetByToken_Expired(t *testing.T) {
	m := NewManager("")
	info, err := m.Share("sess-1", "https://github.com/acme/sess-1", &ShareOptions{ExpiresIn: -time.Minute})
	if err != nil {
		t.Fatalf("Share() = %v", err)
	}

	if _, err := m.GetByToken(info.Token); err == nil {
		t.Fatal("expected expired share to error")
	}
}

func TestGetByToken_ViewLimit(t *testing.T) {
	m := NewManager("")
	info, err := m.Share("sess-1", "https://github.com/acme/sess-1", &ShareOptions{MaxViews: 1})
	if err != nil {
		t.Fatalf("Share() = %v", err)
	}

	if err := m.RecordView(info.Token); err != nil {
		t.Fatalf("RecordView() = %v", err)
	}
	if _, err := m.GetByToken(info.Token); err == nil {
		t.Fatal("expected view-limit-exceeded error")
	}
}

func TestGetBySession_NotShared(t *testing.T) {
	m := NewManager("")
	if _, err := m.GetBySession("nope"); err == nil {
		t.Fatal("expected error for unshared session")
	}
}

func TestUnshare(t *testing.T) {
	m := NewManager("")
	info, err := m.Share("sess-1", "https://github.com/acme/sess-1", nil)
	if err != nil {
		t.Fatalf("Share() = %v", err)
	}

	if err := m.Unshare("sess-1"); err != nil {
		t.Fatalf("Unshare() = %v", err)
	}
	if _, err := m.GetByToken(info.Token); err == nil {
		t.Fatal("expected token to be gone after Unshare")
	}
	if err := m.Unshare("sess-1"); err == nil {
		t.Fatal("expected second Unshare to error")
	}
}

func TestIsShared(t *testing.T) {
	m := NewManager("")
	if m.IsShared("sess-1") {
		t.Fatal("expected false before Share")
	}
	if _, err := m.Share("sess-1", "https://github.com/acme/sess-1", nil); err != nil {
		t.Fatalf("Share() = %v", err)
	}
	if !m.IsShared("sess-1") {
		t.Fatal("expected true after Share")
	}
}

func TestListShares(t *testing.T) {
	m := NewManager("")
	if _, err := m.Share("sess-1", "https://github.com/acme/sess-1", nil); err != nil {
		t.Fatalf("Share() = %v", err)
	}
	if _, err := m.Share("sess-2", "https://github.com/acme/sess-2", nil); err != nil {
		t.Fatalf("Share() = %v", err)
	}
	if len(m.ListShares()) != 2 {
		t.Fatalf("ListShares() len = %d, want 2", len(m.ListShares()))
	}
}

func TestCleanExpired(t *testing.T) {
	m := NewManager("")
	if _, err := m.Share("sess-1", "https://github.com/acme/sess-1", &ShareOptions{ExpiresIn: -time.Minute}); err != nil {
		t.Fatalf("Share() = %v", err)
	}
	if _, err := m.Share("sess-2", "https://github.com/acme/sess-2", nil); err != nil {
		t.Fatalf("Share() = %v", err)
	}

	if n := m.CleanExpired(); n != 1 {
		t.Fatalf("CleanExpired() = %d, want 1", n)
	}
	if m.IsShared("sess-1") {
		t.Fatal("expired share should have been evicted")
	}
	if !m.IsShared("sess-2") {
		t.Fatal("non-expired share should remain")
	}
}
