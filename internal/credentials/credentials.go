// Package credentials implements the External-Credentials & Export
// peripheral (spec §4.16): Cloudflare credential lookup for the
// Deployment Manager (C7), a pure export of one session's VCS history,
// and pushing that export to a new GitHub repository, finishing with a
// share link registered through internal/sharing so the caller gets
// back a stable URL instead of the raw repository address.
//
// Grounded on the teacher's external-API-call shape (one thin client
// wrapper per external service, errors surfaced rather than panicked);
// the GitHub client itself is google/go-github, a library the corpus's
// other_examples manifests (nugget-thane-ai-agent, dagu-org-dagu)
// already depend on for the same purpose.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/go-github/v69/github"
	"golang.org/x/oauth2"

	"github.com/sessionagent/runtime/internal/event"
	"github.com/sessionagent/runtime/internal/sharing"
	"github.com/sessionagent/runtime/internal/storage"
	"github.com/sessionagent/runtime/internal/vcs"
	"github.com/sessionagent/runtime/pkg/types"
)

// Broadcaster is the event-emission slice of agentcap.Capabilities (and
// of *event.SessionBus itself); PushToGitHub only needs to emit events,
// not the rest of the capability surface, so it depends on this instead
// of importing internal/agentcap and risking an import cycle.
type Broadcaster interface {
	Broadcast(eventType event.EventType, data any)
}

// CloudflareCredentials is one user's deployment credentials.
type CloudflareCredentials struct {
	AccountID string
	APIToken  string
}

// SecretsProvider is the optional per-user secrets lookup spec §4.16
// describes ("optional lookup against the secrets provider"). Returning
// (nil, nil) means "no per-user override"; GetCloudflareCredentials then
// falls back to the process-wide default.
type SecretsProvider interface {
	LookupCloudflare(ctx context.Context, userID string) (*CloudflareCredentials, error)
}

// NoSecretsProvider is the default SecretsProvider when no per-user
// secrets backend is configured: every lookup returns nil, so callers
// always fall back to the process-wide CloudflareConfig default.
type NoSecretsProvider struct{}

func (NoSecretsProvider) LookupCloudflare(ctx context.Context, userID string) (*CloudflareCredentials, error) {
	return nil, nil
}

// GetCloudflareCredentials resolves the Cloudflare credentials a
// deployment should use for userID: a per-user override from secrets if
// one exists, otherwise the process-wide default from config, otherwise
// nil (spec: "returns {accountId, apiToken} or null").
func GetCloudflareCredentials(ctx context.Context, cfg *types.Config, secrets SecretsProvider, userID string) (*CloudflareCredentials, error) {
	if secrets == nil {
		secrets = NoSecretsProvider{}
	}
	creds, err := secrets.LookupCloudflare(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("credentials: lookup cloudflare creds: %w", err)
	}
	if creds != nil {
		return creds, nil
	}
	if cfg != nil && cfg.Cloudflare.AccountID != "" && cfg.Cloudflare.APIToken != "" {
		return &CloudflareCredentials{AccountID: cfg.Cloudflare.AccountID, APIToken: cfg.Cloudflare.APIToken}, nil
	}
	return nil, nil
}

// TemplateDetails identifies the scaffold a session started from, carried
// along in an export so a re-import can reconstruct the same baseline.
type TemplateDetails struct {
	ProjectType  types.ProjectType
	TemplateName string
}

// Export is the bundle spec §4.16's exportGitObjects returns: the raw
// VCS objects plus enough session context for external publishing.
type Export struct {
	GitObjects      vcs.ExportedObjects
	Query           string
	HasCommits      bool
	TemplateDetails TemplateDetails
}

// ExportGitObjects builds the export bundle for one session. Pure: it
// only reads from store and the supplied session fields.
func ExportGitObjects(store *vcs.Store, query string, templateDetails TemplateDetails) Export {
	return Export{
		GitObjects:      store.ExportGitObjects(),
		Query:           query,
		HasCommits:      store.HasCommits(),
		TemplateDetails: templateDetails,
	}
}

// Files resolves the export's HEAD tree against its exported blob
// objects, producing the flat file list a GitHub push (or any other
// external consumer) actually needs. Returns an empty slice if the
// export has no commits yet.
func (e Export) Files() ([]types.FileRecord, error) {
	if e.GitObjects.Head == "" {
		return nil, nil
	}
	objects := make(map[string]vcs.Object, len(e.GitObjects.Objects))
	for _, o := range e.GitObjects.Objects {
		objects[o.Hash] = o
	}
	commitObj, ok := objects[e.GitObjects.Head]
	if !ok || commitObj.Type != vcs.ObjectCommit {
		return nil, fmt.Errorf("credentials: export missing head commit object")
	}
	var commit vcs.Commit
	if err := unmarshalObject(commitObj, &commit); err != nil {
		return nil, fmt.Errorf("credentials: decode head commit: %w", err)
	}
	treeObj, ok := objects[commit.TreeHash]
	if !ok || treeObj.Type != vcs.ObjectTree {
		return nil, fmt.Errorf("credentials: export missing head tree object")
	}
	var tree vcs.Tree
	if err := unmarshalObject(treeObj, &tree); err != nil {
		return nil, fmt.Errorf("credentials: decode head tree: %w", err)
	}

	files := make([]types.FileRecord, 0, len(tree.Entries))
	for _, entry := range tree.Entries {
		blob, ok := objects[entry.Hash]
		if !ok || blob.Type != vcs.ObjectBlob {
			return nil, fmt.Errorf("credentials: export missing blob for %s", entry.Path)
		}
		files = append(files, types.FileRecord{FilePath: entry.Path, FileContents: string(blob.Data)})
	}
	return files, nil
}

// GitHubPushRequest is the input to PushToGitHub (spec §4.16).
type GitHubPushRequest struct {
	SessionID   string
	Owner       string
	Repo        string
	Private     bool
	AccessToken string
	CommitMsg   string
	Export      Export
}

// sessionIndexRecord is the durable record PushToGitHub updates on
// success, so later reads of session metadata see the repository URL
// without needing to replay the export.
type sessionIndexRecord struct {
	RepositoryURL string `json:"repositoryUrl,omitempty"`
}

// PushToGitHub creates (or reuses) a repository under req.Owner/req.Repo
// and pushes req.Export's files to it via the Git Data API (blobs, one
// tree, one commit, then the default branch ref), emitting
// github_export_* lifecycle events throughout and updating the session
// index with the resulting repository URL on success. shareMgr may be
// nil, in which case the completed event simply carries no share URL.
func PushToGitHub(ctx context.Context, req GitHubPushRequest, bus Broadcaster, store *storage.Storage, shareMgr *sharing.Manager) (repositoryURL string, err error) {
	bus.Broadcast(event.GitHubExportStarted, event.GitHubExportEventData{SessionID: req.SessionID})

	files, err := req.Export.Files()
	if err != nil {
		bus.Broadcast(event.GitHubExportError, event.GitHubExportEventData{SessionID: req.SessionID, Error: err.Error()})
		return "", err
	}
	if len(files) == 0 {
		err := fmt.Errorf("github export: session has no generated files")
		bus.Broadcast(event.GitHubExportError, event.GitHubExportEventData{SessionID: req.SessionID, Error: err.Error()})
		return "", err
	}

	client := github.NewClient(oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: req.AccessToken})))

	bus.Broadcast(event.GitHubExportProgress, event.GitHubExportEventData{SessionID: req.SessionID, Progress: "creating repository"})
	repo, resp, err := client.Repositories.Create(ctx, "", &github.Repository{Name: strPtr(req.Repo), Private: boolPtr(req.Private)})
	if err != nil && (resp == nil || resp.StatusCode != 422) { // 422 = already exists, tolerated
		bus.Broadcast(event.GitHubExportError, event.GitHubExportEventData{SessionID: req.SessionID, Error: err.Error()})
		return "", fmt.Errorf("github export: create repository: %w", err)
	}
	if repo == nil {
		repo, _, err = client.Repositories.Get(ctx, req.Owner, req.Repo)
		if err != nil {
			bus.Broadcast(event.GitHubExportError, event.GitHubExportEventData{SessionID: req.SessionID, Error: err.Error()})
			return "", fmt.Errorf("github export: fetch existing repository: %w", err)
		}
	}
	owner := req.Owner
	if repo.GetOwner() != nil && repo.GetOwner().GetLogin() != "" {
		owner = repo.GetOwner().GetLogin()
	}

	bus.Broadcast(event.GitHubExportProgress, event.GitHubExportEventData{SessionID: req.SessionID, Progress: "uploading blobs"})
	entries := make([]*github.TreeEntry, 0, len(files))
	for _, f := range files {
		blob, _, err := client.Git.CreateBlob(ctx, owner, req.Repo, &github.Blob{
			Content:  strPtr(f.FileContents),
			Encoding: strPtr("utf-8"),
		})
		if err != nil {
			bus.Broadcast(event.GitHubExportError, event.GitHubExportEventData{SessionID: req.SessionID, Error: err.Error()})
			return "", fmt.Errorf("github export: create blob for %s: %w", f.FilePath, err)
		}
		entries = append(entries, &github.TreeEntry{
			Path: strPtr(f.FilePath),
			Mode: strPtr("100644"),
			Type: strPtr("blob"),
			SHA:  blob.SHA,
		})
	}

	bus.Broadcast(event.GitHubExportProgress, event.GitHubExportEventData{SessionID: req.SessionID, Progress: "creating tree and commit"})
	tree, _, err := client.Git.CreateTree(ctx, owner, req.Repo, "", entries)
	if err != nil {
		bus.Broadcast(event.GitHubExportError, event.GitHubExportEventData{SessionID: req.SessionID, Error: err.Error()})
		return "", fmt.Errorf("github export: create tree: %w", err)
	}

	message := req.CommitMsg
	if message == "" {
		message = "Export from " + req.SessionID
	}
	commit, _, err := client.Git.CreateCommit(ctx, owner, req.Repo, &github.Commit{Message: strPtr(message), Tree: tree}, nil)
	if err != nil {
		bus.Broadcast(event.GitHubExportError, event.GitHubExportEventData{SessionID: req.SessionID, Error: err.Error()})
		return "", fmt.Errorf("github export: create commit: %w", err)
	}

	ref := &github.Reference{Ref: strPtr("refs/heads/main"), Object: &github.GitObject{SHA: commit.SHA}}
	if _, _, err := client.Git.CreateRef(ctx, owner, req.Repo, ref); err != nil {
		if _, _, err2 := client.Git.UpdateRef(ctx, owner, req.Repo, ref, true); err2 != nil {
			bus.Broadcast(event.GitHubExportError, event.GitHubExportEventData{SessionID: req.SessionID, Error: err2.Error()})
			return "", fmt.Errorf("github export: update ref: %w", err2)
		}
	}

	repositoryURL = repo.GetHTMLURL()
	if err := updateSessionIndex(ctx, store, req.SessionID, repositoryURL); err != nil {
		// The push itself succeeded; a bookkeeping failure is reported
		// as a progress event and the export still returns no error,
		// rather than undoing a real GitHub repository.
		bus.Broadcast(event.GitHubExportProgress, event.GitHubExportEventData{SessionID: req.SessionID, Progress: "repository created but session index update failed: " + err.Error()})
	}

	var shareURL string
	if shareMgr != nil {
		share, shareErr := shareMgr.Share(req.SessionID, repositoryURL, nil)
		if shareErr != nil {
			// A share-link failure never undoes the export; the caller
			// still gets the raw repository URL back.
			bus.Broadcast(event.GitHubExportProgress, event.GitHubExportEventData{SessionID: req.SessionID, Progress: "repository created but share link registration failed: " + shareErr.Error()})
		} else {
			shareURL = share.URL
		}
	}

	bus.Broadcast(event.GitHubExportCompleted, event.GitHubExportEventData{SessionID: req.SessionID, RepositoryURL: repositoryURL, ShareURL: shareURL})
	return repositoryURL, nil
}

func updateSessionIndex(ctx context.Context, store *storage.Storage, sessionID, repositoryURL string) error {
	path := storage.SessionPath(sessionID, "index")
	var rec sessionIndexRecord
	_ = store.Get(ctx, path, &rec) // absent is fine; rec stays zero-valued
	rec.RepositoryURL = repositoryURL
	return store.Put(ctx, path, rec)
}

func unmarshalObject(o vcs.Object, v any) error {
	return json.Unmarshal(o.Data, v)
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
