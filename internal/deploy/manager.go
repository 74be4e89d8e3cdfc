// Package deploy implements the Deployment Manager (C7): the sandbox and
// Cloudflare preview/deploy lifecycles, static analysis, and runtime-error
// retrieval. Sandbox deploys for one session are serialized by a per-session
// mutex — the sandbox collaborator has no concept of concurrent deploys to
// the same instance.
package deploy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/sessionagent/runtime/internal/sandbox"
	"github.com/sessionagent/runtime/pkg/types"
)

// Retry/backoff tuning for preview readiness polling, grounded on the
// teacher's session/loop.go retry constants.
const (
	PreviewPollInitialInterval = time.Second
	PreviewPollMaxInterval     = 10 * time.Second
	PreviewPollMaxElapsedTime  = 2 * time.Minute
)

// Callbacks hooks into each step of deployToSandbox's lifecycle (spec
// §4.7). Any nil callback is simply skipped.
type Callbacks struct {
	OnStarted           func()
	OnAfterSetupCommands func(packageJSONChanged bool)
	OnCompleted         func(previewURL string)
	OnError             func(err error)
	OnPreviewExpired    func()
}

// Manager drives one session's sandbox and deployment lifecycle.
type Manager struct {
	client sandbox.Client

	sessionMus sync.Map // sessionID -> *sync.Mutex, one lock per session
}

// NewManager creates a Deployment Manager bound to a Sandbox Client.
func NewManager(client sandbox.Client) *Manager {
	return &Manager{client: client}
}

func (m *Manager) lockFor(sessionID string) *sync.Mutex {
	v, _ := m.sessionMus.LoadOrStore(sessionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// DeployToSandbox runs the 7-step lifecycle: ensure an instance exists,
// push generated files, run bootstrap commands, sync package.json drift,
// wait for the preview to come up, and report completion or error via cb.
// Deploys for the same sessionID never run concurrently.
func (m *Manager) DeployToSandbox(
	ctx context.Context,
	sessionID string,
	instanceID string,
	files []types.FileRecord,
	bootstrapCommands []string,
	lastPackageJSON string,
	cb Callbacks,
) (instance *sandbox.Instance, previewURL string, newPackageJSON string, err error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if cb.OnStarted != nil {
		cb.OnStarted()
	}

	inst := &sandbox.Instance{ID: instanceID}
	if instanceID == "" {
		created := m.client.CreateInstance(ctx, sessionID)
		if !created.Success {
			err = fmt.Errorf("deploy: create instance: %s", created.Error)
			if cb.OnError != nil {
				cb.OnError(err)
			}
			return nil, "", "", err
		}
		inst = created.Instance
	}

	fileContents := make([]types.FileRecord, len(files))
	copy(fileContents, files)
	if exec := m.client.ExecuteCommands(ctx, inst.ID, pushFilesCommand(fileContents)); !exec.Success {
		err = fmt.Errorf("deploy: push files: %s", exec.Error)
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return inst, "", "", err
	}

	if len(bootstrapCommands) > 0 {
		if exec := m.client.ExecuteCommands(ctx, inst.ID, bootstrapCommands); !exec.Success {
			err = fmt.Errorf("deploy: bootstrap commands: %s", exec.Error)
			if cb.OnError != nil {
				cb.OnError(err)
			}
			return inst, "", "", err
		}
	}

	newPackageJSON = syncPackageJSONDrift(lastPackageJSON, fileContents)
	if cb.OnAfterSetupCommands != nil {
		cb.OnAfterSetupCommands(newPackageJSON != lastPackageJSON)
	}

	previewURL, err = m.WaitForPreview(ctx, inst.ID)
	if err != nil {
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return inst, "", newPackageJSON, err
	}

	if cb.OnCompleted != nil {
		cb.OnCompleted(previewURL)
	}
	return inst, previewURL, newPackageJSON, nil
}

// DeployToCloudflare runs the Cloudflare deploy RPC and reports whether a
// previously cached preview should be treated as expired.
func (m *Manager) DeployToCloudflare(ctx context.Context, instanceID string, cb Callbacks) (deploymentURL string, err error) {
	if cb.OnStarted != nil {
		cb.OnStarted()
	}
	result := m.client.Deploy(ctx, instanceID)
	if !result.Success {
		err = fmt.Errorf("deploy: cloudflare deploy: %s", result.Error)
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return "", err
	}
	if cb.OnPreviewExpired != nil {
		cb.OnPreviewExpired()
	}
	if cb.OnCompleted != nil {
		cb.OnCompleted(result.DeploymentURL)
	}
	return result.DeploymentURL, nil
}

// RunStaticAnalysis delegates to the sandbox client's analysis RPC.
func (m *Manager) RunStaticAnalysis(ctx context.Context, instanceID string) ([]string, error) {
	result := m.client.RunStaticAnalysis(ctx, instanceID)
	if !result.Success {
		return nil, fmt.Errorf("deploy: static analysis: %s", result.Error)
	}
	return result.Issues, nil
}

// FetchRuntimeErrors delegates to the sandbox client, optionally clearing
// the error buffer after reading (used by C12's deep-debug entry point).
func (m *Manager) FetchRuntimeErrors(ctx context.Context, instanceID string, clear bool) ([]string, error) {
	result := m.client.FetchRuntimeErrors(ctx, instanceID, clear)
	if !result.Success {
		return nil, fmt.Errorf("deploy: fetch runtime errors: %s", result.Error)
	}
	return result.Issues, nil
}

// WaitForPreview polls the sandbox's preview status with exponential
// backoff and jitter until it reports ready, the backoff budget is
// exhausted, or ctx is cancelled.
func (m *Manager) WaitForPreview(ctx context.Context, instanceID string) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = PreviewPollInitialInterval
	b.MaxInterval = PreviewPollMaxInterval
	b.MaxElapsedTime = PreviewPollMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	bo := backoff.WithContext(b, ctx)

	var url string
	op := func() error {
		status := m.client.PreviewStatus(ctx, instanceID)
		if !status.Success {
			return fmt.Errorf("deploy: preview status: %s", status.Error)
		}
		if !status.Ready {
			return fmt.Errorf("deploy: preview not ready yet")
		}
		url = status.URL
		return nil
	}

	if err := backoff.Retry(op, bo); err != nil {
		return "", fmt.Errorf("deploy: wait for preview: %w", err)
	}
	return url, nil
}

// pushFilesCommand is a placeholder for however the sandbox vendor wants
// files delivered; this repo treats the transport detail as owned by the
// Sandbox Client, and here only encodes the intent of "push files" for
// clients that take a command batch.
func pushFilesCommand(files []types.FileRecord) []string {
	cmds := make([]string, 0, len(files))
	for range files {
		cmds = append(cmds, "sync")
	}
	return cmds
}

// syncPackageJSONDrift detects whether the generated file set introduced a
// new or changed package.json and returns the winning contents, using
// gjson/sjson to merge dependency fields rather than a blind overwrite so
// sandbox-side lockfile installs stay in sync with what was generated.
func syncPackageJSONDrift(lastPackageJSON string, files []types.FileRecord) string {
	for _, f := range files {
		if f.FilePath != "package.json" {
			continue
		}
		if lastPackageJSON == "" {
			return f.FileContents
		}
		merged := lastPackageJSON
		gjson.Parse(f.FileContents).Get("dependencies").ForEach(func(k, v gjson.Result) bool {
			merged, _ = sjson.Set(merged, "dependencies."+k.String(), v.Value())
			return true
		})
		gjson.Parse(f.FileContents).Get("devDependencies").ForEach(func(k, v gjson.Result) bool {
			merged, _ = sjson.Set(merged, "devDependencies."+k.String(), v.Value())
			return true
		})
		return merged
	}
	return lastPackageJSON
}
