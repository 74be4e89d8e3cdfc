package sandbox

import (
	"context"
	"sync"
)

// Fake is an in-memory Client for tests and local development without a
// real sandbox backend. Safe for concurrent use.
type Fake struct {
	mu        sync.Mutex
	instances map[string]bool
	files     map[string][]byte
	ready     bool
	FailNext  string // operation name to force-fail once, for error-path tests
}

// NewFake creates an empty fake sandbox client.
func NewFake() *Fake {
	return &Fake{instances: make(map[string]bool), files: make(map[string][]byte)}
}

func (f *Fake) shouldFail(op string) bool {
	if f.FailNext == op {
		f.FailNext = ""
		return true
	}
	return false
}

func (f *Fake) CreateInstance(ctx context.Context, sessionID string) CreateInstanceResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shouldFail("CreateInstance") {
		return CreateInstanceResult{Result: fail(errFake)}
	}
	id := "inst-" + sessionID
	f.instances[id] = true
	return CreateInstanceResult{Result: ok(), Instance: &Instance{ID: id, Hostname: id + ".sandbox.local"}}
}

func (f *Fake) GetFiles(ctx context.Context, instanceID string) FilesResult {
	return FilesResult{Result: ok()}
}

func (f *Fake) ExecuteCommands(ctx context.Context, instanceID string, commands []string) ExecuteResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shouldFail("ExecuteCommands") {
		return ExecuteResult{Result: fail(errFake)}
	}
	results := make([]CommandResult, 0, len(commands))
	for _, cmd := range commands {
		results = append(results, CommandResult{Command: cmd, ExitCode: 0})
	}
	return ExecuteResult{Result: ok(), Commands: results}
}

func (f *Fake) GetLogs(ctx context.Context, instanceID string, clear bool) LogsResult {
	return LogsResult{Result: ok()}
}

func (f *Fake) RunStaticAnalysis(ctx context.Context, instanceID string) AnalysisResult {
	return AnalysisResult{Result: ok()}
}

func (f *Fake) FetchRuntimeErrors(ctx context.Context, instanceID string, clear bool) AnalysisResult {
	return AnalysisResult{Result: ok()}
}

func (f *Fake) UpdateProjectName(ctx context.Context, instanceID, name string) Result {
	return ok()
}

func (f *Fake) Deploy(ctx context.Context, instanceID string) DeployResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shouldFail("Deploy") {
		return DeployResult{Result: fail(errFake)}
	}
	f.ready = true
	return DeployResult{Result: ok(), DeploymentURL: "https://" + instanceID + ".preview.dev"}
}

func (f *Fake) PreviewStatus(ctx context.Context, instanceID string) PreviewStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return PreviewStatus{Result: ok(), Ready: false}
	}
	return PreviewStatus{Result: ok(), Ready: true, URL: "https://" + instanceID + ".preview.dev"}
}

var errFake = fakeError("sandbox: forced failure for test")

type fakeError string

func (e fakeError) Error() string { return string(e) }
