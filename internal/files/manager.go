// Package files implements the Generated-File Manager (C3): the
// authoritative read/write path for a session's generatedFilesMap, with
// every write committed to the session's version-control store (C4) so
// the file map and the VCS tree never drift apart.
package files

import (
	"context"
	"fmt"
	"sort"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/sessionagent/runtime/internal/vcs"
	"github.com/sessionagent/runtime/pkg/types"
)

// StateAccessor is the slice of the session's State Store (C1) that the
// File Manager needs. It is deliberately narrow — a read/mutate pair over
// the generated-files map — so the manager works identically for app and
// workflow sessions without importing either variant (spec §9's
// trimmed-capability design note).
type StateAccessor interface {
	FilesMap(ctx context.Context) map[string]types.FileRecord
	UpdateFilesMap(ctx context.Context, fn func(map[string]types.FileRecord)) error
}

// Manager is the File Manager for one session.
type Manager struct {
	state StateAccessor
	vcs   *vcs.Store
}

// NewManager creates a File Manager bound to one session's state and VCS
// object store.
func NewManager(state StateAccessor, store *vcs.Store) *Manager {
	return &Manager{state: state, vcs: store}
}

// SaveGeneratedFile writes one file into generatedFilesMap and commits it
// to C4. The commit happens before the map is mutated, so a commit failure
// leaves the map untouched.
func (m *Manager) SaveGeneratedFile(ctx context.Context, file types.FileRecord, commitMessage string) (types.FileRecord, error) {
	saved, err := m.SaveGeneratedFiles(ctx, []types.FileRecord{file}, commitMessage)
	if err != nil {
		return types.FileRecord{}, err
	}
	return saved[0], nil
}

// SaveGeneratedFiles atomically updates the map and creates one commit
// containing all files. The VCS commit runs first; only on success is the
// map mutation applied, so a partial failure rolls back the whole batch
// rather than leaving the map and the VCS tree out of sync.
func (m *Manager) SaveGeneratedFiles(ctx context.Context, files []types.FileRecord, commitMessage string) ([]types.FileRecord, error) {
	if len(files) == 0 {
		return nil, nil
	}

	existing := m.state.FilesMap(ctx)
	contents := make([]vcs.FileContents, 0, len(files))
	records := make([]types.FileRecord, 0, len(files))

	for _, f := range files {
		// A path saved for the first time has no prior contents to diff
		// against, so its LastDiff is empty.
		f.LastDiff = ""
		if prior, ok := existing[f.FilePath]; ok {
			f.LastDiff = unifiedDiff(f.FilePath, prior.FileContents, f.FileContents)
		}
		contents = append(contents, vcs.FileContents{Path: f.FilePath, Contents: f.FileContents})
		records = append(records, f)
	}

	if _, err := m.vcs.Commit(contents, commitMessage); err != nil {
		return nil, fmt.Errorf("files: commit batch: %w", err)
	}

	if err := m.state.UpdateFilesMap(ctx, func(m map[string]types.FileRecord) {
		for _, r := range records {
			m[r.FilePath] = r
		}
	}); err != nil {
		return nil, fmt.Errorf("files: persist map after commit: %w", err)
	}

	return records, nil
}

// GetGeneratedFile returns one file record and whether it exists.
func (m *Manager) GetGeneratedFile(ctx context.Context, path string) (types.FileRecord, bool) {
	rec, ok := m.state.FilesMap(ctx)[path]
	return rec, ok
}

// GetGeneratedFiles returns every file record, sorted by path for
// deterministic iteration (scaffold export and git-object export both
// depend on stable ordering).
func (m *Manager) GetGeneratedFiles(ctx context.Context) []types.FileRecord {
	snapshot := m.state.FilesMap(ctx)
	out := make([]types.FileRecord, 0, len(snapshot))
	for _, rec := range snapshot {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FilePath < out[j].FilePath })
	return out
}

// DeleteFiles removes paths from generatedFilesMap and commits their
// removal to C4. Paths that don't exist are ignored by both the map
// update and the VCS delete.
func (m *Manager) DeleteFiles(ctx context.Context, paths []string, commitMessage string) error {
	if len(paths) == 0 {
		return nil
	}
	if _, err := m.vcs.Delete(paths, commitMessage); err != nil {
		return fmt.Errorf("files: commit deletion: %w", err)
	}
	return m.state.UpdateFilesMap(ctx, func(mp map[string]types.FileRecord) {
		for _, p := range paths {
			delete(mp, p)
		}
	})
}

// unifiedDiff computes a unified-diff text for FileRecord.LastDiff,
// grounded on the same diffmatchpatch line-diff shape the write/edit
// tools use for their metadata. Identical contents yield an empty diff.
func unifiedDiff(path, before, after string) string {
	if before == after {
		return ""
	}
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	patches := dmp.PatchMake(before, diffs)
	diffText := dmp.PatchToText(patches)
	if diffText == "" {
		return ""
	}
	return fmt.Sprintf("--- %s\n+++ %s\n%s", path, path, diffText)
}
