package files

import (
	"context"
	"testing"

	"github.com/sessionagent/runtime/internal/vcs"
	"github.com/sessionagent/runtime/pkg/types"
)

// memAccessor is a minimal in-memory StateAccessor for testing, standing
// in for the session-package adapters.
type memAccessor struct{ m map[string]types.FileRecord }

func newMemAccessor() *memAccessor { return &memAccessor{m: make(map[string]types.FileRecord)} }

func (a *memAccessor) FilesMap(ctx context.Context) map[string]types.FileRecord {
	out := make(map[string]types.FileRecord, len(a.m))
	for k, v := range a.m {
		out[k] = v
	}
	return out
}

func (a *memAccessor) UpdateFilesMap(ctx context.Context, fn func(map[string]types.FileRecord)) error {
	fn(a.m)
	return nil
}

func newTestManager() (*Manager, *memAccessor, *vcs.Store) {
	acc := newMemAccessor()
	store := vcs.NewStore()
	store.Init()
	return NewManager(acc, store), acc, store
}

func TestSaveGeneratedFiles_SupersetRoundTrip(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	in := []types.FileRecord{
		{FilePath: "a.ts", FileContents: "a"},
		{FilePath: "b.ts", FileContents: "b"},
	}
	if _, err := m.SaveGeneratedFiles(ctx, in, "initial"); err != nil {
		t.Fatal(err)
	}

	out := m.GetGeneratedFiles(ctx)
	if len(out) != 2 {
		t.Fatalf("expected 2 files, got %d", len(out))
	}
	for i, f := range in {
		if out[i].FilePath != f.FilePath || out[i].FileContents != f.FileContents {
			t.Fatalf("file %d mismatch: got %+v, want path/contents of %+v", i, out[i], f)
		}
	}
}

func TestSaveGeneratedFile_CommitsEveryPathToVCS(t *testing.T) {
	m, _, store := newTestManager()
	ctx := context.Background()

	if _, err := m.SaveGeneratedFile(ctx, types.FileRecord{FilePath: "a.ts", FileContents: "a"}, "c1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.SaveGeneratedFile(ctx, types.FileRecord{FilePath: "b.ts", FileContents: "b"}, "c2"); err != nil {
		t.Fatal(err)
	}

	for _, rec := range m.GetGeneratedFiles(ctx) {
		found := false
		for _, p := range store.Paths() {
			if p == rec.FilePath {
				found = true
			}
		}
		if !found {
			t.Fatalf("path %s in generatedFilesMap but not committed to VCS", rec.FilePath)
		}
	}
}

func TestSaveGeneratedFile_ComputesLastDiffOnChange(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	first, err := m.SaveGeneratedFile(ctx, types.FileRecord{FilePath: "a.ts", FileContents: "line1\n"}, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if first.LastDiff != "" {
		t.Fatalf("expected empty diff on first save, got %q", first.LastDiff)
	}

	second, err := m.SaveGeneratedFile(ctx, types.FileRecord{FilePath: "a.ts", FileContents: "line1\nline2\n"}, "c2")
	if err != nil {
		t.Fatal(err)
	}
	if second.LastDiff == "" {
		t.Fatal("expected non-empty diff on changed content")
	}
}

func TestDeleteFiles_RemovesFromMapAndVCS(t *testing.T) {
	m, _, store := newTestManager()
	ctx := context.Background()

	if _, err := m.SaveGeneratedFiles(ctx, []types.FileRecord{
		{FilePath: "a.ts", FileContents: "a"},
		{FilePath: "b.ts", FileContents: "b"},
	}, "initial"); err != nil {
		t.Fatal(err)
	}

	if err := m.DeleteFiles(ctx, []string{"a.ts"}, "remove a"); err != nil {
		t.Fatal(err)
	}

	if _, ok := m.GetGeneratedFile(ctx, "a.ts"); ok {
		t.Fatal("expected a.ts to be removed from map")
	}
	for _, p := range store.Paths() {
		if p == "a.ts" {
			t.Fatal("expected a.ts to be removed from VCS tree")
		}
	}
	if _, ok := m.GetGeneratedFile(ctx, "b.ts"); !ok {
		t.Fatal("expected b.ts to remain")
	}
}
