package project

import "testing"

func TestFromSession_CachesAcrossCalls(t *testing.T) {
	ClearCache()
	defer ClearCache()

	first := FromSession("sess-1", "Build me a todo app")
	second := FromSession("sess-1", "a completely different seed")

	if first != second {
		t.Fatalf("expected the cached Info to be returned, got different pointers")
	}
	if second.Slug != "build-me-a-todo-app" {
		t.Fatalf("Slug = %q, should still reflect the first seed", second.Slug)
	}
}

func TestFromSession_DistinctSessionsDistinctIdentity(t *testing.T) {
	ClearCache()
	defer ClearCache()

	a := FromSession("sess-a", "same query")
	b := FromSession("sess-b", "same query")

	if a.ID == b.ID {
		t.Fatalf("expected distinct IDs for distinct sessions, both got %q", a.ID)
	}
}

func TestName_FallsBackWhenSlugEmpty(t *testing.T) {
	ClearCache()
	defer ClearCache()

	info := FromSession("sess-empty", "!!!")
	name := info.Name()
	if name != "project-"+info.ID {
		t.Fatalf("Name() = %q, want project-%s", name, info.ID)
	}
}

func TestName_JoinsSlugAndID(t *testing.T) {
	ClearCache()
	defer ClearCache()

	info := FromSession("sess-named", "Build a todo app")
	want := info.Slug + "-" + info.ID
	if got := info.Name(); got != want {
		t.Fatalf("Name() = %q, want %q", got, want)
	}
}

func TestSlugify_TruncatesAndLowercases(t *testing.T) {
	got := slugify("Build ME a Todo App with Auth and Billing")
	if len(got) > 20 {
		t.Fatalf("slugify result too long: %q (%d chars)", got, len(got))
	}
	for _, r := range got {
		if r >= 'A' && r <= 'Z' {
			t.Fatalf("slugify result not lowercased: %q", got)
		}
	}
}

func TestClearCache(t *testing.T) {
	ClearCache()
	first := FromSession("sess-clear", "seed one")
	ClearCache()
	second := FromSession("sess-clear", "seed two")

	if first == second {
		t.Fatal("expected ClearCache to evict the prior entry")
	}
	if second.Slug != "seed-two" {
		t.Fatalf("Slug = %q, want seed-two", second.Slug)
	}
}
