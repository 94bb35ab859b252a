package promptref

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/model"
)

func TestResolveSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("hello from notes"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	out, err := Resolve("Summarize: @notes.txt please", dir)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !containsAll(out, "hello from notes", "Summarize:", "please") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestResolveGlobWildcard(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.md"), []byte("A"), 0o644)
	os.WriteFile(filepath.Join(dir, "b.md"), []byte("B"), 0o644)

	out, err := Resolve("@*.md", dir)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !containsAll(out, "A", "B") {
		t.Fatalf("expected both files concatenated, got %q", out)
	}
}

func TestResolveRecursiveGlob(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested", "deep")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	os.WriteFile(filepath.Join(sub, "x.txt"), []byte("deep content"), 0o644)

	out, err := Resolve("@nested/**/*.txt", dir)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !containsAll(out, "deep content") {
		t.Fatalf("expected recursive match, got %q", out)
	}
}

func TestResolveZeroByteFileYieldsEmptyInsertionNotError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	out, err := Resolve("before @empty.txt after", dir)
	if err != nil {
		t.Fatalf("Resolve should not error on zero-byte file: %v", err)
	}
	if !containsAll(out, "before", "after") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestResolveUnresolvableReferenceIsHardError(t *testing.T) {
	dir := t.TempDir()
	_, err := Resolve("@does/not/exist.txt", dir)
	if err == nil {
		t.Fatal("expected an error for an unresolvable reference")
	}
	if model.KindOf(err) != model.KindPromptReference {
		t.Fatalf("expected KindPromptReference, got %v", err)
	}
}

func TestHasReferences(t *testing.T) {
	if !HasReferences("see @foo.txt") {
		t.Fatal("expected true")
	}
	if HasReferences("no references here") {
		t.Fatal("expected false")
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !contains(s, sub) {
			return false
		}
	}
	return true
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return len(substr) == 0
}
