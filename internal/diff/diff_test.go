//go:build unit

package diff

import (
	"strings"
	"testing"
)

func TestHasConflict_FastPaths(t *testing.T) {
	contents := []string{"", "a", "a\nb", "L1\nL2\nL3"}
	for _, base := range contents {
		for _, other := range contents {
			if HasConflict(base, base, other) {
				t.Errorf("current == base must never conflict (base=%q other=%q)", base, other)
			}
			if HasConflict(base, other, base) {
				t.Errorf("proposed == base must never conflict (base=%q other=%q)", base, other)
			}
			if HasConflict(base, other, other) {
				t.Errorf("proposed == current must never conflict (base=%q other=%q)", base, other)
			}
		}
	}
}

func TestHasConflict_SameLineEditedDifferently(t *testing.T) {
	base := "L1\nL2\nL3"
	current := "L1\nX\nL3"
	proposed := "L1\nY\nL3"

	if !HasConflict(base, current, proposed) {
		t.Error("expected conflict when both sides edit line 2 differently")
	}
}

func TestHasConflict_PureAddition(t *testing.T) {
	base := "L1\nL2"
	current := "L1\nL2"
	proposed := "L1\nL2\nL3"

	if HasConflict(base, current, proposed) {
		t.Error("pure addition with no concurrent change must not conflict")
	}
}

func TestHasConflict_ModifyVersusDelete(t *testing.T) {
	base := "L1\nL2\nL3"

	t.Run("current modified a line proposed deleted", func(t *testing.T) {
		current := "L1\nL2\nX"
		proposed := "L1\nL2"
		if !HasConflict(base, current, proposed) {
			t.Error("expected conflict")
		}
	})

	t.Run("proposed modified a line current deleted", func(t *testing.T) {
		current := "L1\nL2"
		proposed := "L1\nL2\nX"
		if !HasConflict(base, current, proposed) {
			t.Error("expected conflict")
		}
	})

	t.Run("both deleted the same line", func(t *testing.T) {
		current := "L1\nL2"
		proposed := "L1\nL2"
		if HasConflict(base, current, proposed) {
			t.Error("agreeing deletions must not conflict")
		}
	})
}

func TestHasConflict_ConcurrentInsertionsAreNotReported(t *testing.T) {
	// Both sides appended different lines past the end of the base. The
	// detector deliberately lets this through; see the HasConflict doc.
	base := "L1"
	current := "L1\nfrom current"
	proposed := "L1\nfrom proposed"

	if HasConflict(base, current, proposed) {
		t.Error("same-index insertions past base end must not be reported")
	}
}

func TestHasConflict_CRLFNormalization(t *testing.T) {
	base := "L1\nL2"
	current := "L1\nL2"
	proposed := "L1\r\nL2"

	if HasConflict(base, current, proposed) {
		t.Error("CRLF-only differences must not conflict")
	}
}

func TestLines(t *testing.T) {
	t.Run("added and removed", func(t *testing.T) {
		d := Lines("a\nb\nc", "a\nc\nd")
		if len(d.Removed) != 1 || d.Removed[0] != "b" {
			t.Errorf("expected removed [b], got %v", d.Removed)
		}
		if len(d.Added) != 1 || d.Added[0] != "d" {
			t.Errorf("expected added [d], got %v", d.Added)
		}
	})

	t.Run("reorder is invisible", func(t *testing.T) {
		d := Lines("a\nb", "b\na")
		if !d.Empty() {
			t.Errorf("reordering identical lines must produce an empty diff, got %+v", d)
		}
	})

	t.Run("duplicates collapse", func(t *testing.T) {
		d := Lines("", "x\nx\nx")
		if len(d.Added) != 1 || d.Added[0] != "x" {
			t.Errorf("expected added [x], got %v", d.Added)
		}
	})
}

func TestHTML(t *testing.T) {
	out := string(HTML("hello\nworld", "hello\nthere"))

	if !strings.Contains(out, `<table class="diff">`) {
		t.Error("expected a diff table")
	}
	if !strings.Contains(out, "changed") {
		t.Error("expected a changed row for the differing line")
	}

	escaped := string(HTML("<script>", "<script>"))
	if strings.Contains(escaped, "<script>") {
		t.Error("content must be HTML-escaped")
	}
}

func TestSideBySide(t *testing.T) {
	rows := SideBySide("a\nb", "a\nb\nc")
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].OldClass != "" || rows[0].NewClass != "" {
		t.Error("identical lines must not be classified")
	}
	if rows[2].NewClass != "added" {
		t.Errorf("expected trailing row to be added, got %q", rows[2].NewClass)
	}
}
