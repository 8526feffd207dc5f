// Package diff implements the line-oriented comparison primitives used by
// the version ledger and the commit path: a naive line-set difference, the
// three-way conflict check, and an HTML rendering for human review.
package diff

import (
	"html/template"
	"strings"
)

// LineDiff holds the line-set difference between two content blobs. It is
// order-insensitive: it reports membership differences, not positional
// moves, so reordering identical lines is invisible as a change.
type LineDiff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// Empty reports whether the diff contains no added or removed lines.
func (d LineDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Lines computes the line-set difference between two content blobs.
// Removed holds lines present in old but not in new; Added holds lines
// present in new but not in old. Duplicates collapse to a single entry,
// preserving first-seen order.
func Lines(old, new string) LineDiff {
	oldSet := lineSet(old)
	newSet := lineSet(new)

	var d LineDiff
	seen := make(map[string]struct{})
	for _, line := range splitLines(old) {
		if _, ok := newSet[line]; ok {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		d.Removed = append(d.Removed, line)
	}
	seen = make(map[string]struct{})
	for _, line := range splitLines(new) {
		if _, ok := oldSet[line]; ok {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		d.Added = append(d.Added, line)
	}
	return d
}

// HasConflict performs the three-way, line-indexed comparison between the
// content a user's edit started from (base), the currently published
// content (current), and the content the user wants to commit (proposed).
//
// The fast paths come first: if the proposal changes nothing against the
// base, if nothing changed concurrently, or if the proposal matches what is
// already published, there is nothing to resolve.
//
// Past the fast paths, each line index is inspected. A conflict is reported
// when both sides rewrote the same original line to different values, or
// when one side modified a line the other side deleted. Concurrent
// insertions at the same index past the end of the base are deliberately
// not reported; tightening that rule would change which commits are
// accepted, so it stays as-is pending a product decision.
func HasConflict(base, current, proposed string) bool {
	if proposed == base || current == base || proposed == current {
		return false
	}

	baseLines := splitLines(base)
	currentLines := splitLines(current)
	proposedLines := splitLines(proposed)

	maxLen := len(baseLines)
	if len(currentLines) > maxLen {
		maxLen = len(currentLines)
	}
	if len(proposedLines) > maxLen {
		maxLen = len(proposedLines)
	}

	for i := 0; i < maxLen; i++ {
		b, hasB := lineAt(baseLines, i)
		c, hasC := lineAt(currentLines, i)
		p, hasP := lineAt(proposedLines, i)

		// Both sides changed the same original line to different values.
		if hasB && hasC && hasP && c != b && p != b && c != p {
			return true
		}
		// Current modified a line that proposed deleted.
		if hasB && hasC && !hasP && c != b {
			return true
		}
		// Proposed modified a line that current deleted.
		if hasB && !hasC && hasP && p != b {
			return true
		}
	}
	return false
}

// Row is a single rendered row of a side-by-side diff.
type Row struct {
	Old      string
	New      string
	OldClass string // "", "removed", "changed"
	NewClass string // "", "added", "changed"
}

// SideBySide pairs the lines of two content blobs index by index for
// display. It is used for human review only and plays no part in the
// conflict decision.
func SideBySide(old, new string) []Row {
	oldLines := splitLines(old)
	newLines := splitLines(new)

	maxLen := len(oldLines)
	if len(newLines) > maxLen {
		maxLen = len(newLines)
	}

	rows := make([]Row, 0, maxLen)
	for i := 0; i < maxLen; i++ {
		o, hasO := lineAt(oldLines, i)
		n, hasN := lineAt(newLines, i)

		row := Row{Old: o, New: n}
		switch {
		case hasO && hasN && o != n:
			row.OldClass, row.NewClass = "changed", "changed"
		case hasO && !hasN:
			row.OldClass = "removed"
		case !hasO && hasN:
			row.NewClass = "added"
		}
		rows = append(rows, row)
	}
	return rows
}

// HTML renders a side-by-side diff table.
func HTML(old, new string) template.HTML {
	var sb strings.Builder
	sb.WriteString(`<table class="diff">`)
	for _, row := range SideBySide(old, new) {
		sb.WriteString(`<tr><td class="diff-old `)
		sb.WriteString(row.OldClass)
		sb.WriteString(`">`)
		sb.WriteString(template.HTMLEscapeString(row.Old))
		sb.WriteString(`</td><td class="diff-new `)
		sb.WriteString(row.NewClass)
		sb.WriteString(`">`)
		sb.WriteString(template.HTMLEscapeString(row.New))
		sb.WriteString(`</td></tr>`)
	}
	sb.WriteString(`</table>`)
	return template.HTML(sb.String())
}

func splitLines(s string) []string {
	// Normalize CRLF so Windows submissions compare equal to stored content.
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}

func lineAt(lines []string, i int) (string, bool) {
	if i < len(lines) {
		return lines[i], true
	}
	return "", false
}

func lineSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, line := range splitLines(s) {
		set[line] = struct{}{}
	}
	return set
}
