package tracker

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Errors surfaced by edit specifications before any mutation happens. No
// log entry is written when these occur.
var (
	// ErrConflictingEdit reports overlapping line selectors in one call.
	ErrConflictingEdit = errors.New("conflicting edit selectors")
	// ErrAnchorNotFound reports a replacement target or insertion anchor
	// that does not occur in the file.
	ErrAnchorNotFound = errors.New("anchor not found")
)

type lineEditKind int

const (
	lineReplace lineEditKind = iota
	lineInsert
)

// lineEdit is one parsed line selector. start/end are 1-based line numbers
// of the pre-edit file; for inserts, start is the line the content goes
// after (0 = beginning of file).
type lineEdit struct {
	kind    lineEditKind
	start   int
	end     int
	content string
}

// parseLineEdits turns the selector map of a line-specified edit into
// structured edits, validated against the original line count.
//
// Selectors: "N" replaces line N, "N-M" replaces the inclusive range,
// "Ni" inserts after line N ("0i" at the beginning), "a" appends.
func parseLineEdits(edits map[string]string, lineCount int) ([]lineEdit, error) {
	parsed := make([]lineEdit, 0, len(edits))

	for spec, content := range edits {
		switch {
		case strings.EqualFold(spec, "a"):
			parsed = append(parsed, lineEdit{kind: lineInsert, start: lineCount, content: content})

		case strings.HasSuffix(spec, "i"):
			n, err := strconv.Atoi(strings.TrimSuffix(spec, "i"))
			if err != nil {
				return nil, fmt.Errorf("invalid insertion selector %q: must be 'Ni' with N a line number", spec)
			}
			if n < 0 || n > lineCount {
				return nil, fmt.Errorf("insertion line %d out of range (0-%d)", n, lineCount)
			}
			parsed = append(parsed, lineEdit{kind: lineInsert, start: n, content: content})

		case strings.Contains(spec, "-"):
			parts := strings.SplitN(spec, "-", 2)
			start, err1 := strconv.Atoi(parts[0])
			end, err2 := strconv.Atoi(parts[1])
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("invalid range selector %q: must be 'N-M' with line numbers", spec)
			}
			if start < 1 || start > lineCount {
				return nil, fmt.Errorf("start line %d out of range (1-%d)", start, lineCount)
			}
			if end < 1 || end > lineCount {
				return nil, fmt.Errorf("end line %d out of range (1-%d)", end, lineCount)
			}
			if end < start {
				return nil, fmt.Errorf("end line %d is before start line %d", end, start)
			}
			parsed = append(parsed, lineEdit{kind: lineReplace, start: start, end: end, content: content})

		default:
			n, err := strconv.Atoi(spec)
			if err != nil {
				return nil, fmt.Errorf("invalid line selector %q: must be an integer", spec)
			}
			if n < 1 || n > lineCount {
				return nil, fmt.Errorf("line %d out of range (1-%d)", n, lineCount)
			}
			parsed = append(parsed, lineEdit{kind: lineReplace, start: n, end: n, content: content})
		}
	}

	if err := checkLineConflicts(parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

// checkLineConflicts rejects overlapping replacement ranges. All selectors
// address the original numbering, so two replaces touching the same line
// cannot both be honoured.
func checkLineConflicts(edits []lineEdit) error {
	var replaces []lineEdit
	for _, e := range edits {
		if e.kind == lineReplace {
			replaces = append(replaces, e)
		}
	}
	sort.Slice(replaces, func(i, j int) bool { return replaces[i].start < replaces[j].start })
	for i := 1; i < len(replaces); i++ {
		if replaces[i].start <= replaces[i-1].end {
			return fmt.Errorf("%w: ranges %d-%d and %d-%d overlap",
				ErrConflictingEdit,
				replaces[i-1].start, replaces[i-1].end,
				replaces[i].start, replaces[i].end)
		}
	}
	return nil
}

// applyLineEdits computes the post-edit content. All selectors refer to
// the original numbering, so edits are applied bottom-up.
func applyLineEdits(original string, edits []lineEdit) string {
	lines := splitLines(original)

	ordered := make([]lineEdit, len(edits))
	copy(ordered, edits)
	// Bottom-up, inserts after replaces at the same line so "N" + "Ni"
	// compose the way the selectors read.
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].start != ordered[j].start {
			return ordered[i].start > ordered[j].start
		}
		return ordered[i].kind == lineInsert && ordered[j].kind == lineReplace
	})

	for _, e := range ordered {
		content := normalizeBlock(e.content)
		switch e.kind {
		case lineReplace:
			var repl []string
			if content != "" {
				repl = splitLines(content)
			}
			lines = append(lines[:e.start-1], append(repl, lines[e.end:]...)...)
		case lineInsert:
			if content == "" {
				continue
			}
			ins := splitLines(content)
			lines = append(lines[:e.start], append(ins, lines[e.start:]...)...)
		}
	}
	return strings.Join(lines, "")
}

// splitLines splits text into lines that keep their terminators.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// normalizeBlock ensures a non-empty replacement block is newline
// terminated so splices do not glue adjacent lines together.
func normalizeBlock(content string) string {
	if content != "" && !strings.HasSuffix(content, "\n") {
		return content + "\n"
	}
	return content
}

// applyContentEdits computes the post-edit content of a content-anchored
// edit: literal substring replacements plus insertions after anchor
// substrings. The empty anchor inserts at the beginning of the file.
func applyContentEdits(original string, replacements, inserts map[string]string, replaceAll bool) (string, error) {
	content := original

	// Deterministic application order: map iteration must not change the
	// result when targets are disjoint, and error messages should be stable.
	for _, old := range sortedKeys(replacements) {
		if old == "" {
			return "", fmt.Errorf("empty string cannot be used as a replacement target")
		}
		if !strings.Contains(content, old) {
			return "", fmt.Errorf("%w: replacement target %q", ErrAnchorNotFound, truncateForError(old))
		}
		if replaceAll {
			content = strings.ReplaceAll(content, old, replacements[old])
		} else {
			content = strings.Replace(content, old, replacements[old], 1)
		}
	}

	for _, anchor := range sortedKeys(inserts) {
		text := inserts[anchor]
		if anchor == "" {
			content = text + content
			continue
		}
		if !strings.Contains(content, anchor) {
			return "", fmt.Errorf("%w: insertion anchor %q", ErrAnchorNotFound, truncateForError(anchor))
		}
		if replaceAll {
			content = strings.ReplaceAll(content, anchor, anchor+text)
		} else {
			idx := strings.Index(content, anchor)
			at := idx + len(anchor)
			content = content[:at] + text + content[at:]
		}
	}

	return content, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncateForError(s string) string {
	if len(s) > 50 {
		return s[:50] + "..."
	}
	return s
}
