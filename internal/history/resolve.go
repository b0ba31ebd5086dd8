package history

import (
	"sort"
	"strings"
)

// MatchKind classifies the outcome of an identifier prefix lookup.
// Ambiguity is an explicit result, not an error: the CLI resolves it by
// prompting the user.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchUnique
	MatchAmbiguous
)

// EditMatch is the result of resolving an edit-id prefix.
type EditMatch struct {
	Kind    MatchKind
	Entries []Entry
}

// ConversationMatch is the result of resolving a conversation-id prefix.
type ConversationMatch struct {
	Kind MatchKind
	IDs  []ConversationID
}

// ResolveEdit finds the entries whose edit_id starts with prefix. An exact
// match wins over multiple prefix matches.
func ResolveEdit(entries []Entry, prefix string) EditMatch {
	if prefix == "" {
		return EditMatch{Kind: MatchNone}
	}
	p := strings.ToLower(prefix)

	var matches []Entry
	for _, e := range entries {
		id := strings.ToLower(string(e.EditID))
		if id == p {
			return EditMatch{Kind: MatchUnique, Entries: []Entry{e}}
		}
		if strings.HasPrefix(id, p) {
			matches = append(matches, e)
		}
	}

	switch len(matches) {
	case 0:
		return EditMatch{Kind: MatchNone}
	case 1:
		return EditMatch{Kind: MatchUnique, Entries: matches}
	default:
		return EditMatch{Kind: MatchAmbiguous, Entries: matches}
	}
}

// ResolveConversation finds conversation IDs starting with prefix. When no
// prefix matches, suffix matches are accepted as a fallback: conversation
// IDs are hex timestamps whose tails are the part users remember.
func ResolveConversation(entries []Entry, prefix string) ConversationMatch {
	if prefix == "" {
		return ConversationMatch{Kind: MatchNone}
	}
	p := strings.ToLower(prefix)

	seen := make(map[ConversationID]bool)
	var byPrefix, bySuffix []ConversationID
	for _, e := range entries {
		if seen[e.ConversationID] {
			continue
		}
		seen[e.ConversationID] = true
		id := strings.ToLower(string(e.ConversationID))
		if id == p {
			return ConversationMatch{Kind: MatchUnique, IDs: []ConversationID{e.ConversationID}}
		}
		if strings.HasPrefix(id, p) {
			byPrefix = append(byPrefix, e.ConversationID)
		} else if strings.HasSuffix(id, p) {
			bySuffix = append(bySuffix, e.ConversationID)
		}
	}

	matches := byPrefix
	if len(matches) == 0 {
		matches = bySuffix
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] < matches[j] })

	switch len(matches) {
	case 0:
		return ConversationMatch{Kind: MatchNone}
	case 1:
		return ConversationMatch{Kind: MatchUnique, IDs: matches}
	default:
		return ConversationMatch{Kind: MatchAmbiguous, IDs: matches}
	}
}

// Filter selects entries for the status listing. Zero values mean "no
// constraint".
type Filter struct {
	Conversation string // prefix or suffix match
	File         string // substring match on file_path / source_path
	Status       Status
	Operation    Operation
	MaxAge       float64 // seconds; 0 = unlimited
	Limit        int     // 0 = no limit
	NowUnix      int64   // reference instant for MaxAge; 0 = time.Now
}

// Apply filters entries (given in chronological order) and returns the
// matching ones newest-first, truncated to Limit.
func (f Filter) Apply(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if f.Conversation != "" &&
			!strings.HasPrefix(strings.ToLower(string(e.ConversationID)), strings.ToLower(f.Conversation)) &&
			!strings.HasSuffix(strings.ToLower(string(e.ConversationID)), strings.ToLower(f.Conversation)) {
			continue
		}
		if f.File != "" && !strings.Contains(e.FilePath, f.File) &&
			!(e.SourcePath != nil && strings.Contains(*e.SourcePath, f.File)) {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.Operation != "" && e.Operation != f.Operation {
			continue
		}
		if f.MaxAge > 0 {
			now := f.NowUnix
			if now == 0 {
				now = nowUnix()
			}
			age := float64(now) - float64(e.Timestamp.Time().Unix())
			if age > f.MaxAge {
				continue
			}
		}
		out = append(out, e)
	}

	// Newest first for display.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}
