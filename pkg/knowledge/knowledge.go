// Package knowledge exposes the shared style/pattern knowledge and user
// corrections to a run as a read-only snapshot plus an append-only writer.
package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"figflow/pkg/persistence"
)

// Default categories.
const (
	CategoryCSSClasses     = "css_classes"
	CategoryLayoutPatterns = "layout_patterns"
	CategoryCodingTips     = "coding_tips"
)

// Categories lists the accepted categories in display order.
var Categories = []string{CategoryCSSClasses, CategoryLayoutPatterns, CategoryCodingTips}

// Entry is one reusable piece of knowledge.
type Entry struct {
	Category    string `json:"category"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Code        string `json:"code,omitempty"`
	ID          int64  `json:"id,omitempty"`
}

// Backend is the durable store behind a Store. *persistence.Store satisfies it.
type Backend interface {
	ListKnowledge(ctx context.Context) ([]*persistence.KnowledgeRecord, error)
	InsertKnowledge(ctx context.Context, rec *persistence.KnowledgeRecord) (int64, error)
	ListCorrections(ctx context.Context) ([]*persistence.CorrectionRecord, error)
	InsertCorrection(ctx context.Context, runID, text string) error
}

// Store reads snapshots and appends entries and corrections.
type Store struct {
	backend     Backend
	rules       []string
	codingRules map[string][]string
}

// NewStore creates a store. rules are the fixed rules every worker must follow;
// codingRules are review-only conventions grouped by topic.
func NewStore(backend Backend, rules []string, codingRules map[string][]string) *Store {
	return &Store{backend: backend, rules: rules, codingRules: codingRules}
}

// Snapshot loads an immutable view for one run.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	records, err := s.backend.ListKnowledge(ctx)
	if err != nil {
		return nil, fmt.Errorf("load knowledge: %w", err)
	}
	corrections, err := s.backend.ListCorrections(ctx)
	if err != nil {
		return nil, fmt.Errorf("load corrections: %w", err)
	}

	snap := &Snapshot{
		rules:       append([]string(nil), s.rules...),
		codingRules: s.codingRules,
	}
	for _, r := range records {
		snap.entries = append(snap.entries, Entry{ID: r.ID, Category: r.Category, Name: r.Name, Description: r.Description, Code: r.Code})
	}
	for _, c := range corrections {
		snap.corrections = append(snap.corrections, c.Text)
	}
	return snap, nil
}

// Append validates and stores a new entry. It is not visible to snapshots already taken.
func (s *Store) Append(ctx context.Context, e Entry) (Entry, error) {
	if !ValidCategory(e.Category) {
		return Entry{}, fmt.Errorf("invalid category %q, expected one of: %s", e.Category, strings.Join(Categories, ", "))
	}
	if strings.TrimSpace(e.Name) == "" {
		return Entry{}, fmt.Errorf("entry name is required")
	}
	id, err := s.backend.InsertKnowledge(ctx, &persistence.KnowledgeRecord{
		Category: e.Category, Name: e.Name, Description: e.Description, Code: e.Code,
	})
	if err != nil {
		return Entry{}, err //nolint:wrapcheck // backend errors carry context
	}
	e.ID = id
	return e, nil
}

// AddCorrection records a user correction for later runs.
func (s *Store) AddCorrection(ctx context.Context, runID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("correction is empty")
	}
	return s.backend.InsertCorrection(ctx, runID, text) //nolint:wrapcheck // backend errors carry context
}

// ValidCategory reports whether category is accepted.
func ValidCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

// Snapshot is a read-only view of knowledge, rules and corrections.
type Snapshot struct {
	codingRules map[string][]string
	entries     []Entry
	rules       []string
	corrections []string
}

// Entries returns a copy of all entries.
func (s *Snapshot) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

// Rules returns fixed rules followed by user corrections.
func (s *Snapshot) Rules() []string {
	out := make([]string, 0, len(s.rules)+len(s.corrections))
	out = append(out, s.rules...)
	return append(out, s.corrections...)
}

// Search returns entries matching any term of query, best matches first.
// An empty category searches all categories.
func (s *Snapshot) Search(query, category string, limit int) []Entry {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}

	type scored struct {
		entry Entry
		hits  int
		idx   int
	}
	var matches []scored
	for i, e := range s.entries {
		if category != "" && e.Category != category {
			continue
		}
		haystack := strings.ToLower(e.Category + " " + e.Name + " " + e.Description + " " + e.Code)
		hits := 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				hits++
			}
		}
		if hits > 0 {
			matches = append(matches, scored{entry: e, hits: hits, idx: i})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].hits > matches[j].hits
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]Entry, len(matches))
	for i, m := range matches {
		out[i] = m.entry
	}
	return out
}

// Summary renders every entry grouped by category.
func (s *Snapshot) Summary() string {
	var b strings.Builder
	for _, cat := range Categories {
		fmt.Fprintf(&b, "## %s\n", cat)
		n := 0
		for _, e := range s.entries {
			if e.Category != cat {
				continue
			}
			n++
			fmt.Fprintf(&b, "- %s: %s\n", e.Name, e.Description)
			if e.Code != "" {
				fmt.Fprintf(&b, "  %s\n", strings.ReplaceAll(e.Code, "\n", "\n  "))
			}
		}
		if n == 0 {
			b.WriteString("(empty)\n")
		}
	}
	return b.String()
}

// RulesPrompt renders the numbered mandatory rules injected into worker instructions.
func (s *Snapshot) RulesPrompt() string {
	rules := s.Rules()
	if len(rules) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("MANDATORY RULES (never violate any of these):\n")
	for i, r := range rules {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, r)
	}
	b.WriteString("Violating any rule fails code review.")
	return b.String()
}

// CodingRulesPrompt renders the review-only conventions.
func (s *Snapshot) CodingRulesPrompt() string {
	if len(s.codingRules) == 0 {
		return ""
	}
	topics := make([]string, 0, len(s.codingRules))
	for topic := range s.codingRules {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	var b strings.Builder
	b.WriteString("CODING CONVENTIONS:\n")
	for _, topic := range topics {
		fmt.Fprintf(&b, "%s:\n", topic)
		for _, r := range s.codingRules[topic] {
			fmt.Fprintf(&b, "  - %s\n", r)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// MemoryBackend keeps knowledge in process memory. Used when no database is configured.
type MemoryBackend struct {
	mu          sync.Mutex
	knowledge   []*persistence.KnowledgeRecord
	corrections []*persistence.CorrectionRecord
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) ListKnowledge(_ context.Context) ([]*persistence.KnowledgeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*persistence.KnowledgeRecord(nil), m.knowledge...), nil
}

func (m *MemoryBackend) InsertKnowledge(_ context.Context, rec *persistence.KnowledgeRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	cp.ID = int64(len(m.knowledge) + 1)
	m.knowledge = append(m.knowledge, &cp)
	return cp.ID, nil
}

func (m *MemoryBackend) ListCorrections(_ context.Context) ([]*persistence.CorrectionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*persistence.CorrectionRecord(nil), m.corrections...), nil
}

func (m *MemoryBackend) InsertCorrection(_ context.Context, runID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrections = append(m.corrections, &persistence.CorrectionRecord{ID: int64(len(m.corrections) + 1), RunID: runID, Text: text})
	return nil
}
