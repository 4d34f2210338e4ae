// Package contextpack assembles the read-side context pack from spec.md
// §4.8: promoted memory entries plus recent typed events, composed for a
// single workspace.
package contextpack

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/clawderpunk/workspace-memory/internal/envelope"
	"github.com/clawderpunk/workspace-memory/internal/eventlog"
	"github.com/clawderpunk/workspace-memory/internal/memory"
)

// DefaultSince is how far back decisions/tasks/risks look when the caller
// doesn't supply one.
const DefaultSince = 7 * 24 * time.Hour

// DefaultLimit bounds each section when the caller doesn't supply one.
const DefaultLimit = 20

// Relevance carries the query-match score and the terms that produced it.
type Relevance struct {
	Score      float64  `json:"score"`
	MatchTerms []string `json:"match_terms"`
}

// MemoryItem is one memory section entry in the assembled pack.
type MemoryItem struct {
	EntryID    string         `json:"entry_id"`
	Bucket     string         `json:"bucket"`
	Key        string         `json:"key"`
	Value      map[string]any `json:"value"`
	Confidence float64        `json:"confidence"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Relevance  *Relevance     `json:"relevance,omitempty"`
}

// EventItem is one decisions/tasks/risks section entry.
type EventItem struct {
	EventID   string         `json:"event_id"`
	TS        time.Time      `json:"ts"`
	Severity  string         `json:"severity"`
	Payload   map[string]any `json:"payload"`
}

// Counts summarises section sizes.
type Counts struct {
	Memory    int `json:"memory"`
	Decisions int `json:"decisions"`
	Tasks     int `json:"tasks"`
	Risks     int `json:"risks"`
}

// Pack is the assembled document returned by GET /context/{workspace_id}.
type Pack struct {
	Memory      []MemoryItem `json:"memory"`
	Decisions   []EventItem  `json:"decisions"`
	Tasks       []EventItem  `json:"tasks"`
	Risks       []EventItem  `json:"risks"`
	Counts      Counts       `json:"counts"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// Limits bounds each section independently; a zero field falls back to
// DefaultLimit.
type Limits struct {
	Memory    int
	Decisions int
	Tasks     int
	Risks     int
}

func (l Limits) memory() int    { return orDefault(l.Memory) }
func (l Limits) decisions() int { return orDefault(l.Decisions) }
func (l Limits) tasks() int     { return orDefault(l.Tasks) }
func (l Limits) risks() int     { return orDefault(l.Risks) }

func orDefault(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	return n
}

// Assembler composes packs from the event log and memory store.
type Assembler struct {
	Events eventlog.Store
	Memory memory.Store
}

// Assemble builds a Pack for workspace. q, if non-nil, narrows and scores
// the memory section; since, if nil, defaults to now-DefaultSince.
func (a *Assembler) Assemble(ctx context.Context, workspace string, q *string, since *time.Time, limits Limits, now time.Time) (*Pack, error) {
	effectiveSince := now.Add(-DefaultSince)
	if since != nil {
		effectiveSince = *since
	}

	memSection, err := a.assembleMemory(ctx, workspace, q, limits.memory())
	if err != nil {
		return nil, err
	}
	decisions, err := a.assembleEvents(ctx, workspace, []envelope.Type{envelope.TypeDecisionRecorded}, effectiveSince, limits.decisions(), nil)
	if err != nil {
		return nil, err
	}
	tasks, err := a.assembleEvents(ctx, workspace, []envelope.Type{envelope.TypeTaskCreated}, effectiveSince, limits.tasks(), nil)
	if err != nil {
		return nil, err
	}
	highOnly := func(e envelope.Envelope) bool { return e.Severity == envelope.SeverityHigh }
	risks, err := a.assembleEvents(ctx, workspace, []envelope.Type{envelope.TypeRiskDetected}, effectiveSince, limits.risks(), highOnly)
	if err != nil {
		return nil, err
	}

	return &Pack{
		Memory:    memSection,
		Decisions: decisions,
		Tasks:     tasks,
		Risks:     risks,
		Counts: Counts{
			Memory:    len(memSection),
			Decisions: len(decisions),
			Tasks:     len(tasks),
			Risks:     len(risks),
		},
		GeneratedAt: now.UTC(),
	}, nil
}

func (a *Assembler) assembleEvents(ctx context.Context, workspace string, types []envelope.Type, since time.Time, limit int, keep func(envelope.Envelope) bool) ([]EventItem, error) {
	events, err := a.Events.GetWorkspaceEvents(ctx, workspace, types, &since)
	if err != nil {
		return nil, err
	}
	var filtered []envelope.Envelope
	for _, e := range events {
		if keep != nil && !keep(e) {
			continue
		}
		filtered = append(filtered, e)
	}
	// Last N: most recent first, truncated to limit.
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].TS.After(filtered[j].TS) })
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	out := make([]EventItem, len(filtered))
	for i, e := range filtered {
		out[i] = EventItem{
			EventID:  e.EventID.String(),
			TS:       e.TS,
			Severity: string(e.Severity),
			Payload:  e.Payload,
		}
	}
	return out, nil
}

func (a *Assembler) assembleMemory(ctx context.Context, workspace string, q *string, limit int) ([]MemoryItem, error) {
	promoted := memory.StatusPromoted
	entries, err := a.Memory.GetEntries(ctx, workspace, memory.GetEntriesFilter{Status: &promoted})
	if err != nil {
		return nil, err
	}

	if q == nil {
		sort.Slice(entries, func(i, j int) bool {
			return effectiveTime(entries[i]).After(effectiveTime(entries[j]))
		})
		if len(entries) > limit {
			entries = entries[:limit]
		}
		out := make([]MemoryItem, len(entries))
		for i, e := range entries {
			out[i] = toMemoryItem(e, nil)
		}
		return out, nil
	}

	terms := tokenize(*q)
	type scored struct {
		entry      memory.Entry
		score      float64
		matchTerms []string
	}
	var matches []scored
	for _, e := range entries {
		haystack, err := haystackFor(e)
		if err != nil {
			return nil, err
		}
		haystackTerms := tokenize(haystack)
		matchSet := make(map[string]struct{})
		for t := range terms {
			if _, ok := haystackTerms[t]; ok {
				matchSet[t] = struct{}{}
			}
		}
		if len(matchSet) == 0 {
			continue
		}
		matchTerms := make([]string, 0, len(matchSet))
		for t := range matchSet {
			matchTerms = append(matchTerms, t)
		}
		sort.Strings(matchTerms)
		score := roundTo4(float64(len(matchSet)) / float64(len(terms)))
		matches = append(matches, scored{entry: e, score: score, matchTerms: matchTerms})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return effectiveTime(matches[i].entry).After(effectiveTime(matches[j].entry))
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]MemoryItem, len(matches))
	for i, m := range matches {
		out[i] = toMemoryItem(m.entry, &Relevance{Score: m.score, MatchTerms: m.matchTerms})
	}
	return out, nil
}

func toMemoryItem(e memory.Entry, rel *Relevance) MemoryItem {
	return MemoryItem{
		EntryID:    e.EntryID.String(),
		Bucket:     string(e.Bucket),
		Key:        e.Key,
		Value:      e.Value,
		Confidence: e.Confidence,
		UpdatedAt:  effectiveTime(e),
		Relevance:  rel,
	}
}

// effectiveTime is updated_at, falling back to created_at — spec.md §4.8's
// "updated_at ?? created_at".
func effectiveTime(e memory.Entry) time.Time {
	if !e.UpdatedAt.IsZero() {
		return e.UpdatedAt
	}
	return e.CreatedAt
}

func haystackFor(e memory.Entry) (string, error) {
	valueJSON, err := envelope.CanonicalJSON(e.Value)
	if err != nil {
		return "", err
	}
	return strings.ToLower(e.Key) + " " + valueJSON, nil
}

func tokenize(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func roundTo4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
