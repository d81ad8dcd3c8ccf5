// Package consolidated stores and searches long-term facts derived from
// episodes, per spec.md §4.7.3. Grounded on internal/memory/episodic's
// store-backed CRUD idiom, generalized to the category/confidence/
// reinforcement lifecycle described in the spec's data model.
package consolidated

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/mama/internal/memory/embedding"
	"github.com/haasonsaas/mama/internal/store"
	"github.com/haasonsaas/mama/pkg/types"
)

// Store persists and searches consolidated memories.
type Store struct {
	db       *store.Store
	embedder *embedding.Provider
	now      func() time.Time
}

// New constructs a consolidated Store.
func New(db *store.Store, embedder *embedding.Provider) *Store {
	return &Store{db: db, embedder: embedder, now: time.Now}
}

// Create clamps confidence to [0,1], initializes reinforcement bookkeeping,
// embeds the content (tolerant of failure), and persists the memory.
func (s *Store) Create(ctx context.Context, in types.NewConsolidatedMemory) (*types.ConsolidatedMemory, error) {
	now := s.now()
	m := &types.ConsolidatedMemory{
		ID:                 uuid.NewString(),
		CreatedAt:          now,
		UpdatedAt:          now,
		Category:           in.Category,
		Content:            in.Content,
		Confidence:         clamp(in.Confidence),
		SourceEpisodeIDs:   in.SourceEpisodeIDs,
		Active:             true,
		ReinforcementCount: 1,
		LastReinforcedAt:   now,
	}
	if s.embedder != nil {
		if vec, err := s.embedder.Embed(ctx, in.Content); err == nil {
			m.Embedding = vec
		}
	}
	if err := s.insert(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Update patches content (re-embedding on change), confidence, and active
// state on an existing memory.
func (s *Store) Update(ctx context.Context, id string, content *string, confidence *float64, active *bool) (*types.ConsolidatedMemory, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if content != nil && *content != m.Content {
		m.Content = *content
		if s.embedder != nil {
			if vec, err := s.embedder.Embed(ctx, *content); err == nil {
				m.Embedding = vec
			}
		}
	}
	if confidence != nil {
		m.Confidence = clamp(*confidence)
	}
	if active != nil {
		m.Active = *active
	}
	m.UpdatedAt = s.now()
	if err := s.replace(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Reinforce bumps reinforcementCount and nudges confidence upward.
func (s *Store) Reinforce(ctx context.Context, id string) (*types.ConsolidatedMemory, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m.ReinforcementCount++
	m.LastReinforcedAt = s.now()
	m.UpdatedAt = m.LastReinforcedAt
	m.Confidence = clamp(m.Confidence + 0.05)
	if err := s.replace(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Deactivate marks a memory inactive: the "forget" operation.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	_, err := s.db.Run(ctx, `UPDATE consolidated_memories SET active = 0, updated_at = ? WHERE id = ?`,
		s.now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("consolidated: deactivate: %w", err)
	}
	return nil
}

// Reactivate marks a previously deactivated memory active again.
func (s *Store) Reactivate(ctx context.Context, id string) error {
	_, err := s.db.Run(ctx, `UPDATE consolidated_memories SET active = 1, updated_at = ? WHERE id = ?`,
		s.now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("consolidated: reactivate: %w", err)
	}
	return nil
}

// Get fetches a single memory by id.
func (s *Store) Get(ctx context.Context, id string) (*types.ConsolidatedMemory, error) {
	var m *types.ConsolidatedMemory
	err := s.db.Get(ctx, selectCols+` WHERE id = ?`, func(row *sql.Row) error {
		scanned, err := scanMemoryRow(row)
		if err != nil {
			return err
		}
		m = scanned
		return nil
	}, id)
	if err != nil {
		return nil, fmt.Errorf("consolidated: get %s: %w", id, err)
	}
	if m == nil {
		return nil, fmt.Errorf("consolidated: memory %s not found", id)
	}
	return m, nil
}

// GetByCategory returns active memories in the given category, newest first.
func (s *Store) GetByCategory(ctx context.Context, category types.MemoryCategory) ([]*types.ConsolidatedMemory, error) {
	return s.query(ctx, selectCols+` WHERE category = ? AND active = 1 ORDER BY updated_at DESC`, category)
}

// GetActive returns active memories with confidence >= minConfidence,
// strongest first.
func (s *Store) GetActive(ctx context.Context, minConfidence float64) ([]*types.ConsolidatedMemory, error) {
	return s.query(ctx, selectCols+` WHERE active = 1 AND confidence >= ? ORDER BY confidence DESC`, minConfidence)
}

// SearchOptions narrows a consolidated-memory search.
type SearchOptions struct {
	TopK            int
	MinConfidence   float64
	IncludeInactive bool
	Category        types.MemoryCategory
}

// Search SQL-filters candidates (newest first, capped at 2000), then
// re-ranks by 0.75*cosine + 0.25*lexical + 0.05*confidence.
func (s *Store) Search(ctx context.Context, query string, opts SearchOptions) ([]*types.ConsolidatedMemory, error) {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}

	clauses := []string{"confidence >= ?"}
	args := []any{opts.MinConfidence}
	if !opts.IncludeInactive {
		clauses = append(clauses, "active = 1")
	}
	if opts.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, string(opts.Category))
	}
	sqlQuery := selectCols + ` WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC LIMIT 2000`

	candidates, err := s.query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}

	var queryVec []float32
	if s.embedder != nil {
		if v, err := s.embedder.Embed(ctx, query); err == nil {
			queryVec = v
		}
	}
	queryLower := strings.ToLower(query)

	type scored struct {
		m     *types.ConsolidatedMemory
		score float64
	}
	scoredList := make([]scored, 0, len(candidates))
	for _, m := range candidates {
		cosine := embedding.Cosine(queryVec, m.Embedding)
		lexical := lexicalOverlap(queryLower, strings.ToLower(m.Content))
		score := 0.75*cosine + 0.25*lexical + 0.05*m.Confidence
		scoredList = append(scoredList, scored{m: m, score: score})
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].score > scoredList[j].score })

	out := make([]*types.ConsolidatedMemory, 0, opts.TopK)
	for i := 0; i < len(scoredList) && i < opts.TopK; i++ {
		out = append(out, scoredList[i].m)
	}
	return out, nil
}

func lexicalOverlap(query, content string) float64 {
	queryWords := strings.Fields(query)
	if len(queryWords) == 0 {
		return 0
	}
	hits := 0
	for _, w := range queryWords {
		if strings.Contains(content, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(queryWords))
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

const selectCols = `SELECT id, created_at, updated_at, category, content, confidence, source_episode_ids, embedding, active, reinforcement_count, last_reinforced_at, contradictions FROM consolidated_memories`

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*types.ConsolidatedMemory, error) {
	var out []*types.ConsolidatedMemory
	err := s.db.All(ctx, query, func(rows *sql.Rows) error {
		m, err := scanMemoryRow(rows)
		if err != nil {
			return err
		}
		out = append(out, m)
		return nil
	}, args...)
	if err != nil {
		return nil, fmt.Errorf("consolidated: query: %w", err)
	}
	return out, nil
}

func (s *Store) insert(ctx context.Context, m *types.ConsolidatedMemory) error {
	sourceIDs, _ := json.Marshal(m.SourceEpisodeIDs)
	contradictions, _ := json.Marshal(m.Contradictions)
	_, err := s.db.Run(ctx, `
		INSERT INTO consolidated_memories (id, created_at, updated_at, category, content, confidence, source_episode_ids, embedding, active, reinforcement_count, last_reinforced_at, contradictions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.CreatedAt.UTC().Format(time.RFC3339Nano), m.UpdatedAt.UTC().Format(time.RFC3339Nano),
		string(m.Category), m.Content, m.Confidence, string(sourceIDs), encodeEmbedding(m.Embedding),
		boolToInt(m.Active), m.ReinforcementCount, m.LastReinforcedAt.UTC().Format(time.RFC3339Nano), string(contradictions))
	if err != nil {
		return fmt.Errorf("consolidated: insert: %w", err)
	}
	return nil
}

func (s *Store) replace(ctx context.Context, m *types.ConsolidatedMemory) error {
	sourceIDs, _ := json.Marshal(m.SourceEpisodeIDs)
	contradictions, _ := json.Marshal(m.Contradictions)
	_, err := s.db.Run(ctx, `
		UPDATE consolidated_memories SET updated_at = ?, category = ?, content = ?, confidence = ?,
			source_episode_ids = ?, embedding = ?, active = ?, reinforcement_count = ?, last_reinforced_at = ?, contradictions = ?
		WHERE id = ?`,
		m.UpdatedAt.UTC().Format(time.RFC3339Nano), string(m.Category), m.Content, m.Confidence,
		string(sourceIDs), encodeEmbedding(m.Embedding), boolToInt(m.Active), m.ReinforcementCount,
		m.LastReinforcedAt.UTC().Format(time.RFC3339Nano), string(contradictions), m.ID)
	if err != nil {
		return fmt.Errorf("consolidated: update: %w", err)
	}
	return nil
}

func scanMemoryRow(row interface{ Scan(...any) error }) (*types.ConsolidatedMemory, error) {
	var (
		id, createdAt, updatedAt, category, content string
		confidence                                  float64
		sourceIDsJSON                                string
		embedBytes                                   []byte
		active, reinforcementCount                   int
		lastReinforcedAt, contradictionsJSON          string
	)
	if err := row.Scan(&id, &createdAt, &updatedAt, &category, &content, &confidence, &sourceIDsJSON,
		&embedBytes, &active, &reinforcementCount, &lastReinforcedAt, &contradictionsJSON); err != nil {
		return nil, fmt.Errorf("scan consolidated memory: %w", err)
	}

	var sourceIDs, contradictions []string
	_ = json.Unmarshal([]byte(sourceIDsJSON), &sourceIDs)
	_ = json.Unmarshal([]byte(contradictionsJSON), &contradictions)

	createdTS, _ := time.Parse(time.RFC3339Nano, createdAt)
	updatedTS, _ := time.Parse(time.RFC3339Nano, updatedAt)
	reinforcedTS, _ := time.Parse(time.RFC3339Nano, lastReinforcedAt)

	return &types.ConsolidatedMemory{
		ID:                 id,
		CreatedAt:          createdTS,
		UpdatedAt:          updatedTS,
		Category:           types.MemoryCategory(category),
		Content:            content,
		Confidence:         confidence,
		SourceEpisodeIDs:   sourceIDs,
		Embedding:          decodeEmbedding(embedBytes),
		Active:             active != 0,
		ReinforcementCount: reinforcementCount,
		LastReinforcedAt:   reinforcedTS,
		Contradictions:     contradictions,
	}, nil
}

func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	b, _ := json.Marshal(vec)
	return b
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	var vec []float32
	_ = json.Unmarshal(b, &vec)
	return vec
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
