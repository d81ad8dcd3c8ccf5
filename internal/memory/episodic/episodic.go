// Package episodic stores and searches raw interaction events per
// spec.md §4.7.2. Grounded on the teacher's store-backed CRUD idiom
// (internal/store.Store.Run/All/Get) and on the deleted memory.Manager's
// cosine-ranked semantic search, generalized to Episode's richer metadata
// enrichment and three search modes (semantic/temporal/hybrid).
package episodic

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

var stopwords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"what": true, "your": true, "about": true, "there": true, "which": true,
	"their": true, "would": true, "could": true, "should": true, "were": true,
	"been": true, "they": true, "them": true, "into": true, "than": true,
	"then": true, "when": true, "where": true, "will": true, "does": true,
}

var positiveWords = map[string]bool{
	"great": true, "good": true, "thanks": true, "love": true, "happy": true,
	"awesome": true, "excellent": true, "glad": true, "wonderful": true,
}

var negativeWords = map[string]bool{
	"bad": true, "hate": true, "angry": true, "sad": true, "terrible": true,
	"frustrated": true, "annoyed": true, "worried": true, "upset": true,
}

// Store persists and searches episodes.
type Store struct {
	db       *store.Store
	embedder *embedding.Provider
	now      func() time.Time
}

// New constructs an episodic Store.
func New(db *store.Store, embedder *embedding.Provider) *Store {
	return &Store{db: db, embedder: embedder, now: time.Now}
}

// StoreEpisode assigns an id, enriches metadata, computes an embedding
// (tolerant of failure), and persists the episode.
func (s *Store) StoreEpisode(ctx context.Context, in types.NewEpisode) (*types.Episode, error) {
	ep := &types.Episode{
		ID:         uuid.NewString(),
		Timestamp:  s.nowrAt(),
		Channel:    in.Channel,
		SessionKey: in.SessionKey,
		Role:       in.Role,
		Content:    in.Content,
		Metadata:   enrich(in.Content),
	}

	if s.embedder != nil {
		if vec, err := s.embedder.Embed(ctx, in.Content); err == nil {
			ep.Embedding = vec
		}
	}

	if err := s.insert(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

func (s *Store) nowrAt() time.Time { return s.now() }

func (s *Store) insert(ctx context.Context, ep *types.Episode) error {
	topics, _ := json.Marshal(ep.Metadata.Topics)
	entities, _ := json.Marshal(ep.Metadata.Entities)
	extra, _ := json.Marshal(ep.Metadata.Extra)
	embedBytes := encodeEmbedding(ep.Embedding)

	_, err := s.db.Run(ctx, `
		INSERT INTO episodes (id, timestamp, channel, session_key, role, content, embedding, topics, entities, importance, tone, extra, consolidated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		ep.ID, ep.Timestamp.UTC().Format(time.RFC3339Nano), string(ep.Channel), ep.SessionKey, string(ep.Role), ep.Content,
		embedBytes, string(topics), string(entities), string(ep.Metadata.Importance), string(ep.Metadata.Tone), string(extra))
	if err != nil {
		return fmt.Errorf("episodic: insert: %w", err)
	}
	return nil
}

// SearchOptions narrows episodic searches by time window, channel, or role.
type SearchOptions struct {
	Start   *time.Time
	End     *time.Time
	Channel types.Channel
	Role    types.Role
	Limit   int
}

// SearchSemantic embeds the query and ranks candidates by cosine similarity.
func (s *Store) SearchSemantic(ctx context.Context, query string, opts SearchOptions) ([]*types.Episode, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if s.embedder == nil {
		return nil, fmt.Errorf("episodic: no embedder configured")
	}
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("episodic: embed query: %w", err)
	}

	candidates, err := s.filtered(ctx, opts)
	if err != nil {
		return nil, err
	}

	type scored struct {
		ep    *types.Episode
		score float64
	}
	scoredList := make([]scored, 0, len(candidates))
	for _, ep := range candidates {
		scoredList = append(scoredList, scored{ep: ep, score: embedding.Cosine(queryVec, ep.Embedding)})
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].score > scoredList[j].score })

	out := make([]*types.Episode, 0, opts.Limit)
	for i := 0; i < len(scoredList) && i < opts.Limit; i++ {
		out = append(out, scoredList[i].ep)
	}
	return out, nil
}

// SearchTemporal returns a strict time-window list, newest first.
func (s *Store) SearchTemporal(ctx context.Context, start, end time.Time) ([]*types.Episode, error) {
	return s.filtered(ctx, SearchOptions{Start: &start, End: &end})
}

// SearchHybrid blends semantic similarity, recency, and topic overlap.
func (s *Store) SearchHybrid(ctx context.Context, query string, opts SearchOptions, weights HybridWeights) ([]*types.Episode, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	weights = weights.withDefaults()

	var queryVec []float32
	if s.embedder != nil {
		if v, err := s.embedder.Embed(ctx, query); err == nil {
			queryVec = v
		}
	}
	queryTopics := topTopics(query, 1<<30)
	queryTopicSet := make(map[string]bool, len(queryTopics))
	for _, t := range queryTopics {
		queryTopicSet[t] = true
	}

	candidates, err := s.filtered(ctx, SearchOptions{Start: opts.Start, End: opts.End, Channel: opts.Channel, Role: opts.Role})
	if err != nil {
		return nil, err
	}

	now := s.now()
	type scored struct {
		ep    *types.Episode
		score float64
	}
	scoredList := make([]scored, 0, len(candidates))
	for _, ep := range candidates {
		semantic := embedding.Cosine(queryVec, ep.Embedding)
		ageDays := now.Sub(ep.Timestamp).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		recency := 1 / (1 + ageDays)

		hits := 0
		for _, topic := range ep.Metadata.Topics {
			if queryTopicSet[topic] {
				hits++
			}
		}
		topicHitRate := 0.0
		if len(queryTopicSet) > 0 {
			topicHitRate = float64(hits) / float64(len(queryTopicSet))
		}

		score := weights.Semantic*semantic + weights.Recency*recency + weights.TopicHit*topicHitRate
		scoredList = append(scoredList, scored{ep: ep, score: score})
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].score > scoredList[j].score })

	out := make([]*types.Episode, 0, opts.Limit)
	for i := 0; i < len(scoredList) && i < opts.Limit; i++ {
		out = append(out, scoredList[i].ep)
	}
	return out, nil
}

// HybridWeights configures searchHybrid's score blend.
type HybridWeights struct {
	Semantic float64
	Recency  float64
	TopicHit float64
}

func (w HybridWeights) withDefaults() HybridWeights {
	if w.Semantic == 0 && w.Recency == 0 && w.TopicHit == 0 {
		return HybridWeights{Semantic: 0.65, Recency: 0.25, TopicHit: 0.10}
	}
	return w
}

// GetRecent returns the n most recent episodes, newest first.
func (s *Store) GetRecent(ctx context.Context, n int) ([]*types.Episode, error) {
	eps, err := s.filtered(ctx, SearchOptions{})
	if err != nil {
		return nil, err
	}
	if n > 0 && len(eps) > n {
		eps = eps[:n]
	}
	return eps, nil
}

// MarkConsolidated flips the consolidated flag for the given episode ids.
func (s *Store) MarkConsolidated(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := s.db.Run(ctx, `UPDATE episodes SET consolidated = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("episodic: mark consolidated %s: %w", id, err)
		}
	}
	return nil
}

// PendingCount returns the number of non-consolidated episodes.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.Get(ctx, `SELECT COUNT(*) FROM episodes WHERE consolidated = 0`, func(row *sql.Row) error {
		return row.Scan(&n)
	})
	return n, err
}

func (s *Store) filtered(ctx context.Context, opts SearchOptions) ([]*types.Episode, error) {
	var clauses []string
	var args []any
	if opts.Start != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, opts.Start.UTC().Format(time.RFC3339Nano))
	}
	if opts.End != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, opts.End.UTC().Format(time.RFC3339Nano))
	}
	if opts.Channel != "" {
		clauses = append(clauses, "channel = ?")
		args = append(args, string(opts.Channel))
	}
	if opts.Role != "" {
		clauses = append(clauses, "role = ?")
		args = append(args, string(opts.Role))
	}

	query := `SELECT id, timestamp, channel, session_key, role, content, embedding, topics, entities, importance, tone, extra, consolidated FROM episodes`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp DESC"

	var out []*types.Episode
	err := s.db.All(ctx, query, func(rows *sql.Rows) error {
		ep, err := scanEpisode(rows)
		if err != nil {
			return err
		}
		out = append(out, ep)
		return nil
	}, args...)
	if err != nil {
		return nil, fmt.Errorf("episodic: query: %w", err)
	}
	return out, nil
}

func scanEpisode(row interface{ Scan(...any) error }) (*types.Episode, error) {
	var (
		id, timestamp, channel, sessionKey, role, content string
		embedBytes                                        []byte
		topicsJSON, entitiesJSON, importance, tone, extra string
		consolidated                                      int
	)
	if err := row.Scan(&id, &timestamp, &channel, &sessionKey, &role, &content, &embedBytes,
		&topicsJSON, &entitiesJSON, &importance, &tone, &extra, &consolidated); err != nil {
		return nil, fmt.Errorf("scan episode: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		ts, _ = time.Parse(time.RFC3339, timestamp)
	}
	var topics, entities []string
	_ = json.Unmarshal([]byte(topicsJSON), &topics)
	_ = json.Unmarshal([]byte(entitiesJSON), &entities)
	var extraMap map[string]any
	_ = json.Unmarshal([]byte(extra), &extraMap)

	return &types.Episode{
		ID:         id,
		Timestamp:  ts,
		Channel:    types.Channel(channel),
		SessionKey: sessionKey,
		Role:       types.Role(role),
		Content:    content,
		Embedding:  decodeEmbedding(embedBytes),
		Metadata: types.EpisodeMetadata{
			Topics:     topics,
			Entities:   entities,
			Importance: types.Importance(importance),
			Tone:       types.EmotionalTone(tone),
			Extra:      extraMap,
		},
		Consolidated: consolidated != 0,
	}, nil
}

// enrich computes topics, entities, importance and emotional tone for new
// episode content, per spec.md §4.7.2.
func enrich(content string) types.EpisodeMetadata {
	return types.EpisodeMetadata{
		Topics:     topTopics(content, 6),
		Entities:   topEntities(content, 8),
		Importance: classifyImportance(content),
		Tone:       classifyTone(content),
	}
}

func topTopics(content string, limit int) []string {
	counts := map[string]int{}
	for _, word := range strings.Fields(content) {
		w := strings.ToLower(strings.Trim(word, ".,!?;:\"'()[]{}"))
		if len(w) < 4 || stopwords[w] {
			continue
		}
		counts[w]++
	}
	type kv struct {
		word  string
		count int
	}
	list := make([]kv, 0, len(counts))
	for w, c := range counts {
		list = append(list, kv{w, c})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].word < list[j].word
	})
	if limit > len(list) {
		limit = len(list)
	}
	out := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, list[i].word)
	}
	return out
}

func topEntities(content string, limit int) []string {
	seen := map[string]bool{}
	var out []string
	for _, word := range strings.Fields(content) {
		w := strings.Trim(word, ".,!?;:\"'()[]{}")
		if len(w) < 3 || !isCapitalized(w) || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func isCapitalized(w string) bool {
	r := []rune(w)
	return len(r) > 0 && r[0] >= 'A' && r[0] <= 'Z'
}

func classifyImportance(content string) types.Importance {
	lower := strings.ToLower(content)
	for _, kw := range []string{"urgent", "critical", "security", "incident"} {
		if strings.Contains(lower, kw) {
			return types.ImportanceHigh
		}
	}
	switch {
	case len(content) > 280:
		return types.ImportanceHigh
	case len(content) > 120:
		return types.ImportanceMedium
	default:
		return types.ImportanceLow
	}
}

func classifyTone(content string) types.EmotionalTone {
	lower := strings.ToLower(content)
	pos, neg := 0, 0
	for _, word := range strings.Fields(lower) {
		w := strings.Trim(word, ".,!?;:\"'()[]{}")
		if positiveWords[w] {
			pos++
		}
		if negativeWords[w] {
			neg++
		}
	}
	switch {
	case pos > neg:
		return types.TonePositive
	case neg > pos:
		return types.ToneNegative
	default:
		return types.ToneNeutral
	}
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
