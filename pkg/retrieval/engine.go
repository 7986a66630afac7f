// Package retrieval implements the hybrid retrieval engine: concurrent
// vector and keyword search, bounded graph expansion, and weighted score
// fusion into a ranked, budgeted evidence context.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/graphmend/graphmend/pkg/config"
	"github.com/graphmend/graphmend/pkg/driver"
	"github.com/graphmend/graphmend/pkg/embedder"
	"github.com/graphmend/graphmend/pkg/types"
)

// searchStore is the slice of the graph store the engine needs.
type searchStore interface {
	driver.EntityReader
	driver.GraphSearcher
}

// Engine answers queries with evidence assembled from three channels.
type Engine struct {
	store    searchStore
	embedder embedder.Client
	cfg      config.RetrievalConfig
	logger   *slog.Logger
}

// NewEngine creates a retrieval engine.
func NewEngine(store searchStore, emb embedder.Client, cfg config.RetrievalConfig, logger *slog.Logger) *Engine {
	return &Engine{store: store, embedder: emb, cfg: cfg, logger: logger}
}

// evidence accumulates one entity's per-channel scores during fusion. Each
// channel keeps its maximum observed score.
type evidence struct {
	entity  *types.Entity
	vector  float64
	keyword float64
	graph   float64
}

func (e *evidence) observe(ch types.Channel, score float64) {
	switch ch {
	case types.ChannelVector:
		if score > e.vector {
			e.vector = score
		}
	case types.ChannelKeyword:
		if score > e.keyword {
			e.keyword = score
		}
	case types.ChannelGraph:
		if score > e.graph {
			e.graph = score
		}
	}
}

func (e *evidence) provenance() []types.Channel {
	var out []types.Channel
	if e.vector > 0 {
		out = append(out, types.ChannelVector)
	}
	if e.keyword > 0 {
		out = append(out, types.ChannelKeyword)
	}
	if e.graph > 0 {
		out = append(out, types.ChannelGraph)
	}
	return out
}

// Query runs the full pipeline. labels restricts the search; empty means
// every label. A query that matches nothing returns a context with
// NoEvidence set rather than an empty one.
func (eng *Engine) Query(ctx context.Context, query string, labels []string) (*types.RetrievalContext, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &types.ValidationError{Reason: "query must not be empty"}
	}
	start := time.Now()

	var vectorHits, keywordHits []driver.SearchHit

	g, gctx := errgroup.WithContext(ctx)
	if eng.cfg.StageConcurrency > 0 {
		g.SetLimit(eng.cfg.StageConcurrency)
	}
	g.Go(func() error {
		hits, err := eng.vectorStage(gctx, query, labels)
		vectorHits = hits
		return err
	})
	g.Go(func() error {
		hits, err := eng.keywordStage(gctx, query, labels)
		keywordHits = hits
		return err
	})
	// A stage error discards all partial results; the caller never sees a
	// context assembled from half a pipeline.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(vectorHits) == 0 && len(keywordHits) == 0 {
		eng.logger.Info("no evidence found", "query", query, "duration", time.Since(start))
		return &types.RetrievalContext{Query: query, NoEvidence: true}, nil
	}

	pool := make(map[string]*evidence)
	admit := func(hit driver.SearchHit, ch types.Channel) {
		ev, ok := pool[hit.Entity.ID]
		if !ok {
			ev = &evidence{entity: hit.Entity}
			pool[hit.Entity.ID] = ev
		}
		ev.observe(ch, hit.Score)
	}
	for _, hit := range vectorHits {
		admit(hit, types.ChannelVector)
	}
	for _, hit := range keywordHits {
		admit(hit, types.ChannelKeyword)
	}

	relationships, err := eng.expand(ctx, pool)
	if err != nil {
		return nil, err
	}

	result := eng.fuse(query, pool, relationships)
	eng.logger.Info("query answered",
		"query", query,
		"items", len(result.Items),
		"relationships", len(result.Relationships),
		"duration", time.Since(start))
	return result, nil
}

// vectorStage embeds the query and searches every vector-indexed label in
// scope. Labels without an index are skipped, not errors.
func (eng *Engine) vectorStage(ctx context.Context, query string, labels []string) ([]driver.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if eng.embedder == nil {
		eng.logger.Debug("no embedder configured, skipping vector stage")
		return nil, nil
	}
	if len(labels) == 0 {
		all, err := eng.store.Labels(ctx)
		if err != nil {
			return nil, err
		}
		labels = all
	}

	var indexed []string
	for _, label := range labels {
		ok, err := eng.store.HasVectorIndex(ctx, label)
		if err != nil {
			return nil, err
		}
		if ok {
			indexed = append(indexed, label)
		}
	}
	if len(indexed) == 0 {
		return nil, nil
	}

	vector, err := eng.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, err
	}

	var hits []driver.SearchHit
	for _, label := range indexed {
		labelHits, err := eng.store.SearchByVector(ctx, label, vector, eng.cfg.TopK)
		if err != nil {
			return nil, err
		}
		hits = append(hits, labelHits...)
	}
	return hits, nil
}

func (eng *Engine) keywordStage(ctx context.Context, query string, labels []string) ([]driver.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	return eng.store.SearchText(ctx, tokens, labels, eng.cfg.TopK)
}

// expand walks outward from the seed entities up to the hop limit, scoring
// each discovered neighbor as seedScore/(1+hop) on the graph channel. The
// per-entity neighbor cap keeps hub nodes from flooding the context.
func (eng *Engine) expand(ctx context.Context, pool map[string]*evidence) ([]types.RelationshipSummary, error) {
	type frontierEntry struct {
		id    string
		score float64
	}

	hopLimit := eng.cfg.HopLimit
	if hopLimit < 0 {
		hopLimit = 0
	}

	frontier := make([]frontierEntry, 0, len(pool))
	for id, ev := range pool {
		seed := ev.vector*eng.cfg.VectorWeight + ev.keyword*eng.cfg.KeywordWeight
		frontier = append(frontier, frontierEntry{id: id, score: seed})
	}
	sort.Slice(frontier, func(i, j int) bool { return frontier[i].id < frontier[j].id })

	visited := make(map[string]bool, len(pool))
	for id := range pool {
		visited[id] = true
	}

	var summaries []types.RelationshipSummary
	seenRel := make(map[string]bool)

	for hop := 1; hop <= hopLimit; hop++ {
		var next []frontierEntry
		for _, entry := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			neighbors, err := eng.store.Neighbors(ctx, entry.id, eng.cfg.MaxNeighbors)
			if err != nil {
				if types.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			source, ok := pool[entry.id]
			if !ok {
				continue
			}
			for _, n := range neighbors {
				if !seenRel[n.Relationship.ID] {
					seenRel[n.Relationship.ID] = true
					summaries = append(summaries, summarize(source.entity, n))
				}
				if visited[n.Other.ID] {
					continue
				}
				visited[n.Other.ID] = true

				score := entry.score / float64(1+hop)
				ev := &evidence{entity: n.Other}
				ev.observe(types.ChannelGraph, score)
				pool[n.Other.ID] = ev
				next = append(next, frontierEntry{id: n.Other.ID, score: score})
			}
		}
		frontier = next
	}
	return summaries, nil
}

func summarize(from *types.Entity, hit driver.NeighborHit) types.RelationshipSummary {
	sourceName, targetName := from.Name(), hit.Other.Name()
	if hit.Relationship.SourceID != from.ID {
		sourceName, targetName = targetName, sourceName
	}
	return types.RelationshipSummary{
		SourceName: sourceName,
		Type:       hit.Relationship.Type,
		TargetName: targetName,
	}
}

// fuse combines per-channel scores into one ranking and applies the char
// budget. Ties break on ascending entity id so results are reproducible.
func (eng *Engine) fuse(query string, pool map[string]*evidence, relationships []types.RelationshipSummary) *types.RetrievalContext {
	items := make([]types.ContextItem, 0, len(pool))
	for id, ev := range pool {
		score := ev.vector*eng.cfg.VectorWeight +
			ev.keyword*eng.cfg.KeywordWeight +
			ev.graph*eng.cfg.GraphWeight
		items = append(items, types.ContextItem{
			EntityID:   id,
			Score:      score,
			Provenance: ev.provenance(),
			Text:       renderEntity(ev.entity),
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].EntityID < items[j].EntityID
	})

	if eng.cfg.BudgetChars > 0 {
		used := 0
		cut := len(items)
		for i, item := range items {
			used += len(item.Text)
			if used > eng.cfg.BudgetChars {
				cut = i
				break
			}
		}
		if cut == 0 && len(items) > 0 {
			// The top item alone may exceed the budget; keep it truncated
			// rather than answering with nothing. The cut lands on a rune
			// boundary so the text stays valid UTF-8.
			text := items[0].Text[:eng.cfg.BudgetChars]
			for len(text) > 0 && !utf8.ValidString(text) {
				text = text[:len(text)-1]
			}
			items[0].Text = text
			cut = 1
		}
		items = items[:cut]
	}

	return &types.RetrievalContext{
		Query:         query,
		Items:         items,
		Relationships: relationships,
	}
}

func renderEntity(e *types.Entity) string {
	var b strings.Builder
	b.WriteString(e.Name())
	if e.Label != "" {
		b.WriteString(" (" + e.Label + ")")
	}
	if text := e.Text(); text != "" {
		b.WriteString(": " + text)
	}
	return b.String()
}

// stopwords are dropped from keyword queries. No stemming.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "by": true,
	"for": true, "in": true, "is": true, "of": true, "on": true,
	"or": true, "the": true, "to": true, "what": true, "which": true,
	"who": true, "with": true,
}

// tokenize lowercases the query, keeps alphanumeric runs, and drops
// stopwords.
func tokenize(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}
