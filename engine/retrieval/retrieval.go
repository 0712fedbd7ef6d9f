// Package retrieval implements the hybrid retrieval engine (spec.md §4.8):
// a planner dispatches up to five concurrent sub-plans — lexical (BM25),
// vector-statement, vector-entity+BFS, episode-graph, and temporal — fuses
// their ranked episode lists with reciprocal-rank fusion, optionally
// reranks the fused top set, and hydrates each result with adjacent
// session chunks. Grounded on engine/rag.Service.Query's
// embed->search->enrich->respond shape, generalized from one vector search
// into five independently-failing concurrent sub-plans run via
// pkg/fn.FanOut (mirroring rag.Service's graph-enrichment-failures-are-
// logged-and-skipped resilience posture, applied to every sub-plan rather
// than just the graph one).
package retrieval

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/graphweave/engine/engine/domain"
	"github.com/graphweave/engine/internal/ports"
	"github.com/graphweave/engine/pkg/fn"
)

// Mode selects which sub-plans run. ModeAuto lets the planner pick.
type Mode string

const (
	ModeAuto         Mode = "auto"
	ModeLexical      Mode = "lexical"
	ModeSemantic     Mode = "semantic"
	ModeEntity       Mode = "entity"
	ModeTemporal     Mode = "temporal"
	ModeRelationship Mode = "relationship"
	ModeExploratory  Mode = "exploratory"
)

// rrfK is the reciprocal-rank-fusion constant from spec.md §4.8.
const rrfK = 60

// thresholdStatementVector is θ_s, the vector-statement sub-plan's cosine
// floor.
const thresholdStatementVector = 0.7

// defaultStatementLimit bounds the BM25 and vector sub-plans' candidate
// pool per spec.md §4.8.
const defaultStatementLimit = 100

// hydrationWindow is the default number of adjacent chunks fetched on
// either side of a matched episode.
const hydrationWindow = 1

// Options configures one Search call.
type Options struct {
	Mode               Mode
	LabelIDs           []string
	SessionID          string
	Sources            []string
	ValidAt            time.Time
	StartTime          time.Time
	IncludeInvalidated bool
	Limit              int
	SpaceIDs           []string
	HydrationWindow    int
	RerankTopM         int
}

// Result is one returned episode with its matched statements and score.
type Result struct {
	Episode          domain.Episode
	MatchedStatements []domain.Statement
	Score            float64
	ProvenanceIDs    []string
	AdjacentChunks   []domain.Episode
}

// Response is the Retrieval Engine's public contract.
type Response struct {
	Results  []Result
	Cursor   string
	Degraded bool
}

// Engine runs the planner, sub-plans, fusion, rerank, and hydration stages.
type Engine struct {
	Graph    ports.GraphStore
	Vectors  ports.VectorStore
	Embedder ports.Embedder
	Model    ports.ModelClient
	Reranker ports.Reranker
	Log      *slog.Logger
}

type rankedEpisode struct {
	episodeUUID string
	episode     domain.Episode
	statements  []domain.Statement
	score       float64
}

// subPlanOutcome is one sub-plan's ranked episodes plus whether it failed
// outright (as opposed to legitimately finding nothing) — a failure marks
// the overall Response degraded since that sub-plan's coverage is missing.
type subPlanOutcome struct {
	episodes []rankedEpisode
	failed   bool
}

// Search runs Options.Mode's sub-plans concurrently, fuses the results, and
// hydrates the top Options.Limit episodes with adjacent-chunk context.
func (e *Engine) Search(ctx context.Context, userID, query string, opts Options) (Response, error) {
	if err := domain.ValidateSearchRequest(&domain.SearchRequest{UserID: userID, Query: query, Limit: opts.Limit}); err != nil {
		return Response{}, err
	}
	log := e.log()

	if opts.ValidAt.IsZero() {
		opts.ValidAt = time.Now().UTC()
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.HydrationWindow <= 0 {
		opts.HydrationWindow = hydrationWindow
	}

	plans := e.selectPlans(opts.Mode)

	queryVec, err := e.Embedder.Embed(ctx, query)
	if err != nil {
		log.Warn("retrieval: query embed failed, vector sub-plans disabled", "error", err)
		queryVec = nil
	}

	outcomes := fn.FanOut(e.buildSubPlanThunks(ctx, userID, query, queryVec, opts, plans)...)

	lists := make([][]rankedEpisode, 0, len(outcomes))
	degraded := false
	for _, o := range outcomes {
		lists = append(lists, o.episodes)
		if o.failed {
			degraded = true
		}
	}

	fused := fuse(lists)
	if len(fused) > opts.Limit {
		fused = fused[:opts.Limit]
	}

	if e.Reranker != nil && len(fused) > 0 {
		fused = e.rerank(ctx, query, fused, opts.RerankTopM)
	}

	results := make([]Result, 0, len(fused))
	for _, re := range fused {
		r := Result{
			Episode:           re.episode,
			MatchedStatements: re.statements,
			Score:             re.score,
		}
		for _, s := range re.statements {
			r.ProvenanceIDs = append(r.ProvenanceIDs, s.UUID)
		}
		r.AdjacentChunks = e.hydrate(ctx, re.episode, opts.HydrationWindow)
		results = append(results, r)
	}
	return Response{Results: results, Degraded: degraded}, nil
}

func (e *Engine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e *Engine) selectPlans(mode Mode) map[Mode]bool {
	switch mode {
	case ModeLexical:
		return map[Mode]bool{ModeLexical: true}
	case ModeSemantic:
		return map[Mode]bool{ModeSemantic: true}
	case ModeEntity, ModeRelationship, ModeExploratory:
		return map[Mode]bool{ModeEntity: true}
	case ModeTemporal:
		return map[Mode]bool{ModeTemporal: true}
	default:
		return map[Mode]bool{ModeLexical: true, ModeSemantic: true, ModeEntity: true, ModeTemporal: true, "episodeGraph": true}
	}
}

func (e *Engine) buildSubPlanThunks(ctx context.Context, userID, query string, queryVec []float32, opts Options, plans map[Mode]bool) []func() subPlanOutcome {
	var thunks []func() subPlanOutcome
	if plans[ModeLexical] {
		thunks = append(thunks, func() subPlanOutcome { return e.bm25Plan(ctx, userID, query) })
	}
	if plans[ModeSemantic] && queryVec != nil {
		thunks = append(thunks, func() subPlanOutcome { return e.vectorStatementPlan(ctx, userID, queryVec) })
	}
	if plans[ModeEntity] && queryVec != nil {
		thunks = append(thunks, func() subPlanOutcome { return e.vectorEntityPlan(ctx, userID, query, queryVec) })
	}
	if plans["episodeGraph"] {
		thunks = append(thunks, func() subPlanOutcome { return e.episodeGraphPlan(ctx, userID, query) })
	}
	if plans[ModeTemporal] {
		thunks = append(thunks, func() subPlanOutcome { return e.temporalPlan(ctx, userID, opts) })
	}
	return thunks
}

// bm25Plan runs the fulltext sub-plan over statement.fact, grouping hits by
// episode via provenance and averaging scores, attaching the top 5 matched
// statements per episode.
func (e *Engine) bm25Plan(ctx context.Context, userID, query string) subPlanOutcome {
	matches, err := e.Graph.FullTextSearchStatements(ctx, userID, query, defaultStatementLimit)
	if err != nil {
		e.log().Warn("retrieval: bm25 sub-plan failed", "error", err)
		return subPlanOutcome{failed: true}
	}
	var scored []ports.StatementMatch
	for _, m := range matches {
		if m.Score >= 0.5 {
			scored = append(scored, m)
		}
	}
	return subPlanOutcome{episodes: e.groupByEpisode(ctx, scored)}
}

// vectorStatementPlan runs a factEmbedding search with cosine >= θ_s.
func (e *Engine) vectorStatementPlan(ctx context.Context, userID string, queryVec []float32) subPlanOutcome {
	matches, err := e.Vectors.SearchFiltered(ctx, domain.NamespaceStatement, queryVec, defaultStatementLimit, map[string]any{"userId": userID})
	if err != nil {
		e.log().Warn("retrieval: vector-statement sub-plan failed", "error", err)
		return subPlanOutcome{failed: true}
	}
	var scored []ports.StatementMatch
	for _, m := range matches {
		if float64(m.Score) < thresholdStatementVector {
			continue
		}
		st, err := e.Graph.GetStatement(ctx, m.ID)
		if err != nil {
			continue
		}
		scored = append(scored, ports.StatementMatch{Statement: st, Score: float64(m.Score)})
	}
	return subPlanOutcome{episodes: e.groupByEpisode(ctx, scored)}
}

// vectorEntityPlan seeds from the top entity vector matches for the query
// (there is no name lookup), traverses from their UUIDs over the
// HAS_SUBJECT/HAS_PREDICATE/HAS_OBJECT edges to depth 2, and scores each
// connected episode by the best cosine similarity between the query and
// its statements' fact embeddings.
func (e *Engine) vectorEntityPlan(ctx context.Context, userID, query string, queryVec []float32) subPlanOutcome {
	matches, err := e.Vectors.SearchFiltered(ctx, domain.NamespaceEntity, queryVec, 10, map[string]any{"userId": userID})
	if err != nil {
		e.log().Warn("retrieval: vector-entity sub-plan seed search failed", "error", err)
		return subPlanOutcome{failed: true}
	}
	if len(matches) == 0 {
		return subPlanOutcome{}
	}
	seedUUIDs := make([]string, 0, len(matches))
	for _, m := range matches {
		seedUUIDs = append(seedUUIDs, m.ID)
	}

	episodes, err := e.Graph.EpisodeGraphSearch(ctx, userID, seedUUIDs, 2)
	if err != nil {
		e.log().Warn("retrieval: vector-entity sub-plan BFS failed", "error", err)
		return subPlanOutcome{failed: true}
	}

	var ranked []rankedEpisode
	for _, ep := range episodes {
		stmts, err := e.Graph.StatementsByProvenance(ctx, ep.UUID)
		if err != nil {
			continue
		}
		var best float64
		for _, st := range stmts {
			sim := cosineSimilarity(st.FactEmbedding, queryVec)
			if sim > best {
				best = sim
			}
		}
		ranked = append(ranked, rankedEpisode{episodeUUID: ep.UUID, episode: ep, statements: topStatements(stmts, 5), score: best})
	}
	return subPlanOutcome{episodes: ranked}
}

// episodeGraphPlan finds episodes whose statements form a dense subgraph
// around the query's keyword-matched entities, scored by connectivity.
func (e *Engine) episodeGraphPlan(ctx context.Context, userID, query string) subPlanOutcome {
	keywords := extractKeywords(query)
	if len(keywords) == 0 {
		return subPlanOutcome{}
	}
	var seedUUIDs []string
	for _, kw := range keywords {
		if ent, found, err := e.Graph.FindEntityByName(ctx, userID, domain.NormalizeEntityName(kw)); err == nil && found {
			seedUUIDs = append(seedUUIDs, ent.UUID)
		}
	}
	if len(seedUUIDs) == 0 {
		return subPlanOutcome{}
	}

	episodes, err := e.Graph.EpisodeGraphSearch(ctx, userID, seedUUIDs, 2)
	if err != nil {
		e.log().Warn("retrieval: episode-graph sub-plan failed", "error", err)
		return subPlanOutcome{failed: true}
	}

	var ranked []rankedEpisode
	for _, ep := range episodes {
		stmts, err := e.Graph.StatementsByProvenance(ctx, ep.UUID)
		if err != nil || len(stmts) == 0 {
			continue
		}
		matchedEntities := map[string]bool{}
		matchedStatements := 0
		for _, s := range stmts {
			hit := false
			for _, seed := range seedUUIDs {
				if s.SubjectUUID == seed || s.ObjectUUID == seed {
					matchedEntities[seed] = true
					hit = true
				}
			}
			if hit {
				matchedStatements++
			}
		}
		connectivity := (float64(matchedStatements) / float64(len(stmts))) * float64(len(matchedEntities))
		ranked = append(ranked, rankedEpisode{episodeUUID: ep.UUID, episode: ep, statements: topStatements(stmts, 5), score: connectivity})
	}
	return subPlanOutcome{episodes: ranked}
}

// temporalPlan keeps the statements of an unfiltered full-text listing that
// are valid at opts.ValidAt (statement.IsValidAt from engine/domain). It
// does not look at a statement's aspect or attributes.event_date, and the
// other sub-plans apply no validity filter.
func (e *Engine) temporalPlan(ctx context.Context, userID string, opts Options) subPlanOutcome {
	matches, err := e.Graph.FullTextSearchStatements(ctx, userID, "", defaultStatementLimit)
	if err != nil {
		e.log().Warn("retrieval: temporal sub-plan failed", "error", err)
		return subPlanOutcome{failed: true}
	}
	var scored []ports.StatementMatch
	for _, m := range matches {
		if !m.Statement.IsValidAt(opts.ValidAt) {
			continue
		}
		scored = append(scored, m)
	}
	return subPlanOutcome{episodes: e.groupByEpisode(ctx, scored)}
}

// groupByEpisode maps statement-level sub-plan hits back to the episodes
// that provenance them (via GraphStore's HAS_PROVENANCE inverse lookup),
// averaging scores across every hit an episode accumulates.
func (e *Engine) groupByEpisode(ctx context.Context, matches []ports.StatementMatch) []rankedEpisode {
	byEpisode := map[string]*rankedEpisode{}
	episodeSum := map[string]float64{}
	episodeCount := map[string]int{}
	for _, m := range matches {
		episodes, err := e.Graph.EpisodesByStatement(ctx, m.Statement.UUID)
		if err != nil {
			continue
		}
		for _, ep := range episodes {
			episodeSum[ep.UUID] += m.Score
			episodeCount[ep.UUID]++
			re, ok := byEpisode[ep.UUID]
			if !ok {
				re = &rankedEpisode{episodeUUID: ep.UUID, episode: ep}
				byEpisode[ep.UUID] = re
			}
			re.statements = append(re.statements, m.Statement)
		}
	}
	ranked := make([]rankedEpisode, 0, len(byEpisode))
	for epUUID, re := range byEpisode {
		re.score = episodeSum[epUUID] / float64(episodeCount[epUUID])
		re.statements = topStatements(re.statements, 5)
		ranked = append(ranked, *re)
	}
	return ranked
}

func topStatements(stmts []domain.Statement, n int) []domain.Statement {
	sort.Slice(stmts, func(i, j int) bool { return len(stmts[i].Fact) > len(stmts[j].Fact) })
	if len(stmts) > n {
		return stmts[:n]
	}
	return stmts
}

// fuse combines sub-plan episode lists via reciprocal-rank fusion:
// score = Σ 1/(k + rank_i) across every list the episode appears in. Ties
// are broken by recency of episode.validAt.
func fuse(lists [][]rankedEpisode) []rankedEpisode {
	type acc struct {
		re    rankedEpisode
		score float64
	}
	byID := map[string]*acc{}
	for _, list := range lists {
		sort.Slice(list, func(i, j int) bool { return list[i].score > list[j].score })
		for rank, re := range list {
			a, ok := byID[re.episodeUUID]
			if !ok {
				a = &acc{re: re}
				byID[re.episodeUUID] = a
			} else {
				a.re.statements = mergeStatements(a.re.statements, re.statements)
			}
			a.score += 1.0 / float64(rrfK+rank+1)
		}
	}
	fused := make([]rankedEpisode, 0, len(byID))
	for _, a := range byID {
		a.re.score = a.score
		fused = append(fused, a.re)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		return fused[i].episode.ValidAt.After(fused[j].episode.ValidAt)
	})
	return fused
}

func mergeStatements(a, b []domain.Statement) []domain.Statement {
	seen := map[string]bool{}
	var out []domain.Statement
	for _, s := range append(a, b...) {
		if !seen[s.UUID] {
			seen[s.UUID] = true
			out = append(out, s)
		}
	}
	return topStatements(out, 5)
}

// rerank runs the optional cross-encoder over the top M fused episodes,
// reordering by the reranker's scores; episodes past M keep their fused
// order and are appended after the reranked prefix.
func (e *Engine) rerank(ctx context.Context, query string, fused []rankedEpisode, topM int) []rankedEpisode {
	if topM <= 0 || topM > len(fused) {
		topM = len(fused)
	}
	head := fused[:topM]
	candidates := make([]string, len(head))
	for i, re := range head {
		candidates[i] = re.episode.Content
	}
	scores, err := e.Reranker.Rerank(ctx, query, candidates)
	if err != nil || len(scores) != len(head) {
		e.log().Warn("retrieval: rerank failed, keeping fused order", "error", err)
		return fused
	}
	for i := range head {
		head[i].score = scores[i]
	}
	sort.Slice(head, func(i, j int) bool { return head[i].score > head[j].score })
	return append(head, fused[topM:]...)
}

// hydrate fetches the episodes adjacent to ep within its session, within
// window chunks on either side, for surrounding-context display.
func (e *Engine) hydrate(ctx context.Context, ep domain.Episode, window int) []domain.Episode {
	if ep.SessionID == "" {
		return nil
	}
	siblings, err := e.Graph.ListEpisodesBySession(ctx, ep.SessionID, ep.Version)
	if err != nil {
		return nil
	}
	var adjacent []domain.Episode
	for _, s := range siblings {
		delta := s.ChunkIndex - ep.ChunkIndex
		if delta != 0 && delta >= -window && delta <= window {
			adjacent = append(adjacent, s)
		}
	}
	return adjacent
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func extractKeywords(query string) []string {
	stopWords := map[string]bool{
		"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
		"were": true, "what": true, "where": true, "when": true, "how": true,
		"which": true, "who": true, "this": true, "that": true, "of": true,
		"in": true, "for": true, "on": true, "with": true, "at": true, "by": true,
		"from": true, "and": true, "or": true, "not": true, "to": true,
	}
	words := strings.Fields(strings.ToLower(query))
	var keywords []string
	for _, w := range words {
		w = strings.Trim(w, "?.,!;:'\"")
		if len(w) > 2 && !stopWords[w] {
			keywords = append(keywords, w)
		}
	}
	return keywords
}
