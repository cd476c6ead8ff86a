// Package graphindex is an in-memory overlay over current entity
// versions giving O(1) id lookup, O(1) neighbor lists, an inverted
// token index for search, breadth-first path search, and Jaccard
// similarity.
//
// A single mutex guards the whole overlay, rebuilt from
// storage.Storage's current versions on cold start, the same
// locking/refresh discipline a map-backed registry uses around its
// current-pointer swap. Entities, edges, and tokens live as parallel
// in-memory tables feeding the search surface, the shape a small
// embedded graph database gives its secondary indexes.
package graphindex

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/inbetweenies/graphsync/internal/storage"
	"github.com/inbetweenies/graphsync/internal/types"
)

// ErrNoPath is returned by FindPath when no path connects the two ids.
var ErrNoPath = fmt.Errorf("no path between ids")

// Index is an in-memory secondary index over the current entity
// graph. It is safe for concurrent use: reads take a read lock and
// observe a consistent snapshot; writes (ApplyEntity/ApplyRelationship/
// Remove...) take a write lock, the same discipline the Entity Store
// uses around its current-pointer swap.
type Index struct {
	mu sync.RWMutex

	entities  map[string]types.Entity
	neighbors map[string]map[string]bool // id -> set of adjacent ids (undirected overlay)
	edgesOut  map[string][]types.Relationship
	edgesIn   map[string][]types.Relationship
	tokens    map[string]map[string]bool // token -> set of entity ids
}

// New returns an empty Index. Call Rebuild to populate it from storage.
func New() *Index {
	return &Index{
		entities:  make(map[string]types.Entity),
		neighbors: make(map[string]map[string]bool),
		edgesOut:  make(map[string][]types.Relationship),
		edgesIn:   make(map[string][]types.Relationship),
		tokens:    make(map[string]map[string]bool),
	}
}

// Rebuild performs the cold-start rebuild from storage.Storage's current
// versions and all relationships reachable from them.
func (idx *Index) Rebuild(ctx context.Context, store storage.Storage) error {
	entities, err := store.ScanCurrent(ctx)
	if err != nil {
		return fmt.Errorf("graphindex rebuild: scan current: %w", err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.entities = make(map[string]types.Entity, len(entities))
	idx.neighbors = make(map[string]map[string]bool, len(entities))
	idx.edgesOut = make(map[string][]types.Relationship)
	idx.edgesIn = make(map[string][]types.Relationship)
	idx.tokens = make(map[string]map[string]bool)

	for _, e := range entities {
		idx.putEntityLocked(e)
	}
	for _, e := range entities {
		rels, err := store.RelationshipsFrom(ctx, e.ID)
		if err != nil {
			return fmt.Errorf("graphindex rebuild: relationships from %s: %w", e.ID, err)
		}
		for _, r := range rels {
			idx.putRelationshipLocked(r)
		}
	}
	return nil
}

// ApplyEntity updates the index in-place after a successful write, under
// the same lock that protects the Entity Store's current-pointer swap
// (the caller is expected to hold that serialization already; ApplyEntity
// additionally takes the index's own lock against concurrent readers).
func (idx *Index) ApplyEntity(e types.Entity) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.putEntityLocked(e)
}

func (idx *Index) putEntityLocked(e types.Entity) {
	if old, ok := idx.entities[e.ID]; ok {
		idx.removeTokensLocked(old)
	}
	idx.entities[e.ID] = e
	if _, ok := idx.neighbors[e.ID]; !ok {
		idx.neighbors[e.ID] = make(map[string]bool)
	}
	idx.indexTokensLocked(e)
}

// ApplyRelationship adds an edge and marks both endpoints adjacent.
// Applying the same relationship again adds a second edge entry.
func (idx *Index) ApplyRelationship(r types.Relationship) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.putRelationshipLocked(r)
}

func (idx *Index) putRelationshipLocked(r types.Relationship) {
	idx.edgesOut[r.FromEntityID] = append(idx.edgesOut[r.FromEntityID], r)
	idx.edgesIn[r.ToEntityID] = append(idx.edgesIn[r.ToEntityID], r)

	if idx.neighbors[r.FromEntityID] == nil {
		idx.neighbors[r.FromEntityID] = make(map[string]bool)
	}
	if idx.neighbors[r.ToEntityID] == nil {
		idx.neighbors[r.ToEntityID] = make(map[string]bool)
	}
	idx.neighbors[r.FromEntityID][r.ToEntityID] = true
	idx.neighbors[r.ToEntityID][r.FromEntityID] = true
}

// RemoveRelationship drops an edge, e.g. when a DeleteRelationship call
// succeeds at the storage layer.
func (idx *Index) RemoveRelationship(r types.Relationship) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.edgesOut[r.FromEntityID] = removeRel(idx.edgesOut[r.FromEntityID], r.ID)
	idx.edgesIn[r.ToEntityID] = removeRel(idx.edgesIn[r.ToEntityID], r.ID)
	idx.recomputeAdjacencyLocked(r.FromEntityID)
	idx.recomputeAdjacencyLocked(r.ToEntityID)
}

func removeRel(rels []types.Relationship, id string) []types.Relationship {
	out := rels[:0]
	for _, r := range rels {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}

func (idx *Index) recomputeAdjacencyLocked(id string) {
	set := make(map[string]bool)
	for _, r := range idx.edgesOut[id] {
		set[r.ToEntityID] = true
	}
	for _, r := range idx.edgesIn[id] {
		set[r.FromEntityID] = true
	}
	idx.neighbors[id] = set
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// Tokenize lowercases s and splits it into the same token set Search and
// SimilarTo index against, so a caller building a query (e.g. the
// search_entities tool) can tokenize consistently with the index.
func Tokenize(s string) []string {
	return tokenPattern.FindAllString(strings.ToLower(s), -1)
}

func tokenize(s string) []string { return Tokenize(s) }

// tokenSet collects the lowercased token set of an entity's name and
// the string leaves of its content.
func tokenSet(e types.Entity) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range tokenize(e.Name) {
		set[tok] = true
	}
	collectStringLeaves(e.Content, set)
	return set
}

func collectStringLeaves(v any, set map[string]bool) {
	switch val := v.(type) {
	case string:
		for _, tok := range tokenize(val) {
			set[tok] = true
		}
	case types.Content:
		for _, sub := range val {
			collectStringLeaves(sub, set)
		}
	case map[string]any:
		for _, sub := range val {
			collectStringLeaves(sub, set)
		}
	case []any:
		for _, sub := range val {
			collectStringLeaves(sub, set)
		}
	}
}

func (idx *Index) indexTokensLocked(e types.Entity) {
	for tok := range tokenSet(e) {
		if idx.tokens[tok] == nil {
			idx.tokens[tok] = make(map[string]bool)
		}
		idx.tokens[tok][e.ID] = true
	}
}

func (idx *Index) removeTokensLocked(e types.Entity) {
	for tok := range tokenSet(e) {
		if set, ok := idx.tokens[tok]; ok {
			delete(set, e.ID)
			if len(set) == 0 {
				delete(idx.tokens, tok)
			}
		}
	}
}

// Get returns the indexed current version of id, if present.
func (idx *Index) Get(id string) (types.Entity, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.entities[id]
	return e, ok
}

// Neighbors returns the sorted ids adjacent to id via any relationship.
func (idx *Index) Neighbors(id string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	set := idx.neighbors[id]
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Search returns entity ids whose token set contains the lowercased
// query token, sorted for determinism.
func (idx *Index) Search(token string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	set := idx.tokens[strings.ToLower(token)]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// FindPath performs breadth-first search for the shortest path between
// from and to. Among equal-length candidate paths, the lexicographically
// smallest sequence of ids wins, keeping the result deterministic
// regardless of map iteration order.
func (idx *Index) FindPath(from, to string) ([]string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if from == to {
		if _, ok := idx.entities[from]; !ok {
			return nil, ErrNoPath
		}
		return []string{from}, nil
	}

	type frame struct {
		id   string
		path []string
	}

	visited := map[string]bool{from: true}
	queue := []frame{{id: from, path: []string{from}}}
	var best []string

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		neighborIDs := make([]string, 0, len(idx.neighbors[cur.id]))
		for n := range idx.neighbors[cur.id] {
			neighborIDs = append(neighborIDs, n)
		}
		sort.Strings(neighborIDs)

		for _, n := range neighborIDs {
			if n == to {
				candidate := append(append([]string{}, cur.path...), n)
				if best == nil || len(candidate) < len(best) ||
					(len(candidate) == len(best) && lexLess(candidate, best)) {
					best = candidate
				}
				continue
			}
			if visited[n] {
				continue
			}
			visited[n] = true
			queue = append(queue, frame{id: n, path: append(append([]string{}, cur.path...), n)})
		}
	}

	if best == nil {
		return nil, ErrNoPath
	}
	return best, nil
}

func lexLess(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// Similarity computes the Jaccard index between two entities' token sets
// (name plus string leaves of content). Returns 0 if either entity is
// unknown or both token sets are empty.
func (idx *Index) Similarity(idA, idB string) float64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	a, ok := idx.entities[idA]
	if !ok {
		return 0
	}
	b, ok := idx.entities[idB]
	if !ok {
		return 0
	}
	setA, setB := tokenSet(a), tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	inter, union := 0, 0
	seen := make(map[string]bool, len(setA)+len(setB))
	for tok := range setA {
		seen[tok] = true
		if setB[tok] {
			inter++
		}
	}
	for tok := range setB {
		seen[tok] = true
	}
	union = len(seen)
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// SimilarTo returns the ids of all other indexed entities whose Jaccard
// similarity to id is >= threshold, ordered by descending similarity and
// then by id (ties broken by entity id ordering).
func (idx *Index) SimilarTo(id string, threshold float64) []SimilarityResult {
	idx.mu.RLock()
	ids := make([]string, 0, len(idx.entities))
	for other := range idx.entities {
		if other != id {
			ids = append(ids, other)
		}
	}
	idx.mu.RUnlock()

	var out []SimilarityResult
	for _, other := range ids {
		score := idx.Similarity(id, other)
		if score >= threshold {
			out = append(out, SimilarityResult{ID: other, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SimilarityResult is one entry of a SimilarTo result set.
type SimilarityResult struct {
	ID    string
	Score float64
}
