// Package resolver implements the Conflict Resolver: the pure,
// deterministic function that decides which of two competing entity
// versions wins when an incoming version's parent chain doesn't include
// the local current version.
//
// The overall shape, "reconcile two divergent writes", follows the same
// lines as a vendored three-way JSONL merge (base/left/right ->
// merged-or-conflict); the two-input decision function itself is
// adapted from a scored-candidate resolver, turned from resource
// ranking into a binary accept/reject/merge outcome.
package resolver

import (
	"time"

	"github.com/inbetweenies/graphsync/internal/types"
)

// Decision is the outcome of resolving a conflict between a local and a
// remote version of the same entity id.
type Decision int

const (
	// DecisionAccept means the remote version wins and becomes current.
	DecisionAccept Decision = iota
	// DecisionReject means the local version wins; the remote write is
	// recorded in storage but never becomes current.
	DecisionReject
	// DecisionMerge means a new version was synthesized with both
	// competing versions as parents. Only produced when Options.ThreeWay
	// is set.
	DecisionMerge
)

func (d Decision) String() string {
	switch d {
	case DecisionAccept:
		return "accept"
	case DecisionReject:
		return "reject"
	case DecisionMerge:
		return "merge"
	default:
		return "unknown"
	}
}

// Options configures a single Resolve call.
type Options struct {
	// TiebreakWindow is the |Δt| below which timestamps are considered
	// equal and the tiebreaker (user_id, version) comparison applies.
	// Zero means the default of 1 second.
	TiebreakWindow time.Duration

	// ThreeWay requests Merge output instead of Accept/Reject when both
	// sides have diverged from a common ancestor. Default is false
	// (Accept/Reject only).
	ThreeWay bool

	// MergeVersion is the version string to stamp on a synthesized merge
	// result. Required when ThreeWay is set.
	MergeVersion string
	MergeUserID  string
	MergeAt      time.Time
}

const defaultTiebreakWindow = time.Second

// Resolver decides the winner between two competing versions of the same
// entity id. Implementations must be pure functions of their inputs.
type Resolver interface {
	Resolve(local, remote types.Entity, opts Options) (Decision, *types.Entity, error)
}

// LWWResolver implements the last-write-wins discipline.
type LWWResolver struct{}

// New returns the default last-write-wins Resolver.
func New() *LWWResolver { return &LWWResolver{} }

// Resolve compares local and remote:
//  1. Later updated_at wins.
//  2. Within the tiebreak window, compare (user_id, version) lexicographically.
//  3. A tombstone always wins a tie within the window.
func (r *LWWResolver) Resolve(local, remote types.Entity, opts Options) (Decision, *types.Entity, error) {
	window := tiebreakWindowOrDefault(opts)

	remoteWins := decideWinner(local, remote, window)

	if opts.ThreeWay {
		merged := buildMerge(local, remote, opts)
		return DecisionMerge, &merged, nil
	}

	if remoteWins {
		return DecisionAccept, &remote, nil
	}
	return DecisionReject, &local, nil
}

// decideWinner reports whether remote beats local under the LWW +
// tiebreaker + tombstone-precedence rule. It is the single source of
// truth both Accept/Reject and Merge-parent-ordering consult, so the
// resolver's decision and the sync engine's conflict report never
// disagree about which side "won".
func decideWinner(local, remote types.Entity, window time.Duration) bool {
	delta := remote.UpdatedAt.Sub(local.UpdatedAt)
	if delta < 0 {
		delta = -delta
	}

	if delta > window {
		return remote.UpdatedAt.After(local.UpdatedAt)
	}

	// Within the tiebreak window: tombstone precedence first.
	localTomb := local.IsTombstone()
	remoteTomb := remote.IsTombstone()
	if localTomb != remoteTomb {
		return remoteTomb
	}

	// Then lexicographic (user_id, version).
	if local.UserID != remote.UserID {
		return remote.UserID > local.UserID
	}
	return remote.Version > local.Version
}

// buildMerge synthesizes a merge version carrying both competing versions
// as parents (only used when the application requests three-way
// semantics). Content from the winning
// side (per decideWinner) is kept as the merge's content; callers that
// want field-level merging should pre-merge Content before calling
// Resolve and rely on decideWinner only for parent ordering.
func buildMerge(local, remote types.Entity, opts Options) types.Entity {
	winner := local
	if decideWinner(local, remote, tiebreakWindowOrDefault(opts)) {
		winner = remote
	}

	parents := orderedParents(local.Version, remote.Version)

	merged := winner
	merged.Version = opts.MergeVersion
	merged.ParentVersions = parents
	merged.UserID = opts.MergeUserID
	merged.UpdatedAt = opts.MergeAt
	return merged
}

func tiebreakWindowOrDefault(opts Options) time.Duration {
	if opts.TiebreakWindow <= 0 {
		return defaultTiebreakWindow
	}
	return opts.TiebreakWindow
}

// orderedParents returns the two parent versions in a deterministic
// order (lexicographic) so that identical inputs always produce an
// identical merge entity, independent of which side is "local" and which
// is "remote" in the caller's terms.
func orderedParents(a, b string) []string {
	if a <= b {
		return []string{a, b}
	}
	return []string{b, a}
}
