package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/inbetweenies/graphsync/internal/changelog"
	"github.com/inbetweenies/graphsync/internal/graphindex"
	"github.com/inbetweenies/graphsync/internal/resolver"
	"github.com/inbetweenies/graphsync/internal/storage"
	"github.com/inbetweenies/graphsync/internal/types"
)

// OutboundQueue is the client-side source of local changes awaiting
// sync, implemented by internal/replica's Coordinator. Drain must
// return at most limits.MaxRecords records totaling at most
// limits.MaxBytes (a single record larger than MaxBytes may be
// returned alone), leaving the remainder queued.
type OutboundQueue interface {
	Drain(ctx context.Context, limits BatchLimits) ([]types.ChangeRecord, error)
	Requeue(ctx context.Context, records []types.ChangeRecord) error
}

// ApplyResult summarizes one ApplyIncoming call.
type ApplyResult struct {
	Applied    int
	Duplicates int
	Conflicts  []Conflict
}

// Engine drives the Inbetweenies cycle on either side of a sync
// connection: HandleRequest for the server, RunCycle for the client.
// Both share ApplyIncoming, so the two sides apply incoming records
// identically.
type Engine struct {
	NodeID   string
	UserID   string
	Store    storage.Storage
	Log      *changelog.Log
	Index    *graphindex.Index
	Resolve  resolver.Resolver
	Limits   BatchLimits
	Retry    RetryConfig

	mu            sync.Mutex
	state         State
	sinceSequence int64
	queue         OutboundQueue
	transport     Transport
}

// NewEngine builds an Engine. queue and transport may be nil on the
// server, which only ever calls HandleRequest.
func NewEngine(nodeID, userID string, store storage.Storage, idx *graphindex.Index, res resolver.Resolver, queue OutboundQueue, transport Transport) *Engine {
	return &Engine{
		NodeID:    nodeID,
		UserID:    userID,
		Store:     store,
		Log:       changelog.New(store),
		Index:     idx,
		Resolve:   res,
		Limits:    DefaultBatchLimits(),
		Retry:     DefaultRetryConfig(),
		state:     StateIdle,
		queue:     queue,
		transport: transport,
	}
}

// State reports the engine's current cycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// SinceSequence reports the cursor the next cycle will sync from.
func (e *Engine) SinceSequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sinceSequence
}

// CycleResult summarizes one completed client sync cycle.
type CycleResult struct {
	Sent      int
	Received  int
	Conflicts []Conflict
}

// RunCycle drives one full client-side sync cycle: Collect, Send,
// Apply, UpdateVector. ctx cancellation is honored only up through the
// end of Send; once the server has accepted the
// request, the cycle completes APPLYING and UPDATING_VECTOR even if ctx
// is later cancelled, preserving the invariant that since_sequence
// tracks what was actually ingested.
func (e *Engine) RunCycle(ctx context.Context) (*CycleResult, error) {
	if e.queue == nil || e.transport == nil {
		return nil, fmt.Errorf("syncengine: RunCycle requires a queue and transport")
	}

	e.setState(StateCollecting)
	outbound, err := e.queue.Drain(ctx, e.Limits)
	if err != nil {
		e.setState(StateFailed)
		return nil, fmt.Errorf("syncengine: collect: %w", err)
	}

	if err := ctx.Err(); err != nil {
		if reqErr := e.queue.Requeue(context.Background(), outbound); reqErr != nil {
			return nil, fmt.Errorf("syncengine: cancelled during collect, requeue failed: %w", reqErr)
		}
		e.setState(StateIdle)
		return nil, err
	}

	req := Request{
		ProtocolVersion: ProtocolVersion,
		NodeID:          e.NodeID,
		UserID:          e.UserID,
		SinceSequence:   e.SinceSequence(),
		Changes:         outbound,
		Capabilities:    []string{"lww", "merge"},
	}

	e.setState(StateSending)
	resp, err := sendWithRetry(ctx, e.transport, req, e.Retry)
	if err != nil {
		if requeueErr := e.queue.Requeue(context.Background(), outbound); requeueErr != nil {
			return nil, fmt.Errorf("syncengine: send failed (%w), requeue also failed: %w", err, requeueErr)
		}
		e.setState(StateFailed)
		return nil, fmt.Errorf("syncengine: send: %w", err)
	}

	// Once Send succeeds, the cycle runs to completion regardless of
	// ctx: since_sequence must only ever reflect batches fully ingested.
	applyCtx := context.Background()
	e.setState(StateApplying)
	result, err := e.ApplyIncoming(applyCtx, resp.Changes)
	if err != nil {
		e.setState(StateFailed)
		return nil, fmt.Errorf("syncengine: apply: %w", err)
	}

	e.setState(StateUpdatingVector)
	e.mu.Lock()
	e.sinceSequence = resp.NextSequence
	e.mu.Unlock()

	e.setState(StateIdle)
	return &CycleResult{Sent: len(outbound), Received: result.Applied, Conflicts: result.Conflicts}, nil
}

// HandleRequest is the server-side handler for one Request: it applies
// the client's outbound changes, then returns every change-log record
// the client lacks.
func (e *Engine) HandleRequest(ctx context.Context, req Request) (*Response, error) {
	applyResult, err := e.ApplyIncoming(ctx, req.Changes)
	if err != nil {
		return nil, fmt.Errorf("syncengine: server apply: %w", err)
	}

	scanned, err := e.Log.ScanFrom(ctx, req.SinceSequence, e.Limits.MaxRecords)
	if err != nil {
		return nil, fmt.Errorf("syncengine: server scan: %w", err)
	}

	// next covers every scanned record, including the requester's own,
	// which are left out of the response but need not be scanned again.
	next := req.SinceSequence
	outbound := make([]types.ChangeRecord, 0, len(scanned))
	for _, c := range scanned {
		if c.Sequence > next {
			next = c.Sequence
		}
		if c.OriginNodeID != req.NodeID {
			outbound = append(outbound, c)
		}
	}

	return &Response{
		ServerTime:   timeNow(),
		Changes:      outbound,
		Conflicts:    applyResult.Conflicts,
		NextSequence: next,
		Duplicates:   applyResult.Duplicates,
	}, nil
}

// timeNow exists so tests can be deterministic without the engine
// depending on a clock interface for a single timestamp field.
var timeNow = time.Now

// ApplyIncoming applies a batch of inbound ChangeRecords to the Entity
// Store, invoking the Conflict Resolver on any divergence. Both
// HandleRequest (server) and RunCycle (client) call this, so the two
// sides resolve conflicts identically.
func (e *Engine) ApplyIncoming(ctx context.Context, records []types.ChangeRecord) (ApplyResult, error) {
	var result ApplyResult

	for _, rec := range records {
		if _, err := e.Store.GetVersion(ctx, rec.EntityID, rec.Version); err == nil {
			result.Duplicates++
			continue
		}

		incoming := entityFromChange(rec)

		cur, err := e.Store.GetCurrent(ctx, rec.EntityID)
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			return result, fmt.Errorf("get current %s: %w", rec.EntityID, err)
		}
		hasCurrent := err == nil

		accepted := !hasCurrent || rec.PriorVersion == cur.Version
		if accepted {
			priorVersion := ""
			if hasCurrent {
				priorVersion = cur.Version
			}
			if _, err := e.Store.ApplyVersioned(ctx, incoming, priorVersion, rec); err != nil {
				return result, fmt.Errorf("apply %s@%s: %w", rec.EntityID, rec.Version, err)
			}
			if e.Index != nil {
				e.Index.ApplyEntity(incoming)
			}
			result.Applied++
			continue
		}

		decision, winner, err := e.Resolve.Resolve(*cur, incoming, resolver.Options{})
		if err != nil {
			return result, fmt.Errorf("resolve %s: %w", rec.EntityID, err)
		}

		result.Conflicts = append(result.Conflicts, Conflict{
			EntityID:      rec.EntityID,
			LocalVersion:  cur.Version,
			ServerVersion: rec.Version,
			Decision:      decision.String(),
		})

		// On Accept, ApplyVersioned below stores the incoming version itself.
		if decision != resolver.DecisionAccept {
			if err := e.Store.PutVersion(ctx, incoming); err != nil {
				return result, fmt.Errorf("store divergent version %s@%s: %w", rec.EntityID, rec.Version, err)
			}
		}

		switch decision {
		case resolver.DecisionAccept:
			if _, err := e.Store.ApplyVersioned(ctx, *winner, cur.Version, types.FromEntity(*winner, types.ChangeUpdate, cur.Version, rec.OriginNodeID)); err != nil {
				return result, fmt.Errorf("accept remote %s@%s: %w", rec.EntityID, rec.Version, err)
			}
			if e.Index != nil {
				e.Index.ApplyEntity(*winner)
			}
			result.Applied++
		case resolver.DecisionMerge:
			if _, err := e.Store.ApplyVersioned(ctx, *winner, cur.Version, types.FromEntity(*winner, types.ChangeUpdate, cur.Version, e.NodeID)); err != nil {
				return result, fmt.Errorf("apply merge %s@%s: %w", rec.EntityID, winner.Version, err)
			}
			if e.Index != nil {
				e.Index.ApplyEntity(*winner)
			}
			result.Applied++
		case resolver.DecisionReject:
			// Local stays current; the remote version is now recorded in
			// storage for history but never became current.
		}
	}

	return result, nil
}

func entityFromChange(c types.ChangeRecord) types.Entity {
	var parents []string
	if c.PriorVersion != "" {
		parents = []string{c.PriorVersion}
	}
	return types.Entity{
		ID:             c.EntityID,
		Version:        c.Version,
		Type:           c.EntityType,
		Name:           c.Name,
		Content:        c.Content,
		ParentVersions: parents,
		UserID:         c.UserID,
		UpdatedAt:      c.Timestamp,
		CreatedAt:      c.Timestamp,
	}
}
