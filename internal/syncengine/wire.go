// Package syncengine drives the Inbetweenies pull-apply-push cycle: it
// runs on both client and server, exchanging ChangeRecords, consulting
// the Conflict Resolver on divergence, and advancing a per-node
// since_sequence cursor only once a batch has been durably applied.
//
// The Send step's exponential-backoff-with-jitter retry follows the
// same newServerRetryBackoff/withRetry/isRetryableError discipline as
// internal/storage/dolt's server-mode retry, and the wire types take
// the general shape of an internal/rpc Request/Response envelope.
package syncengine

import (
	"time"

	"github.com/inbetweenies/graphsync/internal/types"
)

const ProtocolVersion = "inbetweenies-v2"

// Request is the client-to-server sync message.
type Request struct {
	ProtocolVersion string           `json:"protocol_version"`
	NodeID          string           `json:"node_id"`
	UserID          string           `json:"user_id"`
	SinceSequence   int64            `json:"since_sequence"`
	Vector          map[string]int64 `json:"vector,omitempty"`
	Changes         []types.ChangeRecord `json:"changes"`
	Capabilities    []string         `json:"capabilities,omitempty"`
}

// Conflict reports one divergence the server's apply step resolved.
type Conflict struct {
	EntityID      string `json:"entity_id"`
	LocalVersion  string `json:"local_version"`
	ServerVersion string `json:"server_version"`
	Decision      string `json:"decision"`
}

// Response is the server-to-client sync message.
type Response struct {
	ServerTime   time.Time            `json:"server_time"`
	Changes      []types.ChangeRecord `json:"changes"`
	Conflicts    []Conflict           `json:"conflicts,omitempty"`
	NextSequence int64                `json:"next_sequence"`
	Vector       map[string]int64     `json:"vector,omitempty"`
	Duplicates   int                  `json:"duplicates"`
}

// State is one state of the sync cycle's state machine.
type State int

const (
	StateIdle State = iota
	StateCollecting
	StateSending
	StateApplying
	StateUpdatingVector
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCollecting:
		return "COLLECTING"
	case StateSending:
		return "SENDING"
	case StateApplying:
		return "APPLYING"
	case StateUpdatingVector:
		return "UPDATING_VECTOR"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Cancellable reports whether a cycle may be cancelled while in s.
// Cancellation is permitted only in COLLECTING and SENDING; once
// SENDING succeeds the cycle must run to completion so since_sequence
// never outpaces what was actually applied.
func (s State) Cancellable() bool {
	return s == StateCollecting || s == StateSending
}

// BatchLimits bounds a single Collect step.
type BatchLimits struct {
	MaxRecords int
	MaxBytes   int64
}

// DefaultBatchLimits is the default batch cap: 1000 records or 10 MiB.
func DefaultBatchLimits() BatchLimits {
	return BatchLimits{MaxRecords: 1000, MaxBytes: 10 * 1024 * 1024}
}
