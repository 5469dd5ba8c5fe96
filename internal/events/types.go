// Package events provides an asynchronous event bus that decouples the
// identification engine from downstream collaborators (consensus
// recomputation, search reindexing, stats counters).
package events

import (
	"time"
)

// Change reasons carried by identification events.
const (
	ReasonCreated       = "created"
	ReasonUpdated       = "updated"
	ReasonWithdrawn     = "withdrawn"
	ReasonRestored      = "restored"
	ReasonDeleted       = "deleted"
	ReasonTaxonChange   = "taxon-change"
	ReasonRecategorized = "recategorized"
)

// IdentificationEvent represents a change to the identification set of one
// observation. Consumers use it to recompute consensus, reindex, or update
// counters; the engine only guarantees the observation ID and reason.
type IdentificationEvent interface {
	// GetObservationID returns the observation whose identifications changed
	GetObservationID() int64

	// GetUserID returns the acting user, or 0 for batch operations
	GetUserID() int64

	// GetReason returns the change reason (see Reason* constants)
	GetReason() string

	// GetTimestamp returns when the change occurred
	GetTimestamp() time.Time

	// GetMetadata returns additional context data
	GetMetadata() map[string]any
}

// Consumer represents a consumer that processes identification events
type Consumer interface {
	// Name returns the consumer name for identification
	Name() string

	// ProcessEvent processes a single event
	ProcessEvent(event IdentificationEvent) error

	// ProcessBatch processes multiple events at once (for efficiency)
	ProcessBatch(events []IdentificationEvent) error

	// SupportsBatching returns true if this consumer supports batch processing
	SupportsBatching() bool
}

// EventBusStats contains runtime statistics for monitoring
type EventBusStats struct {
	EventsReceived  uint64
	EventsProcessed uint64
	EventsDropped   uint64
	ConsumerErrors  uint64
}

// identificationChange is the concrete event emitted by the engine.
type identificationChange struct {
	observationID int64
	userID        int64
	reason        string
	timestamp     time.Time
	metadata      map[string]any
}

// NewIdentificationEvent creates an event for a change on one observation.
func NewIdentificationEvent(observationID, userID int64, reason string) IdentificationEvent {
	return &identificationChange{
		observationID: observationID,
		userID:        userID,
		reason:        reason,
		timestamp:     time.Now(),
	}
}

// NewIdentificationEventWithMetadata creates an event carrying extra context,
// e.g. the taxon-change ID that triggered a replay.
func NewIdentificationEventWithMetadata(observationID, userID int64, reason string, metadata map[string]any) IdentificationEvent {
	return &identificationChange{
		observationID: observationID,
		userID:        userID,
		reason:        reason,
		timestamp:     time.Now(),
		metadata:      metadata,
	}
}

func (e *identificationChange) GetObservationID() int64 { return e.observationID }

func (e *identificationChange) GetUserID() int64 { return e.userID }

func (e *identificationChange) GetReason() string { return e.reason }

func (e *identificationChange) GetTimestamp() time.Time { return e.timestamp }

func (e *identificationChange) GetMetadata() map[string]any { return e.metadata }
