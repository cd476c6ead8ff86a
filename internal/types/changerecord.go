package types

import (
	"fmt"
	"time"
)

// ChangeKind is the operation a ChangeRecord describes.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "CREATE"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
)

func (k ChangeKind) Valid() bool {
	return k == ChangeCreate || k == ChangeUpdate || k == ChangeDelete
}

// ChangeRecord is one append-only row in the change log: the unit the sync
// engine exchanges between nodes. Sequence is assigned by the server at
// append time and is strictly increasing and gap-free per node.
type ChangeRecord struct {
	Sequence     int64
	Kind         ChangeKind
	EntityID     string
	Version      string
	PriorVersion string
	EntityType   EntityType
	Name         string
	Content      Content // nil for DELETE
	UserID       string
	OriginNodeID string
	Timestamp    time.Time
}

func (c ChangeRecord) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("invalid change kind %q", c.Kind)
	}
	if c.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if c.OriginNodeID == "" {
		return fmt.Errorf("origin_node_id is required")
	}
	if c.Kind == ChangeCreate && c.PriorVersion != "" {
		return fmt.Errorf("create records must not carry a prior_version")
	}
	if c.Kind != ChangeCreate && c.PriorVersion == "" {
		return fmt.Errorf("%s records require a prior_version", c.Kind)
	}
	return nil
}

// FromEntity derives the ChangeRecord describing the write of e, given the
// version e superseded (empty for a genesis create).
func FromEntity(e Entity, kind ChangeKind, priorVersion, originNodeID string) ChangeRecord {
	var content Content
	if kind != ChangeDelete {
		content = e.Content
	}
	return ChangeRecord{
		Kind:         kind,
		EntityID:     e.ID,
		Version:      e.Version,
		PriorVersion: priorVersion,
		EntityType:   e.Type,
		Name:         e.Name,
		Content:      content,
		UserID:       e.UserID,
		OriginNodeID: originNodeID,
		Timestamp:    e.UpdatedAt,
	}
}
