package types

import (
	"fmt"
	"time"
)

// RelationshipType is the closed set of edge kinds in the smart-home graph.
type RelationshipType string

const (
	RelLocatedIn       RelationshipType = "LOCATED_IN"
	RelControls        RelationshipType = "CONTROLS"
	RelConnectsTo      RelationshipType = "CONNECTS_TO"
	RelPartOf          RelationshipType = "PART_OF"
	RelManages         RelationshipType = "MANAGES"
	RelDocumentedBy    RelationshipType = "DOCUMENTED_BY"
	RelProcedureFor    RelationshipType = "PROCEDURE_FOR"
	RelTriggeredBy     RelationshipType = "TRIGGERED_BY"
	RelDependsOn       RelationshipType = "DEPENDS_ON"
	RelHasBlob         RelationshipType = "HAS_BLOB"
	RelControlledByApp RelationshipType = "CONTROLLED_BY_APP"
)

var validRelationshipTypes = map[RelationshipType]bool{
	RelLocatedIn: true, RelControls: true, RelConnectsTo: true, RelPartOf: true,
	RelManages: true, RelDocumentedBy: true, RelProcedureFor: true, RelTriggeredBy: true,
	RelDependsOn: true, RelHasBlob: true, RelControlledByApp: true,
}

func (t RelationshipType) Valid() bool { return validRelationshipTypes[t] }

// Relationship is an immutable edge between two entity IDs. FromVersion and
// ToVersion are empty by default, meaning "follow each endpoint's current
// version"; a caller may pin either endpoint to a specific version.
type Relationship struct {
	ID           string
	FromEntityID string
	FromVersion  string
	ToEntityID   string
	ToVersion    string
	Type         RelationshipType
	Properties   Content
	UserID       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FromPinned and ToPinned report whether that endpoint reference is
// pinned to a specific version rather than following current.
func (r Relationship) FromPinned() bool { return r.FromVersion != "" }
func (r Relationship) ToPinned() bool   { return r.ToVersion != "" }

func (r Relationship) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.FromEntityID == "" {
		return fmt.Errorf("from_entity_id is required")
	}
	if r.ToEntityID == "" {
		return fmt.Errorf("to_entity_id is required")
	}
	if !r.Type.Valid() {
		return fmt.Errorf("invalid relationship type %q", r.Type)
	}
	if r.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	return nil
}
