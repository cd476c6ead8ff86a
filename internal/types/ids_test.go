package types

import (
	"testing"
	"time"
)

func TestNewVersionRoundTrip(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123000000, time.UTC)
	v := NewVersion(ts, "user-42")
	want := "2024-01-15T10:30:00.123Z-user-42"
	if v != want {
		t.Fatalf("NewVersion() = %q, want %q", v, want)
	}

	gotTime, err := ParseVersionTimestamp(v)
	if err != nil {
		t.Fatalf("ParseVersionTimestamp() error = %v", err)
	}
	if !gotTime.Equal(ts) {
		t.Fatalf("ParseVersionTimestamp() = %v, want %v", gotTime, ts)
	}

	gotUser, err := VersionUserID(v)
	if err != nil {
		t.Fatalf("VersionUserID() error = %v", err)
	}
	if gotUser != "user-42" {
		t.Fatalf("VersionUserID() = %q, want %q", gotUser, "user-42")
	}
}

func TestVersionUserIDWithHyphenatedUser(t *testing.T) {
	v := "2024-01-15T10:30:00.123Z-alice-bob"
	gotUser, err := VersionUserID(v)
	if err != nil {
		t.Fatalf("VersionUserID() error = %v", err)
	}
	if gotUser != "alice-bob" {
		t.Fatalf("VersionUserID() = %q, want %q", gotUser, "alice-bob")
	}
}

func TestParseVersionTimestampMalformed(t *testing.T) {
	if _, err := ParseVersionTimestamp("not-a-version"); err == nil {
		t.Fatal("expected error for malformed version string")
	}
}

func TestEntityValidate(t *testing.T) {
	base := Entity{
		ID:      "e1",
		Version: "2024-01-15T10:00:00.000Z-alice",
		Type:    EntityRoom,
		Name:    "Kitchen",
		UserID:  "alice",
	}

	tests := []struct {
		name    string
		mutate  func(e *Entity)
		wantErr bool
	}{
		{"valid genesis", func(e *Entity) {}, false},
		{"missing id", func(e *Entity) { e.ID = "" }, true},
		{"missing version", func(e *Entity) { e.Version = "" }, true},
		{"invalid type", func(e *Entity) { e.Type = EntityType("ROBOT") }, true},
		{"missing name on non-tombstone", func(e *Entity) { e.Name = "" }, true},
		{"missing user_id", func(e *Entity) { e.UserID = "" }, true},
		{"invalid source type", func(e *Entity) { e.SourceType = SourceType("WEIRD") }, true},
		{
			"tombstone may have empty name",
			func(e *Entity) {
				e.Name = ""
				e.Content = nil
				e.ParentVersions = []string{"2024-01-15T10:00:00.000Z-alice"}
			},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := base
			tt.mutate(&e)
			err := e.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestChangeRecordValidate(t *testing.T) {
	tests := []struct {
		name    string
		rec     ChangeRecord
		wantErr bool
	}{
		{
			name: "valid create",
			rec: ChangeRecord{
				Kind: ChangeCreate, EntityID: "e1", Version: "v1", OriginNodeID: "n1",
			},
			wantErr: false,
		},
		{
			name: "create with prior_version is invalid",
			rec: ChangeRecord{
				Kind: ChangeCreate, EntityID: "e1", Version: "v1", PriorVersion: "v0", OriginNodeID: "n1",
			},
			wantErr: true,
		},
		{
			name: "update without prior_version is invalid",
			rec: ChangeRecord{
				Kind: ChangeUpdate, EntityID: "e1", Version: "v1", OriginNodeID: "n1",
			},
			wantErr: true,
		},
		{
			name: "invalid kind",
			rec: ChangeRecord{
				Kind: ChangeKind("PATCH"), EntityID: "e1", Version: "v1", OriginNodeID: "n1",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
