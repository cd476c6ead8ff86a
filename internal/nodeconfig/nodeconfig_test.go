package nodeconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("INBETWEENIES_NODE_ID", "node-a")
	t.Setenv("INBETWEENIES_NODE_USER_ID", "alice")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.ID != "node-a" || cfg.Node.UserID != "alice" {
		t.Fatalf("expected env overrides applied, got %+v", cfg.Node)
	}
	if cfg.HTTP.Listen != ":7890" {
		t.Fatalf("expected default HTTP listen address, got %q", cfg.HTTP.Listen)
	}
	if cfg.Batch.MaxRecords != 1000 || cfg.Batch.MaxBytes != 10*1024*1024 {
		t.Fatalf("expected default batch limits, got %+v", cfg.Batch)
	}
}

func TestLoadReadsFileAndMissingIdentityFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("node:\n  data-dir: /var/lib/inbetweenies\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for missing node.id/node.user-id")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := "node:\n" +
		"  id: node-b\n" +
		"  user-id: bob\n" +
		"storage:\n" +
		"  dsn: \"sqlite:///tmp/graph.db\"\n" +
		"http:\n" +
		"  listen: \":9000\"\n" +
		"  token: s3cr3t\n" +
		"sync:\n" +
		"  batch:\n" +
		"    max-records: 50\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.ID != "node-b" || cfg.Node.UserID != "bob" {
		t.Fatalf("expected file values for node identity, got %+v", cfg.Node)
	}
	if cfg.Storage != "sqlite:///tmp/graph.db" {
		t.Fatalf("expected file storage dsn, got %q", cfg.Storage)
	}
	if cfg.HTTP.Listen != ":9000" || cfg.HTTP.Token != "s3cr3t" {
		t.Fatalf("expected file HTTP settings, got %+v", cfg.HTTP)
	}
	if cfg.Batch.MaxRecords != 50 {
		t.Fatalf("expected overridden max-records, got %d", cfg.Batch.MaxRecords)
	}
	if cfg.Batch.MaxBytes != 10*1024*1024 {
		t.Fatalf("expected default max-bytes to survive partial override, got %d", cfg.Batch.MaxBytes)
	}
}

func TestEnvOverridesFileValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("node:\n  id: from-file\n  user-id: alice\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("INBETWEENIES_NODE_ID", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.ID != "from-env" {
		t.Fatalf("expected environment override to win, got %q", cfg.Node.ID)
	}
}
