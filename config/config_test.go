package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":8080" || cfg.MaxUploadMB != 100 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if len(cfg.RateLimits) == 0 {
		t.Fatal("default rate limits missing")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atelier.yaml")
	doc := `
listen: ":9000"
uploads_dir: /srv/atelier/uploads
max_upload_mb: 250
imagery:
  max_preview_dim: 2000
rate_limits:
  "POST /api/protect":
    max_requests: 3
    window_seconds: 30
    enabled: true
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9000" || cfg.UploadsDir != "/srv/atelier/uploads" || cfg.MaxUploadMB != 250 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Imagery.MaxPreviewDim != 2000 {
		t.Fatalf("imagery = %+v", cfg.Imagery)
	}
	if rl := cfg.RateLimits["POST /api/protect"]; rl.MaxRequests != 3 {
		t.Fatalf("rate limit = %+v", rl)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("ANNOTATION_KEY", "secret material")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":7070" {
		t.Fatalf("listen = %q", cfg.Listen)
	}
	if cfg.AnnotationSecret != "secret material" {
		t.Fatalf("annotation secret not taken from env")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.UploadsDir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
	cfg = Default()
	cfg.MaxUploadMB = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CatalogDB != "db/catalog.db" {
		t.Fatalf("cfg = %+v", cfg)
	}
}
