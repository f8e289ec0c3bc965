package main

import (
	"os"
	"path/filepath"
	"testing"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestFlagDefaults(t *testing.T) {
	if *listen != ":8000" {
		t.Errorf("expected listen default :8000, got %q", *listen)
	}
	if *dbPath != "geotracks.db" {
		t.Errorf("expected db default geotracks.db, got %q", *dbPath)
	}
	if *configPath != "" {
		t.Errorf("expected empty config default, got %q", *configPath)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "analysis.yaml")
	if err := os.WriteFile(path, []byte("max_process_rows: 1000\nef_kg_per_km: 0.25\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		path     string
		env      map[string]string
		wantRows int
		wantEF   float64
		wantErr  bool
	}{
		{name: "file", path: path, wantRows: 1000, wantEF: 0.25},
		{name: "env overrides file", path: path, env: map[string]string{"MAX_PROCESS_ROWS": "50"}, wantRows: 50, wantEF: 0.25},
		{name: "bad env", path: path, env: map[string]string{"EF_KG_PER_KM": "lots"}, wantErr: true},
		{name: "missing file", path: filepath.Join(dir, "nope.yaml"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(tt.path, lookupFrom(tt.env))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("loadConfig: %v", err)
			}
			if got := cfg.GetMaxProcessRows(); got != tt.wantRows {
				t.Errorf("max rows = %d, want %d", got, tt.wantRows)
			}
			if got := cfg.GetEmissionsFactorKgPerKm(); got != tt.wantEF {
				t.Errorf("ef = %v, want %v", got, tt.wantEF)
			}
		})
	}
}
