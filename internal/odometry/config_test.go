package odometry

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.VoxelSize != 1.0 || cfg.MaxRange != 100.0 || cfg.MinRange != 1.0 {
		t.Errorf("unexpected map defaults: %+v", cfg)
	}
	if cfg.MaxPointsPerVoxel != 20 {
		t.Errorf("expected MaxPointsPerVoxel 20, got %d", cfg.MaxPointsPerVoxel)
	}
	if cfg.MaxPointAgeSeconds == nil || *cfg.MaxPointAgeSeconds != 30.0 {
		t.Errorf("expected default point age 30s, got %v", cfg.MaxPointAgeSeconds)
	}
	if math.Abs(cfg.MaxAngleBetweenPoses-math.Pi/18) > 1e-12 {
		t.Errorf("expected 10 degree pose angle bound, got %v", cfg.MaxAngleBetweenPoses)
	}
}

func TestConfig_ValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero voxel size", func(c *Config) { c.VoxelSize = 0 }},
		{"inverted range bounds", func(c *Config) { c.MinRange = 50; c.MaxRange = 10 }},
		{"negative min range", func(c *Config) { c.MinRange = -1 }},
		{"zero cell capacity", func(c *Config) { c.MaxPointsPerVoxel = 0 }},
		{"zero motion floor", func(c *Config) { c.MinMotionTh = 0 }},
		{"zero iterations", func(c *Config) { c.MaxNumIterations = 0 }},
		{"zero convergence criterion", func(c *Config) { c.ConvergenceCriterion = 0 }},
		{"negative threads", func(c *Config) { c.MaxNumThreads = -1 }},
		{"non-positive point age", func(c *Config) { age := -5.0; c.MaxPointAgeSeconds = &age }},
		{"deskew without distance bound", func(c *Config) { c.Deskew = true; c.MaxDistanceBetweenPoses = 0 }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadConfig_OverridesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "odometry.json")
	data := `{"voxel_size": 0.5, "max_num_threads": 4, "deskew": true}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.VoxelSize != 0.5 {
		t.Errorf("expected voxel_size override 0.5, got %v", cfg.VoxelSize)
	}
	if cfg.MaxNumThreads != 4 {
		t.Errorf("expected max_num_threads 4, got %d", cfg.MaxNumThreads)
	}
	if !cfg.Deskew {
		t.Error("expected deskew enabled")
	}
	// Untouched fields keep their defaults.
	if cfg.MaxRange != 100.0 || cfg.MaxNumIterations != 500 {
		t.Errorf("defaults not preserved: %+v", cfg)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(bad); err == nil {
		t.Error("expected error for malformed JSON")
	}

	invalid := filepath.Join(t.TempDir(), "invalid.json")
	if err := os.WriteFile(invalid, []byte(`{"voxel_size": -1}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(invalid); err == nil {
		t.Error("expected validation error for negative voxel size")
	}
}
