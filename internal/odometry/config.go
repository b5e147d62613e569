package odometry

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Config is the immutable tunable snapshot for one odometry instance.
// Load it once at startup; the pipeline never mutates it.
type Config struct {
	// Map parameters
	VoxelSize         float64 `json:"voxel_size"`           // Cell edge length in meters
	MaxRange          float64 `json:"max_range"`            // Input clip and map eviction radius (meters)
	MinRange          float64 `json:"min_range"`            // Returns closer than this are dropped (meters)
	MaxPointsPerVoxel int     `json:"max_points_per_voxel"` // Cell capacity
	MinIntensity      float32 `json:"min_intensity"`        // Drop returns below this intensity; 0 disables

	// Adaptive threshold parameters
	MinMotionTh      float64 `json:"min_motion_th"`     // Floor for the correspondence radius
	InitialThreshold float64 `json:"initial_threshold"` // Radius before any motion has been observed

	// Registration parameters
	MaxNumIterations     int     `json:"max_num_iterations"`    // Optimizer iteration cap
	ConvergenceCriterion float64 `json:"convergence_criterion"` // Twist norm below which iteration stops
	MaxNumThreads        int     `json:"max_num_threads"`       // Correspondence workers; 0 uses all CPUs

	// Motion compensation
	Deskew bool `json:"deskew"` // Enable capture-time skew correction

	// Point aging; nil disables age-based eviction
	MaxPointAgeSeconds *float64 `json:"max_point_age_seconds,omitempty"`

	// Pose-history sanity bounds for deskew
	MaxDistanceBetweenPoses float64 `json:"max_distance_between_poses"` // Meters between consecutive samples
	MaxAngleBetweenPoses    float64 `json:"max_angle_between_poses"`    // Radians between consecutive samples
}

// DefaultConfig returns the operational defaults.
func DefaultConfig() Config {
	maxAge := 30.0
	return Config{
		VoxelSize:         1.0,
		MaxRange:          100.0,
		MinRange:          1.0,
		MaxPointsPerVoxel: 20,
		MinIntensity:      0,

		MinMotionTh:      0.1,
		InitialThreshold: 2.0,

		MaxNumIterations:     500,
		ConvergenceCriterion: 1e-4,
		MaxNumThreads:        0,

		Deskew: false,

		MaxPointAgeSeconds: &maxAge,

		MaxDistanceBetweenPoses: 0.05,
		MaxAngleBetweenPoses:    math.Pi / 18,
	}
}

// Validate checks the configuration for values the pipeline cannot run
// with.
func (c Config) Validate() error {
	if c.VoxelSize <= 0 {
		return fmt.Errorf("VoxelSize must be positive, got %v", c.VoxelSize)
	}
	if c.MinRange < 0 || c.MaxRange <= c.MinRange {
		return fmt.Errorf("range bounds invalid: min %v, max %v", c.MinRange, c.MaxRange)
	}
	if c.MaxPointsPerVoxel < 1 {
		return fmt.Errorf("MaxPointsPerVoxel must be at least 1, got %d", c.MaxPointsPerVoxel)
	}
	if c.MinMotionTh <= 0 {
		return fmt.Errorf("MinMotionTh must be positive, got %v", c.MinMotionTh)
	}
	if c.InitialThreshold <= 0 {
		return fmt.Errorf("InitialThreshold must be positive, got %v", c.InitialThreshold)
	}
	if c.MaxNumIterations < 1 {
		return fmt.Errorf("MaxNumIterations must be at least 1, got %d", c.MaxNumIterations)
	}
	if c.ConvergenceCriterion <= 0 {
		return fmt.Errorf("ConvergenceCriterion must be positive, got %v", c.ConvergenceCriterion)
	}
	if c.MaxNumThreads < 0 {
		return fmt.Errorf("MaxNumThreads must be non-negative, got %d", c.MaxNumThreads)
	}
	if c.MaxPointAgeSeconds != nil && *c.MaxPointAgeSeconds <= 0 {
		return fmt.Errorf("MaxPointAgeSeconds must be positive when set, got %v", *c.MaxPointAgeSeconds)
	}
	if c.Deskew {
		if c.MaxDistanceBetweenPoses <= 0 {
			return fmt.Errorf("MaxDistanceBetweenPoses must be positive when deskew is enabled, got %v", c.MaxDistanceBetweenPoses)
		}
		if c.MaxAngleBetweenPoses <= 0 {
			return fmt.Errorf("MaxAngleBetweenPoses must be positive when deskew is enabled, got %v", c.MaxAngleBetweenPoses)
		}
	}
	return nil
}

// LoadConfig reads a JSON config file. Fields absent from the file keep
// their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
