// Package monitor records per-scan registration state for offline
// visualization. It is a debugging aid, not part of the registration loop:
// sampling copies a handful of scalars and plotting happens after a run.
package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/odometry.engine/internal/odometry"
)

// ScanSample is one snapshot of the pipeline state after a Register call.
type ScanSample struct {
	ScanIdx         int
	X, Y, Z         float64
	Iterations      int
	Correspondences int
	Converged       bool
	TwistNorm       float64
	MapPoints       int
}

// TrajectoryPlotter accumulates per-scan samples over a run and renders
// them as PNG charts afterwards.
type TrajectoryPlotter struct {
	mu      sync.Mutex
	samples []ScanSample
	scanIdx int
}

// NewTrajectoryPlotter creates an empty plotter.
func NewTrajectoryPlotter() *TrajectoryPlotter {
	return &TrajectoryPlotter{}
}

// Sample records the state after one registered scan.
func (tp *TrajectoryPlotter) Sample(pose odometry.Pose, diag odometry.Diagnostics, mapPoints int) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	tp.samples = append(tp.samples, ScanSample{
		ScanIdx:         tp.scanIdx,
		X:               pose.T.X,
		Y:               pose.T.Y,
		Z:               pose.T.Z,
		Iterations:      diag.Iterations,
		Correspondences: diag.Correspondences,
		Converged:       diag.Converged,
		TwistNorm:       diag.TwistNorm,
		MapPoints:       mapPoints,
	})
	tp.scanIdx++
}

// SampleCount returns how many scans have been recorded.
func (tp *TrajectoryPlotter) SampleCount() int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return len(tp.samples)
}

// GeneratePlots writes trajectory.png, iterations.png and map_size.png
// into outputDir, creating it if needed. Returns the number of plots
// written.
func (tp *TrajectoryPlotter) GeneratePlots(outputDir string) (int, error) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if len(tp.samples) == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create output dir: %w", err)
	}

	count := 0
	if err := tp.plotTrajectory(filepath.Join(outputDir, "trajectory.png")); err != nil {
		return count, err
	}
	count++
	if err := tp.plotIterations(filepath.Join(outputDir, "iterations.png")); err != nil {
		return count, err
	}
	count++
	if err := tp.plotMapSize(filepath.Join(outputDir, "map_size.png")); err != nil {
		return count, err
	}
	count++
	return count, nil
}

// plotTrajectory renders the estimated XY path, marking non-converged
// scans as scatter points.
func (tp *TrajectoryPlotter) plotTrajectory(path string) error {
	p := plot.New()
	p.Title.Text = "Estimated Trajectory (XY)"
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	pathPts := make(plotter.XYs, len(tp.samples))
	var badPts plotter.XYs
	for i, s := range tp.samples {
		pathPts[i] = plotter.XY{X: s.X, Y: s.Y}
		if !s.Converged {
			badPts = append(badPts, plotter.XY{X: s.X, Y: s.Y})
		}
	}

	line, err := plotter.NewLine(pathPts)
	if err != nil {
		return err
	}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("path", line)

	if len(badPts) > 0 {
		scatter, err := plotter.NewScatter(badPts)
		if err != nil {
			return err
		}
		scatter.Color = color.RGBA{R: 255, A: 255}
		p.Add(scatter)
		p.Legend.Add("non-converged", scatter)
	}

	return p.Save(6*vg.Inch, 6*vg.Inch, path)
}

// plotIterations renders optimizer iterations and accepted correspondences
// per scan.
func (tp *TrajectoryPlotter) plotIterations(path string) error {
	p := plot.New()
	p.Title.Text = "Registration Effort"
	p.X.Label.Text = "Scan"
	p.Y.Label.Text = "Count"

	iterPts := make(plotter.XYs, len(tp.samples))
	corrPts := make(plotter.XYs, len(tp.samples))
	for i, s := range tp.samples {
		iterPts[i] = plotter.XY{X: float64(s.ScanIdx), Y: float64(s.Iterations)}
		corrPts[i] = plotter.XY{X: float64(s.ScanIdx), Y: float64(s.Correspondences)}
	}

	iterLine, err := plotter.NewLine(iterPts)
	if err != nil {
		return err
	}
	iterLine.Width = vg.Points(1)
	p.Add(iterLine)
	p.Legend.Add("iterations", iterLine)

	corrLine, err := plotter.NewLine(corrPts)
	if err != nil {
		return err
	}
	corrLine.Width = vg.Points(1)
	corrLine.Color = color.RGBA{B: 255, A: 255}
	p.Add(corrLine)
	p.Legend.Add("correspondences", corrLine)

	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}

// plotMapSize renders the local map's point count per scan.
func (tp *TrajectoryPlotter) plotMapSize(path string) error {
	p := plot.New()
	p.Title.Text = "Local Map Size"
	p.X.Label.Text = "Scan"
	p.Y.Label.Text = "Points"

	pts := make(plotter.XYs, len(tp.samples))
	for i, s := range tp.samples {
		pts[i] = plotter.XY{X: float64(s.ScanIdx), Y: float64(s.MapPoints)}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Width = vg.Points(1)
	p.Add(line)

	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
