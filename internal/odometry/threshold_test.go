package odometry

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func translationPose(x, y, z float64) Pose {
	return Pose{R: IdentityPose().R, T: r3.Vec{X: x, Y: y, Z: z}}
}

func TestAdaptiveThreshold_SeedBeforeFirstMotion(t *testing.T) {
	th := NewAdaptiveThreshold(2.0, 0.1, 100)
	if got := th.CurrentThreshold(); got != 2.0 {
		t.Errorf("expected initial threshold 2.0, got %v", got)
	}
}

func TestAdaptiveThreshold_TracksRMSOfConstantResidual(t *testing.T) {
	th := NewAdaptiveThreshold(2.0, 0.1, 100)
	// Prediction missed by a constant 0.5m translation each scan.
	for i := 0; i < 10; i++ {
		th.Update(IdentityPose(), translationPose(0.5, 0, 0))
	}
	if got := th.CurrentThreshold(); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("expected threshold to converge to 0.5, got %v", got)
	}
}

func TestAdaptiveThreshold_FloorAlwaysHolds(t *testing.T) {
	th := NewAdaptiveThreshold(2.0, 0.1, 100)
	residuals := []float64{0.0, 0.01, 0.5, 0.02, 3.0, 0.0}
	for _, r := range residuals {
		th.Update(IdentityPose(), translationPose(r, 0, 0))
		if got := th.CurrentThreshold(); got < 0.1 {
			t.Fatalf("threshold %v dropped below floor 0.1", got)
		}
	}
}

func TestAdaptiveThreshold_IgnoresSubFloorDeviations(t *testing.T) {
	th := NewAdaptiveThreshold(2.0, 0.1, 100)
	for i := 0; i < 5; i++ {
		th.Update(IdentityPose(), translationPose(0.05, 0, 0))
	}
	// Nothing exceeded the motion floor, so the seed is still in effect.
	if got := th.CurrentThreshold(); got != 2.0 {
		t.Errorf("expected seed threshold 2.0, got %v", got)
	}
}

func TestAdaptiveThreshold_RotationContributesAtRange(t *testing.T) {
	th := NewAdaptiveThreshold(2.0, 0.1, 100)
	// 0.01 rad at 100m range sweeps roughly a 1m chord.
	th.Update(IdentityPose(), ExpTwist(Twist{0, 0, 0, 0, 0, 0.01}))
	got := th.CurrentThreshold()
	want := 2 * 100 * math.Sin(0.005)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected threshold %v from rotational deviation, got %v", want, got)
	}
}
