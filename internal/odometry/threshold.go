package odometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// AdaptiveThreshold self-tunes the correspondence rejection radius from
// the discrepancy between the constant-velocity motion prediction and the
// motion the optimizer actually converged to. Quiet motion tightens the
// radius, aggressive motion widens it.
type AdaptiveThreshold struct {
	initialThreshold float64
	minMotionTh      float64
	maxRange         float64

	modelSSE   float64
	numSamples int
}

// NewAdaptiveThreshold seeds the estimator with initialThreshold; the
// returned radius never drops below minMotionTh. maxRange converts
// rotational deviation into a worst-case point displacement.
func NewAdaptiveThreshold(initialThreshold, minMotionTh, maxRange float64) *AdaptiveThreshold {
	return &AdaptiveThreshold{
		initialThreshold: initialThreshold,
		minMotionTh:      minMotionTh,
		maxRange:         maxRange,
	}
}

// Update records the residual between the predicted and the optimized
// motion for a completed scan. Deviations below the motion floor are
// considered noise and ignored.
func (a *AdaptiveThreshold) Update(predicted, optimized Pose) {
	deviation := predicted.Inverse().Mul(optimized)
	err := a.modelError(deviation)
	if err > a.minMotionTh {
		a.modelSSE += err * err
		a.numSamples++
	}
}

// CurrentThreshold returns the correspondence rejection radius for the
// next scan: the running RMS of recorded deviations, floored at
// minMotionTh, or the initial seed while no deviation has been observed.
func (a *AdaptiveThreshold) CurrentThreshold() float64 {
	if a.numSamples == 0 {
		return math.Max(a.initialThreshold, a.minMotionTh)
	}
	return math.Max(math.Sqrt(a.modelSSE/float64(a.numSamples)), a.minMotionTh)
}

// modelError bounds the displacement a map point at maxRange undergoes
// under the deviation: the chord swept by its rotation plus its
// translation.
func (a *AdaptiveThreshold) modelError(deviation Pose) float64 {
	theta := deviation.RotationAngle()
	deltaRot := 2 * a.maxRange * math.Sin(theta/2)
	return deltaRot + r3.Norm(deviation.T)
}
