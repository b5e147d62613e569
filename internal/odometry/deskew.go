package odometry

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// TimedPose is one sample of the sensor's interpolated pose history,
// timestamped on the same clock as Point.Timestamp.
type TimedPose struct {
	Time float64
	Pose Pose
}

// DeskewScan corrects per-point capture-time skew in place: every point is
// re-expressed in the sensor frame at the scan's reference time (its latest
// point timestamp) using the pose interpolated from poses at the point's
// own capture time.
//
// With fewer than two pose samples the scan is left untouched and nil is
// returned. An invalid history (non-monotonic sample times, or a
// consecutive pose pair whose translation exceeds maxPoseDistance meters or
// whose rotation exceeds maxPoseAngle radians, as after a relocalization
// jump) also leaves the scan untouched and returns a descriptive error;
// callers treat this as a recoverable skip, not a failure.
func DeskewScan(points []Point, poses []TimedPose, maxPoseDistance, maxPoseAngle float64) error {
	if len(poses) < 2 {
		return nil
	}
	if err := validatePoseHistory(poses, maxPoseDistance, maxPoseAngle); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	refTime := points[0].Timestamp
	for _, p := range points[1:] {
		if p.Timestamp > refTime {
			refTime = p.Timestamp
		}
	}
	refInv := interpolatePose(poses, refTime).Inverse()

	for i := range points {
		at := interpolatePose(poses, points[i].Timestamp)
		corr := refInv.Mul(at)
		v := corr.Apply(points[i].Vec())
		points[i].X, points[i].Y, points[i].Z = v.X, v.Y, v.Z
	}
	return nil
}

func validatePoseHistory(poses []TimedPose, maxPoseDistance, maxPoseAngle float64) error {
	for i := 0; i < len(poses)-1; i++ {
		a, b := poses[i], poses[i+1]
		if b.Time <= a.Time {
			return fmt.Errorf("pose history not strictly increasing at sample %d: %v >= %v", i, a.Time, b.Time)
		}
		if d := r3.Norm(r3.Sub(b.Pose.T, a.Pose.T)); d > maxPoseDistance {
			return fmt.Errorf("pose jump of %.3fm between samples %d and %d exceeds %.3fm", d, i, i+1, maxPoseDistance)
		}
		delta := a.Pose.Inverse().Mul(b.Pose)
		if ang := delta.RotationAngle(); ang > maxPoseAngle {
			return fmt.Errorf("pose rotation of %.4frad between samples %d and %d exceeds %.4frad", ang, i, i+1, maxPoseAngle)
		}
	}
	return nil
}

// interpolatePose evaluates the pose history at time t. Times outside the
// sampled span clamp to the first or last sample; a zero-length bracket
// resolves to its earlier pose.
func interpolatePose(poses []TimedPose, t float64) Pose {
	if t <= poses[0].Time {
		return poses[0].Pose
	}
	last := len(poses) - 1
	if t >= poses[last].Time {
		return poses[last].Pose
	}
	// First sample with Time >= t; its predecessor starts the bracket.
	hi := sort.Search(len(poses), func(i int) bool { return poses[i].Time >= t })
	lo := hi - 1
	span := poses[hi].Time - poses[lo].Time
	if span <= 0 {
		return poses[lo].Pose
	}
	alpha := (t - poses[lo].Time) / span
	return Pose{
		R: slerp(poses[lo].Pose.R, poses[hi].Pose.R, alpha),
		T: r3.Add(r3.Scale(1-alpha, poses[lo].Pose.T), r3.Scale(alpha, poses[hi].Pose.T)),
	}
}
