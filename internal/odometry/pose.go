package odometry

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// smallAngle is the rotation magnitude (radians) below which closed-form
// SE(3) coefficients are replaced by their Taylor expansions.
const smallAngle = 1e-8

// Pose is a rigid transform: rotation R (unit quaternion) followed by
// translation T. Poses produced by the pipeline are expressed in a fixed
// odometry frame.
type Pose struct {
	R quat.Number
	T r3.Vec
}

// IdentityPose returns the identity transform.
func IdentityPose() Pose {
	return Pose{R: quat.Number{Real: 1}}
}

// Mul composes two poses: (p.Mul(q)).Apply(v) == p.Apply(q.Apply(v)).
func (p Pose) Mul(q Pose) Pose {
	return Pose{
		R: normalizeQuat(quat.Mul(p.R, q.R)),
		T: r3.Add(p.rotate(q.T), p.T),
	}
}

// Inverse returns the pose q with p.Mul(q) == identity.
func (p Pose) Inverse() Pose {
	rInv := quat.Conj(p.R)
	return Pose{
		R: rInv,
		T: r3.Scale(-1, r3.Rotation(rInv).Rotate(p.T)),
	}
}

// Apply transforms a vector by the pose.
func (p Pose) Apply(v r3.Vec) r3.Vec {
	return r3.Add(p.rotate(v), p.T)
}

// TransformPoint applies the pose to a point's coordinates, preserving
// intensity and timestamp.
func (p Pose) TransformPoint(pt Point) Point {
	v := p.Apply(pt.Vec())
	pt.X, pt.Y, pt.Z = v.X, v.Y, v.Z
	return pt
}

func (p Pose) rotate(v r3.Vec) r3.Vec {
	return r3.Rotation(p.R).Rotate(v)
}

// RotationAngle returns the magnitude in radians of the pose's rotation.
func (p Pose) RotationAngle() float64 {
	return r3.Norm(rotationVector(p.R))
}

// Twist is an incremental rigid motion in se(3): the first three components
// are translation, the last three rotation (axis scaled by angle).
type Twist [6]float64

// Norm returns the Euclidean norm of the twist, used as the optimizer's
// convergence metric.
func (t Twist) Norm() float64 {
	var s float64
	for _, v := range t {
		s += v * v
	}
	return math.Sqrt(s)
}

// ExpTwist maps a twist to the rigid transform it generates. Stable for
// arbitrarily small rotations.
func ExpTwist(tw Twist) Pose {
	rho := r3.Vec{X: tw[0], Y: tw[1], Z: tw[2]}
	omega := r3.Vec{X: tw[3], Y: tw[4], Z: tw[5]}
	theta := r3.Norm(omega)

	// Closed form of the left Jacobian applied to rho:
	// V*rho = rho + a*(w x rho) + b*(w x (w x rho)).
	var a, b float64
	if theta < smallAngle {
		a = 0.5 - theta*theta/24
		b = 1.0/6.0 - theta*theta/120
	} else {
		a = (1 - math.Cos(theta)) / (theta * theta)
		b = (theta - math.Sin(theta)) / (theta * theta * theta)
	}
	c1 := r3.Cross(omega, rho)
	c2 := r3.Cross(omega, c1)
	return Pose{
		R: quatFromRotationVector(omega),
		T: r3.Add(rho, r3.Add(r3.Scale(a, c1), r3.Scale(b, c2))),
	}
}

// LogPose maps a rigid transform to the twist that generates it, the
// inverse of ExpTwist up to the usual 2*pi rotation ambiguity.
func LogPose(p Pose) Twist {
	omega := rotationVector(p.R)
	theta := r3.Norm(omega)

	// V^-1 * t = t - 0.5*(w x t) + c*(w x (w x t)).
	var c float64
	if theta < smallAngle {
		c = 1.0/12.0 + theta*theta/720
	} else {
		c = (1 - theta*math.Sin(theta)/(2*(1-math.Cos(theta)))) / (theta * theta)
	}
	c1 := r3.Cross(omega, p.T)
	c2 := r3.Cross(omega, c1)
	rho := r3.Add(p.T, r3.Add(r3.Scale(-0.5, c1), r3.Scale(c, c2)))
	return Twist{rho.X, rho.Y, rho.Z, omega.X, omega.Y, omega.Z}
}

// quatFromRotationVector converts an axis-angle vector (axis scaled by
// angle in radians) to a unit quaternion.
func quatFromRotationVector(omega r3.Vec) quat.Number {
	theta := r3.Norm(omega)
	if theta < smallAngle {
		// First-order expansion of exp(omega/2).
		return normalizeQuat(quat.Number{
			Real: 1,
			Imag: omega.X / 2,
			Jmag: omega.Y / 2,
			Kmag: omega.Z / 2,
		})
	}
	s := math.Sin(theta/2) / theta
	return quat.Number{
		Real: math.Cos(theta / 2),
		Imag: s * omega.X,
		Jmag: s * omega.Y,
		Kmag: s * omega.Z,
	}
}

// rotationVector converts a unit quaternion to its axis-angle vector,
// choosing the representation with angle in (-pi, pi].
func rotationVector(q quat.Number) r3.Vec {
	v := r3.Vec{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	n := r3.Norm(v)
	if n < smallAngle {
		return r3.Scale(2, v)
	}
	angle := 2 * math.Atan2(n, q.Real)
	if angle > math.Pi {
		angle -= 2 * math.Pi
	}
	return r3.Scale(angle/n, v)
}

func normalizeQuat(q quat.Number) quat.Number {
	n := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// slerp spherically interpolates between two unit quaternions, taking the
// shorter arc. alpha=0 yields a, alpha=1 yields b.
func slerp(a, b quat.Number, alpha float64) quat.Number {
	dot := a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
	if dot < 0 {
		b = quat.Scale(-1, b)
		dot = -dot
	}
	if dot > 1-1e-10 {
		// Nearly parallel: linear interpolation avoids a 0/0 below.
		return normalizeQuat(quat.Add(quat.Scale(1-alpha, a), quat.Scale(alpha, b)))
	}
	theta := math.Acos(dot)
	sinTheta := math.Sin(theta)
	wa := math.Sin((1-alpha)*theta) / sinTheta
	wb := math.Sin(alpha*theta) / sinTheta
	return normalizeQuat(quat.Add(quat.Scale(wa, a), quat.Scale(wb, b)))
}
