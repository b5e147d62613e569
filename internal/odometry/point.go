package odometry

import "gonum.org/v1/gonum/spatial/r3"

// Point is a single LiDAR return. Coordinates are Cartesian meters in the
// sensor frame on input and in the odometry frame once stored in the map.
// Timestamp is seconds relative to the start of the scan's pose history;
// it only has to be comparable within one scan.
type Point struct {
	X, Y, Z   float64
	Intensity float32
	Timestamp float64
}

// Vec returns the point's coordinates as an r3 vector.
func (p Point) Vec() r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}

// SquaredRange returns the squared distance from the sensor origin.
func (p Point) SquaredRange() float64 {
	return p.X*p.X + p.Y*p.Y + p.Z*p.Z
}

// ClipByRange returns the points whose range from the sensor origin lies
// within [minRange, maxRange]. The input slice is not modified.
func ClipByRange(points []Point, minRange, maxRange float64) []Point {
	min2 := minRange * minRange
	max2 := maxRange * maxRange
	clipped := make([]Point, 0, len(points))
	for _, p := range points {
		s := p.SquaredRange()
		if s < min2 || s > max2 {
			continue
		}
		clipped = append(clipped, p)
	}
	return clipped
}

// ClipByRangeIntensity additionally drops returns below minIntensity.
// Weak returns are typically rain, dust or blooming artefacts.
func ClipByRangeIntensity(points []Point, minRange, maxRange float64, minIntensity float32) []Point {
	min2 := minRange * minRange
	max2 := maxRange * maxRange
	clipped := make([]Point, 0, len(points))
	for _, p := range points {
		s := p.SquaredRange()
		if s < min2 || s > max2 || p.Intensity < minIntensity {
			continue
		}
		clipped = append(clipped, p)
	}
	return clipped
}
