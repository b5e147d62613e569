package odometry

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/odometry.engine/internal/timeutil"
)

// VoxelKey identifies one cubic cell of the map grid. Keys are the
// floor-divided integer coordinates of the cell, so distinct cells can
// never collide.
type VoxelKey struct {
	X, Y, Z int32
}

type mapPoint struct {
	Point
	insertedAt time.Time
}

// VoxelMap is a bounded hashed spatial index over the accumulated map
// points. It is mutated only between registration calls; during the
// parallel correspondence search all workers read it concurrently without
// locking, which is safe because no mutating method runs in that phase.
type VoxelMap struct {
	voxelSize         float64
	maxDistance       float64
	maxPointsPerVoxel int
	maxPointAge       *float64 // seconds; nil disables age eviction

	cells     map[VoxelKey][]mapPoint
	lastBatch []Point

	// Clock supplies insertion timestamps for age bookkeeping. Tests
	// override it with a timeutil.MockClock to simulate the passage of
	// time.
	Clock timeutil.Clock
}

// NewVoxelMap creates an empty map. maxPointAge of nil disables age-based
// eviction entirely.
func NewVoxelMap(voxelSize, maxDistance float64, maxPointsPerVoxel int, maxPointAge *float64) *VoxelMap {
	return &VoxelMap{
		voxelSize:         voxelSize,
		maxDistance:       maxDistance,
		maxPointsPerVoxel: maxPointsPerVoxel,
		maxPointAge:       maxPointAge,
		cells:             make(map[VoxelKey][]mapPoint),
		Clock:             timeutil.RealClock{},
	}
}

func (m *VoxelMap) keyFor(v r3.Vec) VoxelKey {
	return VoxelKey{
		X: int32(math.Floor(v.X / m.voxelSize)),
		Y: int32(math.Floor(v.Y / m.voxelSize)),
		Z: int32(math.Floor(v.Z / m.voxelSize)),
	}
}

// resolution is the minimum spacing enforced between points sharing a cell.
func (m *VoxelMap) resolution() float64 {
	return math.Sqrt(m.voxelSize * m.voxelSize / float64(m.maxPointsPerVoxel))
}

// Update transforms points into the odometry frame via sensorPose, inserts
// them, then evicts cells too far from the pose's translation and, if an
// age limit is configured, points past that age. Eviction runs after
// insertion so freshly inserted out-of-range points are pruned too.
func (m *VoxelMap) Update(points []Point, sensorPose Pose) {
	transformed := make([]Point, len(points))
	for i, p := range points {
		transformed[i] = sensorPose.TransformPoint(p)
	}
	m.insert(transformed)
	m.evictFar(sensorPose.T)
	if m.maxPointAge != nil {
		m.evictAged()
	}
}

// insert adds points already expressed in the odometry frame. A point is
// dropped when its cell is full or already holds a neighbor within the map
// resolution. The accepted subset is recorded as the last batch.
func (m *VoxelMap) insert(points []Point) {
	res2 := m.resolution() * m.resolution()
	now := m.Clock.Now()
	accepted := make([]Point, 0, len(points))

	for _, p := range points {
		key := m.keyFor(p.Vec())
		cell, ok := m.cells[key]
		if !ok {
			m.cells[key] = []mapPoint{{Point: p, insertedAt: now}}
			accepted = append(accepted, p)
			continue
		}
		if len(cell) >= m.maxPointsPerVoxel {
			continue
		}
		tooClose := false
		for _, q := range cell {
			if r3.Norm2(r3.Sub(q.Vec(), p.Vec())) < res2 {
				tooClose = true
				break
			}
		}
		if tooClose {
			continue
		}
		m.cells[key] = append(cell, mapPoint{Point: p, insertedAt: now})
		accepted = append(accepted, p)
	}
	m.lastBatch = accepted
}

// evictFar removes every cell whose first point lies at squared distance
// >= maxDistance^2 from origin. The first point stands in for the whole
// cell; at one cell edge of error this is well inside the range slack.
func (m *VoxelMap) evictFar(origin r3.Vec) {
	max2 := m.maxDistance * m.maxDistance
	for key, cell := range m.cells {
		if r3.Norm2(r3.Sub(cell[0].Vec(), origin)) >= max2 {
			delete(m.cells, key)
		}
	}
}

// evictAged drops points older than the configured age limit and removes
// cells left empty.
func (m *VoxelMap) evictAged() {
	maxAge := *m.maxPointAge
	now := m.Clock.Now()
	for key, cell := range m.cells {
		kept := cell[:0]
		for _, p := range cell {
			if now.Sub(p.insertedAt).Seconds() <= maxAge {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(m.cells, key)
		} else {
			m.cells[key] = kept
		}
	}
}

// NearestNeighbor returns the closest map point to query among the query's
// own voxel and its 26 geometric neighbors, with its distance. ok is false
// when every cell in that block is empty; callers treat an unmatched query
// as an outlier. Ties resolve deterministically: neighbor cells are
// visited in x, then y, then z order and points within a cell in insertion
// order, the earlier candidate winning on equal distance.
func (m *VoxelMap) NearestNeighbor(query r3.Vec) (Point, float64, bool) {
	center := m.keyFor(query)
	var (
		best  Point
		best2 = math.Inf(1)
		found bool
	)
	for dx := int32(-1); dx <= 1; dx++ {
		for dy := int32(-1); dy <= 1; dy++ {
			for dz := int32(-1); dz <= 1; dz++ {
				key := VoxelKey{X: center.X + dx, Y: center.Y + dy, Z: center.Z + dz}
				for _, p := range m.cells[key] {
					d2 := r3.Norm2(r3.Sub(p.Vec(), query))
					if d2 < best2 {
						best, best2, found = p.Point, d2, true
					}
				}
			}
		}
	}
	if !found {
		return Point{}, 0, false
	}
	return best, math.Sqrt(best2), true
}

// IsEmpty reports whether the map holds no points.
func (m *VoxelMap) IsEmpty() bool {
	return len(m.cells) == 0
}

// PointCount returns the total number of stored points.
func (m *VoxelMap) PointCount() int {
	n := 0
	for _, cell := range m.cells {
		n += len(cell)
	}
	return n
}

// Points returns all stored points in an unspecified order.
func (m *VoxelMap) Points() []Point {
	out := make([]Point, 0, m.PointCount())
	for _, cell := range m.cells {
		for _, p := range cell {
			out = append(out, p.Point)
		}
	}
	return out
}

// LastBatch returns the points accepted by the most recent insertion,
// already in the odometry frame. Useful as a per-scan map-growth
// diagnostic.
func (m *VoxelMap) LastBatch() []Point {
	return m.lastBatch
}

// OldestPointAge returns the age in seconds of the oldest stored point.
// ok is false on an empty map.
func (m *VoxelMap) OldestPointAge() (float64, bool) {
	now := m.Clock.Now()
	oldest := 0.0
	found := false
	for _, cell := range m.cells {
		for _, p := range cell {
			if age := now.Sub(p.insertedAt).Seconds(); !found || age > oldest {
				oldest, found = age, true
			}
		}
	}
	return oldest, found
}

// CountYoungerThan returns how many stored points are at most maxAge
// seconds old.
func (m *VoxelMap) CountYoungerThan(maxAge float64) int {
	now := m.Clock.Now()
	n := 0
	for _, cell := range m.cells {
		for _, p := range cell {
			if now.Sub(p.insertedAt).Seconds() <= maxAge {
				n++
			}
		}
	}
	return n
}
