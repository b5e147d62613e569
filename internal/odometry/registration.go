package odometry

import (
	"fmt"
	"log"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Diagnostics reports how a single Register call went. None of the flags
// are fatal; they tell the caller how much to trust the returned pose.
type Diagnostics struct {
	Iterations        int     // Optimizer iterations actually run
	Correspondences   int     // Accepted correspondences in the final iteration
	Converged         bool    // Twist norm fell below the convergence criterion
	TwistNorm         float64 // Norm of the last incremental twist
	SourcePoints      int     // Points surviving preprocessing
	DeskewApplied     bool    // Motion compensation ran on this scan
	DegradedInput     bool    // Scan was empty after clipping
	NoCorrespondences bool    // An iteration found no usable correspondence
}

// Odometry is the sequential per-scan registration state machine. One
// caller drives Register; concurrency exists only inside the
// correspondence stage of a single call.
type Odometry struct {
	cfg       Config
	voxelMap  *VoxelMap
	threshold *AdaptiveThreshold
	poses     []Pose
}

// New creates an odometry pipeline from a validated configuration.
func New(cfg Config) (*Odometry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("odometry config: %w", err)
	}
	return &Odometry{
		cfg:       cfg,
		voxelMap:  NewVoxelMap(cfg.VoxelSize, cfg.MaxRange, cfg.MaxPointsPerVoxel, cfg.MaxPointAgeSeconds),
		threshold: NewAdaptiveThreshold(cfg.InitialThreshold, cfg.MinMotionTh, cfg.MaxRange),
	}, nil
}

// Map exposes the local map for introspection. Callers must not query it
// concurrently with Register.
func (o *Odometry) Map() *VoxelMap {
	return o.voxelMap
}

// Poses returns the accepted pose estimates so far, oldest first.
func (o *Odometry) Poses() []Pose {
	return o.poses
}

// LastPose returns the most recent accepted pose, identity before the
// first scan.
func (o *Odometry) LastPose() Pose {
	if len(o.poses) == 0 {
		return IdentityPose()
	}
	return o.poses[len(o.poses)-1]
}

// Register estimates the sensor pose for one scan and merges the scan into
// the local map. poseHistory is optional; it is only consumed when deskew
// is enabled. The returned pose is always usable: degenerate input or
// non-convergence degrade the diagnostics, never fail the call.
func (o *Odometry) Register(points []Point, poseHistory []TimedPose) (Pose, Diagnostics) {
	var diag Diagnostics

	source := o.preprocess(points)
	diag.SourcePoints = len(source)
	if len(source) == 0 {
		diag.DegradedInput = true
	}

	if o.cfg.Deskew && len(poseHistory) >= 2 && len(source) > 0 {
		if err := DeskewScan(source, poseHistory, o.cfg.MaxDistanceBetweenPoses, o.cfg.MaxAngleBetweenPoses); err != nil {
			log.Printf("odometry: skipping deskew: %v", err)
		} else {
			diag.DeskewApplied = true
		}
	}

	prediction := o.predictMotion()
	initialGuess := o.LastPose().Mul(prediction)
	pose := initialGuess

	sigma := o.threshold.CurrentThreshold()
	kernel := sigma / 3

	for iter := 0; iter < o.cfg.MaxNumIterations && len(source) > 0; iter++ {
		H, g, n := o.accumulateCorrespondences(source, pose, sigma, kernel)
		if n == 0 {
			// Empty map on early scans, or the scene moved out of reach.
			diag.NoCorrespondences = true
			pose = initialGuess
			break
		}
		dx, ok := solveNormalEquations(H, g)
		if !ok {
			break
		}
		pose = ExpTwist(dx).Mul(pose)
		diag.Iterations = iter + 1
		diag.Correspondences = n
		diag.TwistNorm = dx.Norm()
		if diag.TwistNorm < o.cfg.ConvergenceCriterion {
			diag.Converged = true
			break
		}
	}
	if !diag.Converged && !diag.NoCorrespondences && diag.Iterations == o.cfg.MaxNumIterations {
		log.Printf("odometry: registration hit iteration cap %d with twist norm %g", o.cfg.MaxNumIterations, diag.TwistNorm)
	}

	// Mutation phase: all correspondence workers have joined by here.
	o.voxelMap.Update(source, pose)
	o.threshold.Update(initialGuess, pose)
	o.poses = append(o.poses, pose)
	return pose, diag
}

func (o *Odometry) preprocess(points []Point) []Point {
	if o.cfg.MinIntensity > 0 {
		return ClipByRangeIntensity(points, o.cfg.MinRange, o.cfg.MaxRange, o.cfg.MinIntensity)
	}
	return ClipByRange(points, o.cfg.MinRange, o.cfg.MaxRange)
}

// predictMotion extrapolates the relative motion of the next scan assuming
// constant velocity over the last two accepted poses.
func (o *Odometry) predictMotion() Pose {
	n := len(o.poses)
	if n < 2 {
		return IdentityPose()
	}
	return o.poses[n-2].Inverse().Mul(o.poses[n-1])
}

// normalEquations is one worker's partial 6x6 Gauss-Newton system.
type normalEquations struct {
	H [6][6]float64
	g [6]float64
	n int
}

func (ne *normalEquations) add(other *normalEquations) {
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			ne.H[i][j] += other.H[i][j]
		}
		ne.g[i] += other.g[i]
	}
	ne.n += other.n
}

// accumulateCorrespondences is the fork-join parallel stage: source points
// are partitioned across the worker pool, each worker matches its chunk
// against the map (read-only here) and accumulates a partial system, and
// the partials are summed in fixed chunk order after all workers join.
func (o *Odometry) accumulateCorrespondences(source []Point, pose Pose, sigma, kernel float64) ([6][6]float64, [6]float64, int) {
	workers := o.cfg.MaxNumThreads
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(source) {
		workers = len(source)
	}

	partials := make([]normalEquations, workers)
	chunk := (len(source) + workers - 1) / workers

	var eg errgroup.Group
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > len(source) {
			hi = len(source)
		}
		ne := &partials[w]
		pts := source[lo:hi]
		eg.Go(func() error {
			o.accumulateChunk(ne, pts, pose, sigma, kernel)
			return nil
		})
	}
	_ = eg.Wait() // workers never return an error

	var total normalEquations
	for w := range partials {
		total.add(&partials[w])
	}
	return total.H, total.g, total.n
}

// accumulateChunk folds one chunk of source points into a partial system.
// Residuals use a Geman-McClure style kernel so stray correspondences near
// the rejection radius carry little weight.
func (o *Odometry) accumulateChunk(ne *normalEquations, pts []Point, pose Pose, sigma, kernel float64) {
	for _, p := range pts {
		q := pose.Apply(p.Vec())
		neighbor, dist, ok := o.voxelMap.NearestNeighbor(q)
		if !ok || dist > sigma {
			continue
		}
		resid := r3.Sub(q, neighbor.Vec())
		w := kernel * kernel / ((kernel + r3.Norm2(resid)) * (kernel + r3.Norm2(resid)))

		// Jacobian of the residual wrt a left-multiplied twist:
		// translation block I, rotation block -[q]x.
		var J [3][6]float64
		J[0][0], J[1][1], J[2][2] = 1, 1, 1
		J[0][4], J[0][5] = q.Z, -q.Y
		J[1][3], J[1][5] = -q.Z, q.X
		J[2][3], J[2][4] = q.Y, -q.X

		r := [3]float64{resid.X, resid.Y, resid.Z}
		for i := 0; i < 6; i++ {
			for k := 0; k < 3; k++ {
				if J[k][i] == 0 {
					continue
				}
				for j := i; j < 6; j++ {
					ne.H[i][j] += w * J[k][i] * J[k][j]
				}
				ne.g[i] += w * J[k][i] * r[k]
			}
		}
		ne.n++
	}
	// Mirror the accumulated upper triangle.
	for i := 1; i < 6; i++ {
		for j := 0; j < i; j++ {
			ne.H[i][j] = ne.H[j][i]
		}
	}
}

// solveNormalEquations solves H*dx = -g. ok is false when the system is
// singular, e.g. a scan with no geometric constraints in some direction.
func solveNormalEquations(H [6][6]float64, g [6]float64) (Twist, bool) {
	data := make([]float64, 36)
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			data[i*6+j] = H[i][j]
		}
	}
	rhs := mat.NewVecDense(6, []float64{-g[0], -g[1], -g[2], -g[3], -g[4], -g[5]})
	dx := mat.NewVecDense(6, nil)

	var chol mat.Cholesky
	if chol.Factorize(mat.NewSymDense(6, data)) {
		if err := chol.SolveVecTo(dx, rhs); err == nil {
			return vecToTwist(dx), true
		}
	}
	// Not positive definite; fall back to a general solve.
	if err := dx.SolveVec(mat.NewDense(6, 6, data), rhs); err != nil {
		return Twist{}, false
	}
	return vecToTwist(dx), true
}

func vecToTwist(v *mat.VecDense) Twist {
	var tw Twist
	for i := 0; i < 6; i++ {
		tw[i] = v.AtVec(i)
	}
	return tw
}
