// Package odometry implements incremental scan-to-map LiDAR registration.
//
// A stream of raw point-cloud scans is registered against a bounded local
// voxel map: each scan is range/intensity clipped, optionally motion
// compensated against an interpolated pose history, aligned to the map by
// an iterative robust point-to-point solve on SE(3), and finally merged
// into the map that the next scan registers against.
//
// The package holds no global state. All mutable state (voxel map,
// adaptive correspondence threshold, pose history) lives on an Odometry
// value owned by the caller; a single goroutine drives Register while the
// correspondence search inside one Register call fans out across a bounded
// worker pool that only reads the map.
package odometry
