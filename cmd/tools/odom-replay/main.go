// Package main provides an offline replay tool for the odometry pipeline.
// It reads a directory of per-scan CSV files (rows: timestamp,x,y,z,intensity,
// sorted by file name into scan order), registers each scan, and optionally
// persists the trajectory to SQLite and renders summary plots.
package main

import (
	"database/sql"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/odometry.engine/internal/odometry"
	"github.com/banshee-data/odometry.engine/internal/odometry/monitor"
	sqlitestore "github.com/banshee-data/odometry.engine/internal/odometry/storage/sqlite"
	"github.com/banshee-data/odometry.engine/internal/version"
)

func main() {
	var (
		scanDir    = flag.String("scans", "", "directory of per-scan CSV files (required)")
		configPath = flag.String("config", "", "odometry config JSON; defaults used when empty")
		dbPath     = flag.String("db", "", "SQLite file to record the trajectory into (optional)")
		plotDir    = flag.String("plots", "", "directory for summary plots (optional)")
		runID      = flag.String("run-id", "", "trajectory run identifier; generated when empty")
		verbose    = flag.Bool("v", false, "log every scan instead of a final summary")
		showVer    = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVer {
		fmt.Println(version.String())
		return
	}

	if *scanDir == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := odometry.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = odometry.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
	}

	odom, err := odometry.New(cfg)
	if err != nil {
		log.Fatalf("creating pipeline: %v", err)
	}

	var store *sqlitestore.TrajectoryStore
	if *dbPath != "" {
		db, err := sql.Open("sqlite", *dbPath)
		if err != nil {
			log.Fatalf("opening database %s: %v", *dbPath, err)
		}
		defer db.Close()
		store, err = sqlitestore.NewTrajectoryStore(db)
		if err != nil {
			log.Fatalf("creating trajectory store: %v", err)
		}
		if *runID == "" {
			*runID = sqlitestore.NewRunID()
		}
		log.Printf("recording trajectory run %s to %s", *runID, *dbPath)
	}

	files, err := scanFiles(*scanDir)
	if err != nil {
		log.Fatalf("listing scans: %v", err)
	}
	if len(files) == 0 {
		log.Fatalf("no .csv scan files in %s", *scanDir)
	}

	plotter := monitor.NewTrajectoryPlotter()
	start := time.Now()
	converged := 0

	for i, file := range files {
		points, err := readScan(file)
		if err != nil {
			log.Fatalf("reading scan %s: %v", file, err)
		}

		pose, diag := odom.Register(points, nil)
		if diag.Converged {
			converged++
		}
		mapPoints := odom.Map().PointCount()
		plotter.Sample(pose, diag, mapPoints)

		if store != nil {
			if _, err := store.InsertScan(sqlitestore.NewScanRecord(*runID, i, pose, diag, mapPoints)); err != nil {
				log.Fatalf("persisting scan %d: %v", i, err)
			}
		}
		if *verbose {
			log.Printf("scan %4d: pos=(%.2f %.2f %.2f) iters=%d corr=%d converged=%v map=%d",
				i, pose.T.X, pose.T.Y, pose.T.Z,
				diag.Iterations, diag.Correspondences, diag.Converged, mapPoints)
		}
	}

	elapsed := time.Since(start)
	final := odom.LastPose()
	log.Printf("registered %d scans in %v (%.1f scans/s), %d converged, final pos=(%.2f %.2f %.2f), map %d points",
		len(files), elapsed.Round(time.Millisecond),
		float64(len(files))/elapsed.Seconds(), converged,
		final.T.X, final.T.Y, final.T.Z, odom.Map().PointCount())

	if *plotDir != "" {
		n, err := plotter.GeneratePlots(*plotDir)
		if err != nil {
			log.Fatalf("generating plots: %v", err)
		}
		log.Printf("wrote %d plots to %s", n, *plotDir)
	}
}

// scanFiles lists the .csv files in dir in name order, which defines scan
// order.
func scanFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// readScan parses one per-scan CSV file. Columns: timestamp,x,y,z and an
// optional intensity. A header row is skipped if the first field does not
// parse as a number.
func readScan(path string) ([]odometry.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing CSV: %w", err)
	}

	points := make([]odometry.Point, 0, len(rows))
	for i, row := range rows {
		if len(row) < 4 {
			return nil, fmt.Errorf("row %d: expected at least 4 fields, got %d", i+1, len(row))
		}
		ts, err := strconv.ParseFloat(strings.TrimSpace(row[0]), 64)
		if err != nil {
			if i == 0 {
				continue // header row
			}
			return nil, fmt.Errorf("row %d: bad timestamp %q", i+1, row[0])
		}
		var p odometry.Point
		p.Timestamp = ts
		if p.X, err = strconv.ParseFloat(strings.TrimSpace(row[1]), 64); err != nil {
			return nil, fmt.Errorf("row %d: bad x %q", i+1, row[1])
		}
		if p.Y, err = strconv.ParseFloat(strings.TrimSpace(row[2]), 64); err != nil {
			return nil, fmt.Errorf("row %d: bad y %q", i+1, row[2])
		}
		if p.Z, err = strconv.ParseFloat(strings.TrimSpace(row[3]), 64); err != nil {
			return nil, fmt.Errorf("row %d: bad z %q", i+1, row[3])
		}
		if len(row) >= 5 {
			intensity, err := strconv.ParseFloat(strings.TrimSpace(row[4]), 32)
			if err != nil {
				return nil, fmt.Errorf("row %d: bad intensity %q", i+1, row[4])
			}
			p.Intensity = float32(intensity)
		}
		points = append(points, p)
	}
	return points, nil
}
