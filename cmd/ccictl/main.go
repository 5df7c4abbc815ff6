package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/machinehealth/cci/pkg"
	"github.com/machinehealth/cci/pkg/logx"
	"github.com/machinehealth/cci/pkg/pipeline"
	"github.com/machinehealth/cci/pkg/store"
)

// Command line flags
var (
	// Pipeline Commands
	fit     = flag.Bool("fit", false, "Calibrate a profile from baseline readings")
	score   = flag.Bool("score", false, "Score readings against a profile")
	project = flag.Bool("project", false, "Score readings and report per-component projections")

	// Profile Store Commands
	listProfiles  = flag.Bool("list-profiles", false, "List asset classes in the profile store")
	showProfile   = flag.Bool("show-profile", false, "Print the stored profile for -class")
	deleteProfile = flag.Bool("delete-profile", false, "Delete the stored profile for -class")

	// Input/Output Options
	input        = flag.String("input", "", "Readings CSV: timestamp,component_id,vibration,temperature,strain")
	profilePath  = flag.String("profile", "", "Profile JSON artifact path")
	storePath    = flag.String("store", "", "Profile store path (bbolt); used when -profile is empty")
	assetClass   = flag.String("class", "default", "Asset class name in the profile store")
	outputFormat = flag.String("format", "json", "Output format: json, csv")

	logLevel = flag.String("log-level", "warn", "Log level (debug|info|warn|error|trace)")
	version  = flag.Bool("version", false, "Show version information")
)

const (
	AppName    = "ccictl"
	AppVersion = "1.2.0"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}

	logger := logx.NewLogger(*logLevel, AppName)
	p := pipeline.New(pipeline.DefaultConfig(), logger)

	var err error
	switch {
	case *fit:
		err = runFit(p, logger)
	case *score:
		err = runScore(p, false)
	case *project:
		err = runScore(p, true)
	case *listProfiles:
		err = runListProfiles(logger)
	case *showProfile:
		err = runShowProfile(logger)
	case *deleteProfile:
		err = runDeleteProfile(logger)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

func runFit(p *pipeline.Pipeline, logger *logx.Logger) error {
	readings, err := readCSV(*input)
	if err != nil {
		return err
	}

	profile, err := p.Fit(readings)
	if err != nil {
		return err
	}

	if *profilePath != "" {
		if err := p.SaveProfile(profile, *profilePath); err != nil {
			return err
		}
		fmt.Printf("profile %s written to %s\n", profile.ID, *profilePath)
		return nil
	}
	if *storePath != "" {
		ps, err := store.OpenProfileStore(*storePath, logger)
		if err != nil {
			return err
		}
		defer ps.Close()
		if err := ps.Save(*assetClass, profile); err != nil {
			return err
		}
		fmt.Printf("profile %s stored as class %q\n", profile.ID, *assetClass)
		return nil
	}
	return json.NewEncoder(os.Stdout).Encode(profile)
}

func runScore(p *pipeline.Pipeline, withProjection bool) error {
	profile, err := loadProfile(p)
	if err != nil {
		return err
	}
	readings, err := readCSV(*input)
	if err != nil {
		return err
	}

	seq, err := p.Score(readings, profile)
	if err != nil {
		return err
	}
	scored, diag := seq.Collect()

	if withProjection {
		if err := writeProjections(p, profile, scored); err != nil {
			return err
		}
	} else if err := writeScores(scored); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "readings=%d invalid=%d scored=%d skipped=%d\n",
		diag.ReadingsSeen, diag.InvalidReadings, diag.TimestampsScored, diag.TimestampsSkipped)
	return nil
}

func writeScores(scored []pkg.ScoredReading) error {
	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		for i := range scored {
			if err := enc.Encode(&scored[i]); err != nil {
				return err
			}
		}
	case "csv":
		w := csv.NewWriter(os.Stdout)
		if err := w.Write([]string{"timestamp", "component_id", "cci", "zone", "time_left_hours"}); err != nil {
			return err
		}
		for i := range scored {
			sr := &scored[i]
			hours := ""
			if sr.HoursToCritical != nil {
				hours = strconv.FormatFloat(*sr.HoursToCritical, 'f', 2, 64)
			}
			row := []string{
				sr.Timestamp.UTC().Format(time.RFC3339),
				sr.ComponentID,
				strconv.FormatFloat(sr.CCI, 'f', 6, 64),
				sr.Zone.String(),
				hours,
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	default:
		return fmt.Errorf("unknown output format %q", *outputFormat)
	}
	return nil
}

// writeProjections reports, per component, the projection fitted over the
// full scored history.
func writeProjections(p *pipeline.Pipeline, profile *pkg.CalibrationProfile, scored []pkg.ScoredReading) error {
	histories := make(map[string][]float64)
	for i := range scored {
		sr := &scored[i]
		histories[sr.ComponentID] = append(histories[sr.ComponentID], sr.CCI)
	}

	ids := make([]string, 0, len(histories))
	for id := range histories {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	enc := json.NewEncoder(os.Stdout)
	for _, id := range ids {
		proj, err := p.Project(histories[id], profile)
		if err != nil {
			return fmt.Errorf("projection for %q failed: %w", id, err)
		}
		out := struct {
			ComponentID string               `json:"component_id"`
			Projection  *pkg.TrendProjection `json:"projection"`
		}{id, proj}
		if err := enc.Encode(&out); err != nil {
			return err
		}
	}
	return nil
}

func runListProfiles(logger *logx.Logger) error {
	ps, err := openStore(logger)
	if err != nil {
		return err
	}
	defer ps.Close()

	classes, err := ps.List()
	if err != nil {
		return err
	}
	for _, c := range classes {
		fmt.Println(c)
	}
	return nil
}

func runShowProfile(logger *logx.Logger) error {
	ps, err := openStore(logger)
	if err != nil {
		return err
	}
	defer ps.Close()

	profile, err := ps.Load(*assetClass)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runDeleteProfile(logger *logx.Logger) error {
	ps, err := openStore(logger)
	if err != nil {
		return err
	}
	defer ps.Close()
	if err := ps.Delete(*assetClass); err != nil {
		return err
	}
	fmt.Printf("profile class %q deleted\n", *assetClass)
	return nil
}

func openStore(logger *logx.Logger) (*store.ProfileStore, error) {
	if *storePath == "" {
		return nil, fmt.Errorf("-store is required for profile store commands")
	}
	return store.OpenProfileStore(*storePath, logger)
}

func loadProfile(p *pipeline.Pipeline) (*pkg.CalibrationProfile, error) {
	if *profilePath != "" {
		return p.LoadProfile(*profilePath)
	}
	if *storePath != "" {
		ps, err := store.OpenProfileStore(*storePath, logx.NewLogger(*logLevel, AppName))
		if err != nil {
			return nil, err
		}
		defer ps.Close()
		return ps.Load(*assetClass)
	}
	return nil, fmt.Errorf("one of -profile or -store is required")
}

// readCSV parses wide-format readings: one row per timestamp per component
// with all three channels. Rows fan out into per-sensor readings in column
// order so downstream grouping sees complete timestamps.
func readCSV(path string) ([]pkg.SensorReading, error) {
	if path == "" {
		return nil, fmt.Errorf("-input is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 5

	var readings []pkg.SensorReading
	line := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line+1, err)
		}
		line++
		if line == 1 && row[0] == "timestamp" {
			continue // header
		}

		ts, err := time.Parse(time.RFC3339, row[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad timestamp %q: %w", line, row[0], err)
		}
		componentID := row[1]
		for i, sensor := range pkg.Sensors {
			value, err := strconv.ParseFloat(row[2+i], 64)
			if err != nil {
				// Unparseable cells become NaN so the pipeline counts
				// them invalid instead of aborting the whole file.
				value = math.NaN()
			}
			readings = append(readings, pkg.SensorReading{
				ComponentID: componentID, Timestamp: ts, Sensor: sensor, Value: value,
			})
		}
	}
	return readings, nil
}
