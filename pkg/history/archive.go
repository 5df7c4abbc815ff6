package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/machinehealth/cci/pkg"
	"github.com/machinehealth/cci/pkg/logx"
)

// ArchiveConfig holds settings for the durable scored-reading archive.
type ArchiveConfig struct {
	DatabasePath  string `json:"database_path"`
	RetentionDays int    `json:"retention_days"`
}

// DefaultArchiveConfig returns archive defaults.
func DefaultArchiveConfig() *ArchiveConfig {
	return &ArchiveConfig{
		DatabasePath:  "/var/lib/cci/scores.db",
		RetentionDays: 90,
	}
}

// Archive is the durable store behind the consumer surface: scored
// readings queryable by (component, date range). SQLite keeps it embedded
// and dependency-free at deploy time.
type Archive struct {
	db     *sql.DB
	logger *logx.Logger
	config *ArchiveConfig
}

// OpenArchive opens (creating if needed) the scored-reading archive.
func OpenArchive(config *ArchiveConfig, logger *logx.Logger) (*Archive, error) {
	if config == nil {
		config = DefaultArchiveConfig()
	}
	if err := os.MkdirAll(filepath.Dir(config.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	a := &Archive{db: db, logger: logger, config: config}
	if err := a.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize archive: %w", err)
	}
	if logger != nil {
		logger.Info("Score archive opened",
			"database_path", config.DatabasePath,
			"retention_days", config.RetentionDays)
	}
	return a, nil
}

func (a *Archive) initialize() error {
	createSQL := `
	CREATE TABLE IF NOT EXISTS scored_readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		component_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		cci REAL NOT NULL,
		zone TEXT NOT NULL,
		hours_to_critical REAL
	);

	CREATE INDEX IF NOT EXISTS idx_scored_readings_component_ts
		ON scored_readings(component_id, timestamp);
	`
	_, err := a.db.Exec(createSQL)
	return err
}

// Insert appends one scored reading to the archive.
func (a *Archive) Insert(sr *pkg.ScoredReading) error {
	var hours sql.NullFloat64
	if sr.HoursToCritical != nil {
		hours = sql.NullFloat64{Float64: *sr.HoursToCritical, Valid: true}
	}
	_, err := a.db.Exec(
		`INSERT INTO scored_readings (component_id, timestamp, cci, zone, hours_to_critical)
		 VALUES (?, ?, ?, ?, ?)`,
		sr.ComponentID, sr.Timestamp.UTC(), sr.CCI, sr.Zone.String(), hours,
	)
	if err != nil {
		return fmt.Errorf("failed to archive scored reading: %w", err)
	}
	return nil
}

// InsertBatch appends a batch of scored readings in one transaction.
func (a *Archive) InsertBatch(batch []pkg.ScoredReading) error {
	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO scored_readings (component_id, timestamp, cci, zone, hours_to_critical)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare archive insert: %w", err)
	}
	defer stmt.Close()

	for i := range batch {
		sr := &batch[i]
		var hours sql.NullFloat64
		if sr.HoursToCritical != nil {
			hours = sql.NullFloat64{Float64: *sr.HoursToCritical, Valid: true}
		}
		if _, err := stmt.Exec(sr.ComponentID, sr.Timestamp.UTC(), sr.CCI, sr.Zone.String(), hours); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to archive scored reading: %w", err)
		}
	}
	return tx.Commit()
}

// Query returns a component's scored readings within [from, to], oldest
// first.
func (a *Archive) Query(componentID string, from, to time.Time) ([]pkg.ScoredReading, error) {
	rows, err := a.db.Query(
		`SELECT timestamp, cci, zone, hours_to_critical
		 FROM scored_readings
		 WHERE component_id = ? AND timestamp >= ? AND timestamp <= ?
		 ORDER BY timestamp ASC`,
		componentID, from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query archive: %w", err)
	}
	defer rows.Close()

	var out []pkg.ScoredReading
	for rows.Next() {
		var (
			sr       pkg.ScoredReading
			zoneName string
			hours    sql.NullFloat64
		)
		sr.ComponentID = componentID
		if err := rows.Scan(&sr.Timestamp, &sr.CCI, &zoneName, &hours); err != nil {
			return nil, fmt.Errorf("failed to scan archived reading: %w", err)
		}
		if err := sr.Zone.UnmarshalJSON([]byte(`"` + zoneName + `"`)); err != nil {
			return nil, fmt.Errorf("failed to decode archived zone: %w", err)
		}
		if hours.Valid {
			h := hours.Float64
			sr.HoursToCritical = &h
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// Components returns the distinct component IDs present in the archive.
func (a *Archive) Components() ([]string, error) {
	rows, err := a.db.Query(`SELECT DISTINCT component_id FROM scored_readings ORDER BY component_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived components: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Prune removes readings older than the retention window.
func (a *Archive) Prune(now time.Time) error {
	cutoff := now.AddDate(0, 0, -a.config.RetentionDays).UTC()
	res, err := a.db.Exec(`DELETE FROM scored_readings WHERE timestamp < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune archive: %w", err)
	}
	if a.logger != nil {
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			a.logger.Info("Archive pruned", "rows_removed", n, "cutoff", cutoff.Format(time.RFC3339))
		}
	}
	return nil
}

// Close releases the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}
