package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/machinehealth/cci/pkg"
	"github.com/machinehealth/cci/pkg/logx"
)

var profilesBucket = []byte("profiles")

// ProfileStore persists calibration profiles in an embedded bbolt database,
// keyed by asset-class name. It lets a host hold one profile per component
// class and swap them without touching the filesystem layout.
type ProfileStore struct {
	db     *bolt.DB
	path   string
	logger *logx.Logger
}

// OpenProfileStore opens (creating if needed) a profile store at path.
func OpenProfileStore(path string, logger *logx.Logger) (*ProfileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open profile store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(profilesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize profile store: %w", err)
	}

	if logger != nil {
		logger.Info("Profile store opened", "path", path)
	}
	return &ProfileStore{db: db, path: path, logger: logger}, nil
}

// Save persists a profile under the given asset-class name, replacing any
// previous profile for that class.
func (ps *ProfileStore) Save(class string, profile *pkg.CalibrationProfile) error {
	if class == "" {
		return fmt.Errorf("empty asset class name")
	}
	if err := profile.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(profile)
	if err != nil {
		return &pkg.SerializationError{Reason: "profile encoding failed", Err: err}
	}
	err = ps.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(profilesBucket).Put([]byte(class), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store profile for %q: %w", class, err)
	}
	if ps.logger != nil {
		ps.logger.Info("Profile stored", "class", class, "profile_id", profile.ID)
	}
	return nil
}

// Load reads the profile for an asset class. A missing class returns
// ErrNotCalibrated; a corrupt or version-mismatched record returns
// SerializationError.
func (ps *ProfileStore) Load(class string) (*pkg.CalibrationProfile, error) {
	var data []byte
	err := ps.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(profilesBucket).Get([]byte(class))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read profile for %q: %w", class, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: no profile stored for class %q", pkg.ErrNotCalibrated, class)
	}

	var profile pkg.CalibrationProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, &pkg.SerializationError{Reason: fmt.Sprintf("stored profile for %q corrupt", class), Err: err}
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return &profile, nil
}

// List returns the stored asset-class names in key order.
func (ps *ProfileStore) List() ([]string, error) {
	var classes []string
	err := ps.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(profilesBucket).ForEach(func(k, _ []byte) error {
			classes = append(classes, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	return classes, nil
}

// Delete removes the profile for an asset class. Deleting a missing class
// is not an error.
func (ps *ProfileStore) Delete(class string) error {
	return ps.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(profilesBucket).Delete([]byte(class))
	})
}

// Close releases the underlying database.
func (ps *ProfileStore) Close() error {
	return ps.db.Close()
}
