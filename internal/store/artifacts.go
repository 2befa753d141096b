package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lox/airwatch/internal/models"
)

// ModelArtifact is a serialized forecasting model and its metadata.
type ModelArtifact struct {
	City               string
	Version            string
	LastTrainingDate   time.Time
	RegressorNames     []string
	HistoricalResidual sql.NullFloat64
	Payload            []byte
}

// SaveModelArtifact stores or replaces the artifact for (city, version).
// It reports false when an identical payload was already stored.
func (s *Store) SaveModelArtifact(a ModelArtifact) (bool, error) {
	compressed, hashHex, err := compress(a.Payload)
	if err != nil {
		return false, err
	}

	city := NormalizeCity(a.City)
	var existing string
	err = s.db.QueryRow(`SELECT payload_hash FROM model_artifacts WHERE city = ? AND version = ?`, city, a.Version).Scan(&existing)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("check existing artifact: %w", err)
	}
	if existing == hashHex {
		return false, nil
	}

	_, err = s.db.Exec(`
		INSERT INTO model_artifacts (city, version, last_training_date, regressors, historical_residual, payload_compressed, payload_hash, imported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(city, version) DO UPDATE SET
			last_training_date = excluded.last_training_date,
			regressors = excluded.regressors,
			historical_residual = excluded.historical_residual,
			payload_compressed = excluded.payload_compressed,
			payload_hash = excluded.payload_hash,
			imported_at = excluded.imported_at
	`, city, a.Version, a.LastTrainingDate.Format(dateLayout), strings.Join(a.RegressorNames, ","),
		a.HistoricalResidual, compressed, hashHex, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("insert model artifact: %w", err)
	}
	return true, nil
}

// LoadModelArtifact returns the decompressed payload, or nil if no artifact
// exists for (city, version).
func (s *Store) LoadModelArtifact(city, version string) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRow(`
		SELECT payload_compressed FROM model_artifacts WHERE city = ? AND version = ?
	`, NormalizeCity(city), version).Scan(&compressed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decompress(compressed)
}

// ListModels returns metadata for every stored artifact.
func (s *Store) ListModels() ([]models.ModelInfo, error) {
	rows, err := s.db.Query(`
		SELECT city, version, last_training_date, regressors, historical_residual, payload_hash, imported_at
		FROM model_artifacts
		ORDER BY city, version
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []models.ModelInfo
	for rows.Next() {
		var info models.ModelInfo
		var lastTraining string
		var regressors sql.NullString
		if err := rows.Scan(&info.City, &info.Version, &lastTraining, &regressors, &info.HistoricalResidual, &info.PayloadHash, &info.ImportedAt); err != nil {
			return nil, err
		}
		info.LastTrainingDate, _ = time.Parse(dateLayout, lastTraining)
		if regressors.Valid && regressors.String != "" {
			info.RegressorNames = strings.Split(regressors.String, ",")
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}
