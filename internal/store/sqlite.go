package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lox/airwatch/internal/models"
)

const dateLayout = "2006-01-02"

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// NormalizeCity is the canonical key form of a city name.
func NormalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

// InsertHistory upserts historical AQI points in a single transaction and
// returns how many rows were written.
func (s *Store) InsertHistory(points []models.HistoricalPoint) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO historical_aqi (city, date, aqi, imported_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(city, date) DO UPDATE SET
			aqi = excluded.aqi,
			imported_at = excluded.imported_at
	`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	written := 0
	for _, p := range points {
		if _, err := stmt.Exec(NormalizeCity(p.City), p.Date.Format(dateLayout), p.AQI, now); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("insert %s %s: %w", p.City, p.Date.Format(dateLayout), err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return written, nil
}

// GetHistoricalSeries returns the city's AQI series in date order, or nil if
// the city has no history.
func (s *Store) GetHistoricalSeries(city string) ([]models.HistoricalPoint, error) {
	return s.queryHistory(`
		SELECT city, date, aqi FROM historical_aqi
		WHERE city = ?
		ORDER BY date ASC
	`, NormalizeCity(city))
}

// GetHistoricalRange returns the city's AQI series between start and end inclusive.
func (s *Store) GetHistoricalRange(city string, start, end time.Time) ([]models.HistoricalPoint, error) {
	return s.queryHistory(`
		SELECT city, date, aqi FROM historical_aqi
		WHERE city = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, NormalizeCity(city), start.Format(dateLayout), end.Format(dateLayout))
}

func (s *Store) queryHistory(query string, args ...any) ([]models.HistoricalPoint, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []models.HistoricalPoint
	for rows.Next() {
		var p models.HistoricalPoint
		var date string
		if err := rows.Scan(&p.City, &date, &p.AQI); err != nil {
			return nil, err
		}
		p.Date, err = time.Parse(dateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("parse stored date %q: %w", date, err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// CityHistory summarises the stored history of one city.
type CityHistory struct {
	City  string
	Count int
	First time.Time
	Last  time.Time
}

func (s *Store) HistoryCities() ([]CityHistory, error) {
	rows, err := s.db.Query(`
		SELECT city, COUNT(*), MIN(date), MAX(date)
		FROM historical_aqi
		GROUP BY city
		ORDER BY city
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cities []CityHistory
	for rows.Next() {
		var c CityHistory
		var first, last string
		if err := rows.Scan(&c.City, &c.Count, &first, &last); err != nil {
			return nil, err
		}
		c.First, _ = time.Parse(dateLayout, first)
		c.Last, _ = time.Parse(dateLayout, last)
		cities = append(cities, c)
	}
	return cities, rows.Err()
}
