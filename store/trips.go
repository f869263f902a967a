// Package store holds the persistence edges of the service: the
// read-only historical trip database and the local prediction log.
// Neither sits on the prediction hot path.
package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/models"
)

// TripStore reads aggregate statistics from the historical taxi_trips
// table. The API never writes trips; ingestion is external tooling.
type TripStore struct {
	db *gorm.DB
}

func NewTripStore(dsn string) (*TripStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to trip database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db handle: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("pinging trip database: %w", err)
	}
	return &TripStore{db: db}, nil
}

type TripStats struct {
	TotalTrips         int64     `json:"total_trips"`
	AvgDurationMinutes float64   `json:"avg_duration_minutes"`
	EarliestTrip       time.Time `json:"earliest_trip"`
	LatestTrip         time.Time `json:"latest_trip"`
	LastUpdated        time.Time `json:"last_updated"`
}

func (s *TripStore) Stats(ctx context.Context) (TripStats, error) {
	var row struct {
		TotalTrips         int64
		AvgDurationSeconds float64
		EarliestTrip       time.Time
		LatestTrip         time.Time
	}
	err := s.db.WithContext(ctx).Model(&models.TaxiTrip{}).
		Select(`
			COUNT(*) AS total_trips,
			COALESCE(AVG(trip_duration_seconds), 0) AS avg_duration_seconds,
			COALESCE(MIN(pickup_datetime), 'epoch'::timestamp) AS earliest_trip,
			COALESCE(MAX(pickup_datetime), 'epoch'::timestamp) AS latest_trip`).
		Scan(&row).Error
	if err != nil {
		return TripStats{}, fmt.Errorf("querying trip stats: %w", err)
	}

	return TripStats{
		TotalTrips:         row.TotalTrips,
		AvgDurationMinutes: round2(row.AvgDurationSeconds / 60),
		EarliestTrip:       row.EarliestTrip,
		LatestTrip:         row.LatestTrip,
		LastUpdated:        time.Now().UTC(),
	}, nil
}

func (s *TripStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
