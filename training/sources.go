package training

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/features"
)

// PostgresSource pulls recent cleaned trips from the historical store.
type PostgresSource struct {
	pool *pgxpool.Pool
}

func NewPostgresSource(ctx context.Context, dsn string) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating db pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging db: %w", err)
	}
	return &PostgresSource{pool: pool}, nil
}

func (s *PostgresSource) Name() string { return "postgres" }

func (s *PostgresSource) Close() { s.pool.Close() }

func (s *PostgresSource) Samples(ctx context.Context, limit int) ([]Sample, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pickup_latitude, pickup_longitude,
		       dropoff_latitude, dropoff_longitude,
		       passenger_count, vendor_id, pickup_datetime,
		       trip_duration_seconds
		FROM taxi_trips
		WHERE trip_duration_seconds BETWEEN 60 AND 7200
		  AND passenger_count BETWEEN 1 AND 6
		ORDER BY pickup_datetime DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying taxi_trips: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(
			&s.PickupLatitude, &s.PickupLongitude,
			&s.DropoffLatitude, &s.DropoffLongitude,
			&s.PassengerCount, &s.VendorID, &s.PickupDatetime,
			&s.DurationSeconds,
		); err != nil {
			return nil, fmt.Errorf("scanning trip row: %w", err)
		}
		samples = append(samples, s)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterating trip rows: %w", rows.Err())
	}
	return samples, nil
}

// SyntheticSource generates plausible NYC trips so a fresh install can
// bootstrap without any database. Deterministic seed: two bootstraps on
// the same build produce the same model.
type SyntheticSource struct {
	seed int64
}

func NewSyntheticSource() *SyntheticSource { return &SyntheticSource{seed: 42} }

func (s *SyntheticSource) Name() string { return "synthetic" }

func (s *SyntheticSource) Samples(_ context.Context, limit int) ([]Sample, error) {
	rng := rand.New(rand.NewSource(s.seed))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	samples := make([]Sample, limit)
	for i := range samples {
		// Core Manhattan-ish pickups, dropoffs anywhere in the box.
		pLat := 40.70 + rng.Float64()*0.10
		pLon := -74.02 + rng.Float64()*0.08
		dLat := 40.55 + rng.Float64()*0.30
		dLon := -74.05 + rng.Float64()*0.30

		pickupAt := start.Add(time.Duration(rng.Intn(365*24*60)) * time.Minute)
		passengers := 1 + rng.Intn(6)
		vendor := 1 + rng.Intn(2)

		fv := features.FromTrip(pLat, pLon, dLat, dLon, pickupAt, passengers, vendor)

		// Ground truth the fit can recover: base fare time plus per-km
		// travel, slower in rush hour, plus noise.
		minutes := 4.0 + 2.2*fv.DistanceKM + 3.0*float64(fv.IsRushHour) +
			1.0*float64(fv.IsWeekend) + rng.NormFloat64()*2.0
		if minutes < 1 {
			minutes = 1
		}

		samples[i] = Sample{
			PickupLatitude:   pLat,
			PickupLongitude:  pLon,
			DropoffLatitude:  dLat,
			DropoffLongitude: dLon,
			PassengerCount:   passengers,
			VendorID:         vendor,
			PickupDatetime:   pickupAt,
			DurationSeconds:  minutes * 60,
		}
	}
	return samples, nil
}
