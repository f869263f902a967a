// Package features derives the model input vector from a prediction
// request. Everything here is pure; validation failures come back as
// models.ValidationError and nothing else can fail.
package features

import (
	"fmt"
	"math"
	"time"

	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/config"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/models"
)

const (
	earthRadiusKM = 6371.0
	maxDistanceKM = 200.0
)

// rushHours covers the morning and evening peaks in the operating city.
var rushHours = map[int]bool{7: true, 8: true, 9: true, 17: true, 18: true, 19: true}

// timestampLayouts accepted for pickup_datetime. The first is the plain
// ISO-8601 local form the dashboard sends; RFC3339 covers clients that
// attach an offset.
var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

type Builder struct {
	bbox config.BoundingBox
	loc  *time.Location
}

// NewBuilder fixes the bounding box and the operating timezone at
// construction. The timezone is deployment configuration: rush hour is
// a property of the city, not of the caller's clock.
func NewBuilder(bbox config.BoundingBox, loc *time.Location) *Builder {
	if loc == nil {
		loc = time.Local
	}
	return &Builder{bbox: bbox, loc: loc}
}

func (b *Builder) Build(req models.PredictionRequest) (models.FeatureVector, error) {
	coords := []struct {
		name     string
		lat, lon float64
	}{
		{"pickup", req.PickupLatitude, req.PickupLongitude},
		{"dropoff", req.DropoffLatitude, req.DropoffLongitude},
	}
	for _, c := range coords {
		if !isFinite(c.lat) || !isFinite(c.lon) {
			return models.FeatureVector{}, &models.ValidationError{
				Kind:    models.InvalidCoordinate,
				Message: fmt.Sprintf("%s coordinates must be finite numbers", c.name),
			}
		}
		if !b.bbox.Contains(c.lat, c.lon) {
			return models.FeatureVector{}, &models.ValidationError{
				Kind:    models.OutsideBoundingBox,
				Message: fmt.Sprintf("%s location (%.4f, %.4f) is outside the service area", c.name, c.lat, c.lon),
			}
		}
	}

	if req.PassengerCount < 1 || req.PassengerCount > 6 {
		return models.FeatureVector{}, &models.ValidationError{
			Kind:    models.InvalidPassengerCount,
			Message: fmt.Sprintf("passenger_count must be between 1 and 6, got %d", req.PassengerCount),
		}
	}
	if req.VendorID != 1 && req.VendorID != 2 {
		return models.FeatureVector{}, &models.ValidationError{
			Kind:    models.InvalidVendor,
			Message: fmt.Sprintf("vendor_id must be 1 or 2, got %d", req.VendorID),
		}
	}

	pickup, err := b.parseTimestamp(req.PickupDatetime)
	if err != nil {
		return models.FeatureVector{}, &models.ValidationError{
			Kind:    models.InvalidTimestamp,
			Message: fmt.Sprintf("cannot parse pickup_datetime %q", req.PickupDatetime),
		}
	}

	distance := Haversine(req.PickupLatitude, req.PickupLongitude, req.DropoffLatitude, req.DropoffLongitude)
	if distance > maxDistanceKM {
		return models.FeatureVector{}, &models.ValidationError{
			Kind:    models.DistanceExceedsLimit,
			Message: fmt.Sprintf("trip distance %.1f km exceeds the %.0f km limit", distance, maxDistanceKM),
		}
	}

	hour := pickup.Hour()
	dow := weekdayMondayZero(pickup.Weekday())

	fv := models.FeatureVector{
		DistanceKM:     distance,
		PassengerCount: req.PassengerCount,
		VendorID:       req.VendorID,
		HourOfDay:      hour,
		DayOfWeek:      dow,
		Month:          int(pickup.Month()),
	}
	if dow >= 5 {
		fv.IsWeekend = 1
	}
	if rushHours[hour] {
		fv.IsRushHour = 1
	}
	return fv, nil
}

func (b *Builder) parseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, s, b.loc)
		if err == nil {
			return t.In(b.loc), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// FromTrip derives the feature vector for a historical trip. Training
// data is already cleaned upstream, so unlike Build this performs no
// validation.
func FromTrip(pickupLat, pickupLon, dropoffLat, dropoffLon float64, pickupAt time.Time, passengers, vendor int) models.FeatureVector {
	hour := pickupAt.Hour()
	dow := weekdayMondayZero(pickupAt.Weekday())

	fv := models.FeatureVector{
		DistanceKM:     Haversine(pickupLat, pickupLon, dropoffLat, dropoffLon),
		PassengerCount: passengers,
		VendorID:       vendor,
		HourOfDay:      hour,
		DayOfWeek:      dow,
		Month:          int(pickupAt.Month()),
	}
	if dow >= 5 {
		fv.IsWeekend = 1
	}
	if rushHours[hour] {
		fv.IsRushHour = 1
	}
	return fv
}

// Haversine returns the great-circle distance between two points in
// kilometers, clamped to non-negative by construction.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Pow(math.Sin(dPhi/2), 2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Pow(math.Sin(dLambda/2), 2)

	return 2 * earthRadiusKM * math.Asin(math.Min(1, math.Sqrt(a)))
}

// weekdayMondayZero converts Go's Sunday=0 convention to the Monday=0
// layout the models were trained on.
func weekdayMondayZero(d time.Weekday) int {
	if d == time.Sunday {
		return 6
	}
	return int(d) - 1
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
