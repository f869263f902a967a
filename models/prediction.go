package models

import "time"

// FeatureOrder is the canonical feature layout shared with the training
// pipeline. The on-disk metadata of every artifact declares the order its
// predictor was trained on; see FeatureVector.Slice.
var FeatureOrder = []string{
	"distance_km",
	"passenger_count",
	"vendor_id",
	"hour_of_day",
	"day_of_week",
	"month",
	"is_weekend",
	"is_rush_hour",
}

type PredictionRequest struct {
	PickupLatitude   float64 `json:"pickup_latitude"`
	PickupLongitude  float64 `json:"pickup_longitude"`
	DropoffLatitude  float64 `json:"dropoff_latitude"`
	DropoffLongitude float64 `json:"dropoff_longitude"`
	PassengerCount   int     `json:"passenger_count"`
	VendorID         int     `json:"vendor_id"`
	PickupDatetime   string  `json:"pickup_datetime"`
}

type FeatureVector struct {
	DistanceKM     float64 `json:"distance_km"`
	PassengerCount int     `json:"passenger_count"`
	VendorID       int     `json:"vendor_id"`
	HourOfDay      int     `json:"hour_of_day"`
	DayOfWeek      int     `json:"day_of_week"`
	Month          int     `json:"month"`
	IsWeekend      int     `json:"is_weekend"`
	IsRushHour     int     `json:"is_rush_hour"`
}

func (f FeatureVector) value(name string) (float64, bool) {
	switch name {
	case "distance_km":
		return f.DistanceKM, true
	case "passenger_count":
		return float64(f.PassengerCount), true
	case "vendor_id":
		return float64(f.VendorID), true
	case "hour_of_day":
		return float64(f.HourOfDay), true
	case "day_of_week":
		return float64(f.DayOfWeek), true
	case "month":
		return float64(f.Month), true
	case "is_weekend":
		return float64(f.IsWeekend), true
	case "is_rush_hour":
		return float64(f.IsRushHour), true
	}
	return 0, false
}

// Slice materializes the vector in the given feature order. An unknown
// feature name yields ok=false; the caller treats the model as unusable
// for this request rather than feeding it garbage.
func (f FeatureVector) Slice(order []string) ([]float64, bool) {
	out := make([]float64, len(order))
	for i, name := range order {
		v, ok := f.value(name)
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

type Prediction struct {
	PredictedDurationMinutes float64       `json:"predicted_duration_minutes"`
	ConfidenceScore          float64       `json:"confidence_score"`
	ModelVersion             string        `json:"model_version"`
	PredictionTimestamp      time.Time     `json:"prediction_timestamp"`
	FeaturesUsed             FeatureVector `json:"features_used"`
}
