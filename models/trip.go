package models

import "time"

// TaxiTrip mirrors the historical trip table populated by the data
// ingestion tooling. The API only ever reads it.
type TaxiTrip struct {
	ID                  int64     `gorm:"column:id;primaryKey" json:"id"`
	VendorID            int       `gorm:"column:vendor_id" json:"vendor_id"`
	PickupDatetime      time.Time `gorm:"column:pickup_datetime" json:"pickup_datetime"`
	PickupLatitude      float64   `gorm:"column:pickup_latitude" json:"pickup_latitude"`
	PickupLongitude     float64   `gorm:"column:pickup_longitude" json:"pickup_longitude"`
	DropoffLatitude     float64   `gorm:"column:dropoff_latitude" json:"dropoff_latitude"`
	DropoffLongitude    float64   `gorm:"column:dropoff_longitude" json:"dropoff_longitude"`
	PassengerCount      int       `gorm:"column:passenger_count" json:"passenger_count"`
	TripDurationSeconds float64   `gorm:"column:trip_duration_seconds" json:"trip_duration_seconds"`
}

func (TaxiTrip) TableName() string { return "taxi_trips" }
