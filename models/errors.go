package models

// ValidationErrorKind is the machine-readable error_kind reported to
// clients on 400 responses.
type ValidationErrorKind string

const (
	InvalidCoordinate     ValidationErrorKind = "InvalidCoordinate"
	OutsideBoundingBox    ValidationErrorKind = "OutsideBoundingBox"
	InvalidPassengerCount ValidationErrorKind = "InvalidPassengerCount"
	InvalidVendor         ValidationErrorKind = "InvalidVendor"
	InvalidTimestamp      ValidationErrorKind = "InvalidTimestamp"
	DistanceExceedsLimit  ValidationErrorKind = "DistanceExceedsLimit"
)

// ValidationError is a client mistake, not a service fault. It is
// returned to the caller and never logged as an error.
type ValidationError struct {
	Kind    ValidationErrorKind
	Message string
}

func (e *ValidationError) Error() string {
	return string(e.Kind) + ": " + e.Message
}
