package protocol

// Error codes returned in response frames.
const (
	ErrInvalidRequest = "INVALID_REQUEST"
	ErrInvalidCode    = "INVALID_CODE"
	ErrBusy           = "BUSY"
	ErrRateLimited    = "RATE_LIMITED"
	ErrUnavailable    = "UNAVAILABLE"
)
