package dailycode

import "errors"

var (
	// ErrNotFound is returned by repositories when no row matches.
	ErrNotFound = errors.New("daily code not found")

	// ErrUniqueViolation signals that another writer already holds the
	// civil date or sequence index. Mints recover from it by re-reading.
	ErrUniqueViolation = errors.New("daily code unique constraint violated")

	// ErrStorageUnavailable wraps every other store failure. It is never
	// retried automatically.
	ErrStorageUnavailable = errors.New("daily code storage unavailable")

	// ErrMintRetriesExhausted is returned once a mint lost the race too
	// many times in a row.
	ErrMintRetriesExhausted = errors.New("daily code mint retries exhausted")

	// ErrConfigurationSave is returned when a reset policy could not be
	// persisted. The previous policy stays in effect.
	ErrConfigurationSave = errors.New("reset policy could not be saved")

	ErrInvalidCode   = errors.New("invalid daily code")
	ErrInvalidPolicy = errors.New("invalid reset policy")
)
