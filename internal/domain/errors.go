package domain

import "errors"

// Sentinel errors for core operations
var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidRegion indicates an offline region definition failed validation
	ErrInvalidRegion = errors.New("invalid region definition")

	// ErrTransport indicates the request never produced an HTTP response
	ErrTransport = errors.New("transport failure")

	// ErrTileFetch indicates a tile server answered with a non-2xx status
	ErrTileFetch = errors.New("tile fetch failed")

	// ErrBudgetExceeded indicates a region download went over its byte cap
	ErrBudgetExceeded = errors.New("region byte budget exceeded")

	// ErrDownloadInProgress indicates the region already has an active download
	ErrDownloadInProgress = errors.New("region download already in progress")

	// ErrDiscardTask is returned by a merge resolver to drop the task (server state wins)
	ErrDiscardTask = errors.New("discard task")
)
