package saga

import "errors"

var (
	// ErrAlreadyStarted is returned when Start is called on an already-started router.
	ErrAlreadyStarted = errors.New("saga: already started")

	// ErrRouterClosed is returned when operations are attempted on a stopped router.
	ErrRouterClosed = errors.New("saga: router closed")

	// ErrInstanceNotFound is returned by state queries for an unknown identity.
	ErrInstanceNotFound = errors.New("saga: instance not found")

	// ErrSupervisorClosed is the termination reason given to handles still
	// alive when a LocalSupervisor is closed.
	ErrSupervisorClosed = errors.New("saga: supervisor closed")
)
