package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRoot means the manager lacks the privilege to open devices and
	// run the firmware.
	ErrNotRoot = errors.New("ardupilot manager needs to run with root privilege")
	// ErrInvalidBoard is returned when the detector reports a board type no
	// startup flow handles.
	ErrInvalidBoard = errors.New("invalid board type")
	// ErrProtectedEndpoint rejects removal requests naming protected endpoints.
	ErrProtectedEndpoint = errors.New("endpoints are protected")
	// ErrPersist means the endpoint change could not be saved and was undone.
	ErrPersist = errors.New("failed to persist endpoints")
	// ErrFirmware covers download, self-check and spawn failures of the
	// Navigator firmware.
	ErrFirmware = errors.New("failed to start navigator")
	// ErrStopped is returned by startup once Shutdown has run.
	ErrStopped = errors.New("supervisor is shut down")
)

// EndpointError names the endpoint the router refused.
type EndpointError struct {
	Op       string
	Endpoint string
	Err      error
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("failed to %s endpoint %q: %v", e.Op, e.Endpoint, e.Err)
}

func (e *EndpointError) Unwrap() error {
	return e.Err
}
