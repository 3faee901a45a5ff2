package model

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ConnectionKind selects how the router reaches an endpoint.
type ConnectionKind string

const (
	UDPIn  ConnectionKind = "udp-in"  // router listens, peer connects
	UDPOut ConnectionKind = "udp-out" // router sends to a fixed peer
	TCP    ConnectionKind = "tcp"
	Serial ConnectionKind = "serial"
)

// Valid reports whether the kind is one the router understands.
func (k ConnectionKind) Valid() bool {
	switch k {
	case UDPIn, UDPOut, TCP, Serial:
		return true
	}
	return false
}

var ErrInvalidEndpoint = errors.New("invalid endpoint")

// Endpoint is a route registered with the MAVLink router.
// Values are comparable and compared on every field; EndpointSet relies on that.
type Endpoint struct {
	Name           string         `json:"name"`
	Owner          string         `json:"owner"`
	ConnectionKind ConnectionKind `json:"connectionKind"`
	Place          string         `json:"place"`     // host, bind address or device path
	Argument       int            `json:"argument"`  // port or baud rate
	Protected      bool           `json:"protected"` // cannot be removed via the API
	Persistent     bool           `json:"persistent"`
}

// Validate checks the fields that depend on ConnectionKind.
func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEndpoint)
	}
	if !e.ConnectionKind.Valid() {
		return fmt.Errorf("%w: unknown connection kind %q for %q", ErrInvalidEndpoint, e.ConnectionKind, e.Name)
	}
	if strings.TrimSpace(e.Place) == "" {
		return fmt.Errorf("%w: place is required for %q", ErrInvalidEndpoint, e.Name)
	}
	if e.ConnectionKind == Serial {
		if !filepath.IsAbs(e.Place) {
			return fmt.Errorf("%w: serial place %q for %q must be a device path", ErrInvalidEndpoint, e.Place, e.Name)
		}
		if e.Argument <= 0 {
			return fmt.Errorf("%w: baud rate %d for %q", ErrInvalidEndpoint, e.Argument, e.Name)
		}
		return nil
	}
	if e.Argument < 1 || e.Argument > 65535 {
		return fmt.Errorf("%w: port %d for %q out of range", ErrInvalidEndpoint, e.Argument, e.Name)
	}
	return nil
}

// Address renders place and argument as the router expects them.
func (e Endpoint) Address() string {
	return fmt.Sprintf("%s:%d", e.Place, e.Argument)
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s(%s:%s:%d)", e.Name, e.ConnectionKind, e.Place, e.Argument)
}
