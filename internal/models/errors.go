package models

import "errors"

var (
	// ErrInvalidArgument is returned for malformed input
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned when the requested entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the acting user may not perform the operation
	ErrForbidden = errors.New("forbidden")
	// ErrConflict is returned when the order state does not allow the operation,
	// including losing a race against a concurrent update
	ErrConflict = errors.New("conflict")
	// ErrUnauthorized is returned for missing or invalid credentials
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnknownNetwork is returned for network codes missing from the reference table
	ErrUnknownNetwork = errors.New("unknown network")
	// ErrUnsupportedNetwork is returned when the chain provider has no mapping for a network
	ErrUnsupportedNetwork = errors.New("unsupported network")
	// ErrGateway is returned when the external chain provider fails
	ErrGateway = errors.New("gateway error")
	// ErrGatewayNotConfigured is returned by a gateway running without a provider
	ErrGatewayNotConfigured = errors.New("gateway not configured")
)
