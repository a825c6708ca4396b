package storage

import "errors"

// Configuration errors. Config returns them before touching any state.
var (
	ErrDuplicateDiskName   = errors.New("storage: duplicated disk name")
	ErrDiskNotDefined      = errors.New("storage: disk is not defined")
	ErrMissingDefaultDisk  = errors.New("storage: please specify a default disk name")
	ErrDriverNotInstalled  = errors.New("storage: driver package is not installed")
	ErrDriverNotRegistered = errors.New("storage: driver is not declared")
	ErrNotConfigured       = errors.New("storage: not configured")
)

// Operation errors. Drivers map their backend's native codes onto the
// first two and pass anything else through.
var (
	ErrFileNotFound    = errors.New("storage: file not found")
	ErrUnauthenticated = errors.New("storage: unauthenticated")
	ErrNotAnImage      = errors.New("storage: not an image")
	ErrNotSupported    = errors.New("storage: operation not supported by driver")
	ErrInvalidPath     = errors.New("storage: invalid path")
)
