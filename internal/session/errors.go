package session

import "errors"

var (
	ErrPermissionDenied      = errors.New("elevated privileges required")
	ErrDeviceNotConnected    = errors.New("no device connected")
	ErrDeveloperModeDisabled = errors.New("developer mode is disabled on the device")
	ErrConnectionFailed      = errors.New("device connection failed")
	ErrPlayback              = errors.New("location playback failed")
	ErrInvalidState          = errors.New("command not allowed in current state")
	ErrAlreadyInitialized    = errors.New("session already initialized, run cleanup first")
)
