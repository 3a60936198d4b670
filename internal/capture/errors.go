package capture

import "fmt"

// DeviceErrorKind identifies the category of a capture device failure
type DeviceErrorKind string

const (
	ErrKindNoDevice         DeviceErrorKind = "no_device"
	ErrKindPermissionDenied DeviceErrorKind = "permission_denied"
	ErrKindDeviceBusy       DeviceErrorKind = "device_busy"
)

// DeviceError represents a capture device failure with a remediation hint.
// All kinds are recoverable: the caller may retry after the user intervenes.
type DeviceError struct {
	Kind   DeviceErrorKind
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	msg := ""
	switch e.Kind {
	case ErrKindNoDevice:
		msg = "no audio input device found"
	case ErrKindPermissionDenied:
		msg = "microphone access denied"
	case ErrKindDeviceBusy:
		msg = "audio input device is busy"
	default:
		msg = "audio input device error"
	}

	if e.Device != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Device)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Hint returns a user-facing remediation suggestion
func (e *DeviceError) Hint() string {
	switch e.Kind {
	case ErrKindNoDevice:
		return "Connect a microphone or select a different input device."
	case ErrKindPermissionDenied:
		return "Allow microphone access for this application in your system settings."
	case ErrKindDeviceBusy:
		return "Close other applications that are using the microphone and try again."
	default:
		return "Check your audio input configuration and try again."
	}
}
