package fpgpu

import (
	"errors"
	"fmt"
)

// ErrorType classifies failures reported by the runtime.
type ErrorType int

const (
	// ErrorTypeInvalidArgument indicates a malformed argument such as an
	// incompatible matrix shape or a non-positive tile size.
	ErrorTypeInvalidArgument ErrorType = iota
	// ErrorTypeOutOfDeviceMemory indicates the device allocator could not
	// satisfy a request within its capacity.
	ErrorTypeOutOfDeviceMemory
	// ErrorTypeTransfer indicates a host/device copy failed.
	ErrorTypeTransfer
	// ErrorTypeLaunch indicates a kernel launch was rejected before any
	// block ran, for example because of an invalid grid configuration.
	ErrorTypeLaunch
	// ErrorTypeExecution indicates a fault inside a running kernel,
	// surfaced when the stream is synchronized.
	ErrorTypeExecution
	// ErrorTypeDevice indicates a device selection or bookkeeping failure.
	ErrorTypeDevice
)

// String returns a human-readable name for the error type.
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeInvalidArgument:
		return "InvalidArgument"
	case ErrorTypeOutOfDeviceMemory:
		return "OutOfDeviceMemory"
	case ErrorTypeTransfer:
		return "Transfer"
	case ErrorTypeLaunch:
		return "Launch"
	case ErrorTypeExecution:
		return "Execution"
	case ErrorTypeDevice:
		return "Device"
	default:
		return "Unknown"
	}
}

// Error is the error type returned by all runtime operations.
type Error struct {
	Type    ErrorType
	Op      string // operation that failed, e.g. "Malloc", "Multiply"
	Message string
	Err     error // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fpgpu %s error in %s: %s (caused by: %v)", e.Type, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("fpgpu %s error in %s: %s", e.Type, e.Op, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewInvalidArgError creates an invalid-argument error.
func NewInvalidArgError(op, message string) error {
	return &Error{Type: ErrorTypeInvalidArgument, Op: op, Message: message}
}

// NewOutOfMemoryError creates a device-capacity error.
func NewOutOfMemoryError(op, message string) error {
	return &Error{Type: ErrorTypeOutOfDeviceMemory, Op: op, Message: message, Err: ErrOutOfDeviceMemory}
}

// NewTransferError creates a host/device copy error.
func NewTransferError(op, message string, err error) error {
	return &Error{Type: ErrorTypeTransfer, Op: op, Message: message, Err: err}
}

// NewLaunchError creates a launch-rejection error.
func NewLaunchError(op, message string) error {
	return &Error{Type: ErrorTypeLaunch, Op: op, Message: message}
}

// NewExecutionError creates a kernel-execution error.
func NewExecutionError(op, message string, err error) error {
	return &Error{Type: ErrorTypeExecution, Op: op, Message: message, Err: err}
}

// NewDeviceError creates a device bookkeeping error.
func NewDeviceError(op, message string, err error) error {
	return &Error{Type: ErrorTypeDevice, Op: op, Message: message, Err: err}
}

// Sentinel errors for common failure conditions.
var (
	// ErrOutOfDeviceMemory is wrapped by every allocation failure caused
	// by the device capacity limit.
	ErrOutOfDeviceMemory = errors.New("out of device memory")

	// ErrInvalidSize indicates a non-positive allocation or copy size.
	ErrInvalidSize = errors.New("invalid size")

	// ErrDoubleFree indicates an attempt to free memory that is not
	// currently allocated.
	ErrDoubleFree = errors.New("double free or corruption")

	// ErrInvalidDevice indicates an invalid device ID.
	ErrInvalidDevice = errors.New("invalid device")
)

// IsInvalidArgError reports whether err is an invalid-argument error.
func IsInvalidArgError(err error) bool {
	return hasType(err, ErrorTypeInvalidArgument)
}

// IsOutOfDeviceMemory reports whether err is a device-capacity error.
func IsOutOfDeviceMemory(err error) bool {
	return hasType(err, ErrorTypeOutOfDeviceMemory)
}

// IsTransferFailure reports whether err is a host/device copy error.
func IsTransferFailure(err error) bool {
	return hasType(err, ErrorTypeTransfer)
}

// IsLaunchFailure reports whether err is a launch-rejection error.
func IsLaunchFailure(err error) bool {
	return hasType(err, ErrorTypeLaunch)
}

// IsExecutionFailure reports whether err is a kernel-execution error.
func IsExecutionFailure(err error) bool {
	return hasType(err, ErrorTypeExecution)
}

// IsDeviceError reports whether err is a device bookkeeping error.
func IsDeviceError(err error) bool {
	return hasType(err, ErrorTypeDevice)
}

func hasType(err error, t ErrorType) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == t
}
