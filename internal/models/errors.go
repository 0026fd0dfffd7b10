package models

import "fmt"

// ErrorType represents different categories of conversion errors
type ErrorType int

const (
	ErrResolution ErrorType = iota
	ErrAcquisition
	ErrBuild
	ErrConsistency
	ErrFileOp
	ErrInvalidConfig
)

// String returns the string representation of ErrorType
func (e ErrorType) String() string {
	switch e {
	case ErrResolution:
		return "Resolution"
	case ErrAcquisition:
		return "Acquisition"
	case ErrBuild:
		return "Build"
	case ErrConsistency:
		return "Consistency"
	case ErrFileOp:
		return "FileOp"
	case ErrInvalidConfig:
		return "InvalidConfig"
	default:
		return "Unknown"
	}
}

// ConvertError represents an error during package conversion. Package
// identifies the implicated source package ("name version") when known.
type ConvertError struct {
	Type    ErrorType
	Package string
	Err     error
}

// Error implements the error interface
func (e *ConvertError) Error() string {
	if e.Package != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Package, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Type, e.Err)
}

// Unwrap returns the wrapped error
func (e *ConvertError) Unwrap() error {
	return e.Err
}
