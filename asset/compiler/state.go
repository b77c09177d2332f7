package compiler

import (
	"errors"
	"fmt"
)

var (
	ErrBusy         = errors.New("compiler: another rebuild is in progress")
	ErrInvalidState = errors.New("compiler: operation not allowed in current state")
	ErrUnknownMesh  = errors.New("compiler: mesh instance references unknown mesh")
)

// The lifecycle stage of a composed scene.
type State uint8

const (
	Empty State = iota
	BLASBuilt
	BLASIntegrated
	TLASBuilt
	TLASIntegrated
	Ready
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case BLASBuilt:
		return "BLAS built"
	case BLASIntegrated:
		return "BLAS integrated"
	case TLASBuilt:
		return "TLAS built"
	case TLASIntegrated:
		return "TLAS integrated"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Build an error describing an out of order operation.
func stateError(op string, got State, allowed ...State) error {
	return fmt.Errorf("%w: %s requires state %v; current state is %s", ErrInvalidState, op, allowed, got)
}

func stateIn(s State, allowed ...State) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}
