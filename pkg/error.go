package pkg

import "errors"

// Card protocol errors.
var (
	// ErrNoCard indicates the card never reached the idle state after reset.
	ErrNoCard = errors.New("no card present")

	// ErrUnsupportedCard indicates the interface-condition echo did not
	// confirm the host voltage range and check pattern.
	ErrUnsupportedCard = errors.New("unsupported card")

	// ErrNegotiationTimeout indicates the operating-condition loop never
	// left the idle state.
	ErrNegotiationTimeout = errors.New("operating condition negotiation timeout")

	// ErrCapacityQuery indicates the CSD register could not be read or
	// has an unknown layout.
	ErrCapacityQuery = errors.New("capacity query failed")

	// ErrCommandRejected indicates a non-zero status reply to a setup command.
	ErrCommandRejected = errors.New("command rejected")

	// ErrDataTimeout indicates the start-of-data token never arrived.
	ErrDataTimeout = errors.New("data start timeout")

	// ErrDataRejected indicates the card refused a written sector.
	ErrDataRejected = errors.New("data rejected")

	// ErrTimingWindow indicates a busy-wait bound was exceeded.
	ErrTimingWindow = errors.New("timing window exceeded")
)

// Block device errors.
var (
	// ErrNoDevice indicates the unit is not ready (failed or missing card).
	ErrNoDevice = errors.New("device not ready")

	// ErrNotInitialized indicates a transfer against an uninitialized card.
	ErrNotInitialized = errors.New("card not initialized")

	// ErrInvalidUnit indicates a unit number outside the configured table.
	ErrInvalidUnit = errors.New("invalid unit")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrOutOfRange indicates a sector range beyond the end of the card.
	ErrOutOfRange = errors.New("sector out of range")

	// ErrReadOnly indicates a write to a unit attached read-only.
	ErrReadOnly = errors.New("read-only unit")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")
)

// Phase names one bounded wait of the card protocol. Each phase keeps its
// own timeout and its own maximum-observed counter because the legal
// duration differs per phase.
type Phase int

// Bounded wait phases.
const (
	PhaseCmd       Phase = iota // Command response
	PhaseSendOp                 // Operating-condition negotiation
	PhaseSendCSD                // CSD start token
	PhaseRead                   // Read start token
	PhaseWaitCmd                // Not-busy before a command
	PhaseWaitWData              // Not-busy before a written sector
	PhaseWaitWDone              // Programming completion of a sector
	PhaseWaitWStop              // Not-busy before the stop token
	PhaseWaitWIdle              // Idle after the stop token
	NumPhases
)

// String returns a string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseCmd:
		return "cmd"
	case PhaseSendOp:
		return "send_op"
	case PhaseSendCSD:
		return "send_csd"
	case PhaseRead:
		return "read"
	case PhaseWaitCmd:
		return "wait_cmd"
	case PhaseWaitWData:
		return "wait_wdata"
	case PhaseWaitWDone:
		return "wait_wdone"
	case PhaseWaitWStop:
		return "wait_wstop"
	case PhaseWaitWIdle:
		return "wait_widle"
	default:
		return "unknown"
	}
}

// Error returns the error reported when the phase exceeds its bound.
func (p Phase) Error() error {
	switch p {
	case PhaseSendOp:
		return ErrNegotiationTimeout
	case PhaseSendCSD:
		return ErrCapacityQuery
	case PhaseRead:
		return ErrDataTimeout
	default:
		return ErrTimingWindow
	}
}
