package xsk

import "fmt"

// SetupStep identifies which step of the mandatory construction sequence
// in component design §4.3 failed. All setup errors are fatal and are
// only ever returned from New.
type SetupStep int

const (
	StepSocketCreate SetupStep = iota
	StepUmemAlloc
	StepUmemReg
	StepRingSizeSet
	StepOffsetsQuery
	StepRingMap
	StepBind
	StepInterfaceLookup
)

func (s SetupStep) String() string {
	switch s {
	case StepSocketCreate:
		return "socket-create"
	case StepUmemAlloc:
		return "umem-alloc"
	case StepUmemReg:
		return "umem-reg"
	case StepRingSizeSet:
		return "ring-size-set"
	case StepOffsetsQuery:
		return "offsets-query"
	case StepRingMap:
		return "ring-map"
	case StepBind:
		return "bind"
	case StepInterfaceLookup:
		return "interface-lookup"
	default:
		return "unknown"
	}
}

// Ring names a specific AF_XDP ring, used to annotate RingMap and
// RingSizeSet failures.
type Ring int

const (
	RingFill Ring = iota
	RingCompletion
	RingRX
	RingTX
)

func (r Ring) String() string {
	switch r {
	case RingFill:
		return "fill"
	case RingCompletion:
		return "completion"
	case RingRX:
		return "rx"
	case RingTX:
		return "tx"
	default:
		return "unknown"
	}
}

// SetupError is the single fatal error type New returns: it names the
// failed step and wraps the underlying OS error so the caller can log a
// diagnostic without inspecting the construction sequence itself.
type SetupError struct {
	Step  SetupStep
	Ring  Ring // set for StepRingMap and StepRingSizeSet; Error names it only for StepRingMap
	Cause error
}

func (e *SetupError) Error() string {
	if e.Step == StepRingMap {
		return fmt.Sprintf("xsk setup failed at %s (%s ring): %v", e.Step, e.Ring, e.Cause)
	}
	return fmt.Sprintf("xsk setup failed at %s: %v", e.Step, e.Cause)
}

func (e *SetupError) Unwrap() error { return e.Cause }

// UsageError marks a programming-bug misuse of the runtime contract in
// §4.4: calling TXSubmit/CancelTX without a pending frame, or calling
// GetTXFrame again before the previous frame was committed. These never
// occur on a correctly wired poll loop.
type UsageError struct{ Msg string }

func (e *UsageError) Error() string { return "xsk: usage error: " + e.Msg }
