package pkg

import (
	"errors"
	"testing"
)

func TestPhase_String(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{PhaseCmd, "cmd"},
		{PhaseSendOp, "send_op"},
		{PhaseSendCSD, "send_csd"},
		{PhaseRead, "read"},
		{PhaseWaitCmd, "wait_cmd"},
		{PhaseWaitWData, "wait_wdata"},
		{PhaseWaitWDone, "wait_wdone"},
		{PhaseWaitWStop, "wait_wstop"},
		{PhaseWaitWIdle, "wait_widle"},
		{Phase(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.phase.String(); got != tt.want {
				t.Errorf("Phase.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPhase_Error(t *testing.T) {
	tests := []struct {
		phase   Phase
		wantErr error
	}{
		{PhaseCmd, ErrTimingWindow},
		{PhaseSendOp, ErrNegotiationTimeout},
		{PhaseSendCSD, ErrCapacityQuery},
		{PhaseRead, ErrDataTimeout},
		{PhaseWaitWDone, ErrTimingWindow},
		{PhaseWaitWIdle, ErrTimingWindow},
	}

	for _, tt := range tests {
		t.Run(tt.phase.String(), func(t *testing.T) {
			if err := tt.phase.Error(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Phase.Error() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSentinelErrors(t *testing.T) {
	// Verify all sentinel errors are distinct
	errs := []error{
		ErrNoCard,
		ErrUnsupportedCard,
		ErrNegotiationTimeout,
		ErrCapacityQuery,
		ErrCommandRejected,
		ErrDataTimeout,
		ErrDataRejected,
		ErrTimingWindow,
		ErrNoDevice,
		ErrNotInitialized,
		ErrInvalidUnit,
		ErrInvalidParameter,
		ErrBufferTooSmall,
		ErrOutOfRange,
		ErrReadOnly,
		ErrNotSupported,
	}

	for i, err1 := range errs {
		if err1 == nil {
			t.Errorf("error %d is nil", i)
			continue
		}
		for j, err2 := range errs {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("error %d and %d are equal", i, j)
			}
		}
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err     error
		wantMsg string
	}{
		{ErrNoCard, "no card present"},
		{ErrDataRejected, "data rejected"},
		{ErrDataTimeout, "data start timeout"},
		{ErrNoDevice, "device not ready"},
		{ErrInvalidUnit, "invalid unit"},
	}

	for _, tt := range tests {
		t.Run(tt.wantMsg, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("error.Error() = %v, want %v", got, tt.wantMsg)
			}
		})
	}
}
