package analysis

import (
	"fmt"

	"github.com/menta2k/insect-identifier/pkg/identify"
	"github.com/menta2k/insect-identifier/pkg/types"
)

// Status is the phase of an identification attempt
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText encodes the status by name
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is a snapshot of a controller. Result is set only for StatusSuccess;
// Message and Kind only for StatusError.
type State struct {
	Status  Status
	Result  *types.AnalysisResult
	Message string
	Kind    identify.Kind
}

// Idle is the initial state
func Idle() State { return State{Status: StatusIdle} }

// Loading is published when an attempt starts
func Loading() State { return State{Status: StatusLoading} }

// Success carries a validated result
func Success(result *types.AnalysisResult) State {
	return State{Status: StatusSuccess, Result: result}
}

// Failed converts any error into the state shown to the user
func Failed(err error) State {
	return State{
		Status:  StatusError,
		Message: identify.Message(err),
		Kind:    identify.KindOf(err),
	}
}

// ShouldShowLoading is true until a terminal state arrives
func (s State) ShouldShowLoading() bool {
	return s.Status == StatusIdle || s.Status == StatusLoading
}

// CanDismiss is false only while a request is in flight
func (s State) CanDismiss() bool {
	return s.Status != StatusLoading
}

// Terminal reports whether s is Success or Error
func (s State) Terminal() bool {
	return s.Status == StatusSuccess || s.Status == StatusError
}

func (s State) String() string {
	switch s.Status {
	case StatusSuccess:
		if s.Result != nil {
			return fmt.Sprintf("success(%s)", s.Result.CommonName)
		}
	case StatusError:
		return fmt.Sprintf("error(%s: %s)", s.Kind, s.Message)
	}
	return s.Status.String()
}
