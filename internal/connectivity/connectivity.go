// Package connectivity tracks the network state reported by the host shell.
package connectivity

import "sync/atomic"

// Status is a snapshot of the device's network state.
type Status struct {
	Online bool `json:"online"`
	// Unmetered is true for Wi-Fi or equivalent connections.
	Unmetered bool `json:"unmetered"`
}

// Monitor exposes the current network state. Reads must not block.
type Monitor interface {
	Status() Status
}

// State is a Monitor whose value is pushed by the shell.
type State struct {
	v atomic.Value
}

func NewState(initial Status) *State {
	s := &State{}
	s.v.Store(initial)
	return s
}

func (s *State) Status() Status {
	return s.v.Load().(Status)
}

// Set replaces the current status and returns the previous one.
func (s *State) Set(status Status) Status {
	return s.v.Swap(status).(Status)
}

var _ Monitor = (*State)(nil)
