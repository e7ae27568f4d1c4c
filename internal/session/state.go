package session

import "github.com/mohammad-safakhou/tuvi/internal/chart"

// State is one step of the input flow. Each step carries only the fields
// collected so far.
type State interface {
	Name() string
	terminal() bool
}

type AwaitingDate struct{}

type AwaitingTime struct {
	Date chart.BirthDate
}

type AwaitingSex struct {
	Date chart.BirthDate
	Slot chart.BirthSlot
}

// Ready holds a complete fingerprint. Acquisition starts on entry.
type Ready struct {
	Fingerprint chart.Fingerprint
}

type Cancelled struct{}

func (AwaitingDate) Name() string { return "awaiting_date" }
func (AwaitingTime) Name() string { return "awaiting_time" }
func (AwaitingSex) Name() string  { return "awaiting_sex" }
func (Ready) Name() string        { return "ready" }
func (Cancelled) Name() string    { return "cancelled" }

func (AwaitingDate) terminal() bool { return false }
func (AwaitingTime) terminal() bool { return false }
func (AwaitingSex) terminal() bool  { return false }
func (Ready) terminal() bool        { return false }
func (Cancelled) terminal() bool    { return true }
