// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness types.

package reactor

// FDEventType is a bitmask of readiness conditions.
type FDEventType uint32

const (
	EventRead FDEventType = 1 << iota
	EventWrite
	EventError
)

// Has reports whether every bit of m is set in e.
func (e FDEventType) Has(m FDEventType) bool { return e&m == m }

// Event is one readiness notification returned by Wait.
type Event struct {
	Fd     int
	Events FDEventType
}

// Poller multiplexes readiness for a set of descriptors. Only Wake is safe
// to call from goroutines other than the one driving Wait.
type Poller interface {
	// Add registers fd for the given interest set.
	Add(fd int, events FDEventType) error
	// Mod replaces the interest set of fd.
	Mod(fd int, events FDEventType) error
	// Del unregisters fd.
	Del(fd int) error
	// Wait blocks for at most timeoutMs (negative blocks indefinitely) and
	// fills events. Wake-ups are consumed internally and not reported; a
	// wake returns with n == 0 or alongside other events.
	Wait(events []Event, timeoutMs int) (n int, err error)
	// Wake interrupts a concurrent Wait.
	Wake() error
	// Close releases the poller.
	Close() error
}
