// Package netpoll wraps the host OS's readiness-notification facility
// (epoll on Linux, kqueue on the BSDs and Darwin) behind one small interface,
// the way gaio's openPoll()/pollerEvents split one poller API across build
// tags per target OS.
package netpoll

// Mask is a demux-neutral readiness flag set, translated to the native
// bitmask by each platform's implementation.
type Mask uint32

const (
	Readable Mask = 1 << iota
	Writable
	PeerClosed
	Err
	Hup
	EdgeTriggered
	OneShot
)

// Demux is the readiness-notification interest set: add/modify/remove file
// descriptors, then block for a batch of ready events.
type Demux interface {
	// Add registers fd for the given interest mask.
	Add(fd int, mask Mask) error
	// Mod updates fd's interest mask.
	Mod(fd int, mask Mask) error
	// Del removes fd from the interest set.
	Del(fd int) error
	// Wait blocks up to timeoutMS (or indefinitely if negative) and returns
	// the number of ready events, retrievable via EventFD/EventMask.
	Wait(timeoutMS int) (int, error)
	// EventFD returns the fd for the i'th ready event from the last Wait.
	EventFD(i int) int
	// EventMask returns the readiness mask for the i'th ready event.
	EventMask(i int) Mask
	// Close releases the underlying poll descriptor.
	Close() error
}
