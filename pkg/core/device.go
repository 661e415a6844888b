package core

// Device is the owning tunnel interface as seen by a peer. A device must not
// be torn down while any peer still holds a reference to it.
type Device interface {
	// Hold takes a reference on the device. It fails if the device is
	// already in terminal teardown.
	Hold() bool

	// Put releases a reference taken with Hold.
	Put()
}
