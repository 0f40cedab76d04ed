package device

import "context"

// WriteCompletionHandler receives asynchronous write confirmations. It is
// invoked on the transport's loop context and must not block: anything it
// calls must return promptly or the loop stalls and no further completions
// are delivered.
type WriteCompletionHandler func(uuid string, err error)

// Transport is the capability interface the session needs from a GATT
// stack: connect/disconnect, catalog resolution, synchronous reads,
// asynchronous writes with completion callbacks, and a loop-servicing
// primitive. Production code uses the go-ble backed implementation in
// the goble subpackage; tests substitute a fake.
type Transport interface {
	// Address returns the peripheral address this transport is bound to.
	Address() string

	Connect(ctx context.Context) error
	// Disconnect tears down the link. Errors are advisory; callers treat
	// the transport as disconnected regardless.
	Disconnect() error
	IsConnected() bool

	// ServicesResolved reports whether the characteristic catalog is
	// available. Resolution happens asynchronously after Connect.
	ServicesResolved() bool
	// Characteristics returns the resolved catalog as normalized UUIDs.
	// Empty until ServicesResolved.
	Characteristics() []string

	// Read returns the value blobs delivered for one characteristic read.
	// Well-behaved devices reply with exactly one blob; the session treats
	// anything else as a protocol violation.
	Read(uuid string) ([][]byte, error)

	// Write issues an asynchronous characteristic write. Its confirmation,
	// if the transport confirms writes at all, arrives via the completion
	// handler while the loop is being serviced.
	Write(uuid string, data []byte) error
	// ConfirmsWrites reports whether write completions are delivered.
	// When false, writes are fire-and-forget at the transport level.
	ConfirmsWrites() bool
	SetWriteCompletionHandler(h WriteCompletionHandler)

	// RunLoop services the transport's event loop until StopLoop is called,
	// blocking the calling goroutine. Write completions are only delivered
	// while RunLoop is running.
	RunLoop() error
	// StopLoop cooperatively asks RunLoop to return. It never forces an
	// interruption mid-event.
	StopLoop()
}
