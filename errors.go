package livescope

import "errors"

// Error categories for the acquisition pipeline. Callers test with errors.Is.
var (
	// ErrAcquisition means a data source failed to produce a packet. The
	// loop that owns the source halts; there is no automatic retry.
	ErrAcquisition = errors.New("acquisition error")

	// ErrConnection means I/O with the instrument failed (connect, send,
	// or receive). A loop treats it exactly like ErrAcquisition.
	ErrConnection = errors.New("connection error")

	// ErrConfiguration means construction parameters were invalid. It is
	// raised eagerly by constructors, never during a run.
	ErrConfiguration = errors.New("configuration error")
)
