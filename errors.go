package shufflemeta

import "errors"

// Sentinel errors of the package. Call sites wrap these with
// xerrors.Errorf("...: %w", Err...) so callers can both errors.Is and
// read what actually went wrong.
var (
	// ErrCorruptStatus is returned by the wire layer when a status
	// frame is truncated, carries an unknown discriminator, fails its
	// checksum, or advertises lengths that do not match the bytes
	// actually consumed.
	ErrCorruptStatus = errors.New("corrupt map status")

	// ErrShapeMismatch is returned when size vectors or statuses that
	// must share a partition count do not.
	ErrShapeMismatch = errors.New("partition count mismatch")

	// ErrConfig is returned for out-of-range configuration values.
	ErrConfig = errors.New("invalid configuration")

	// ErrUnknownShuffle is returned by registry operations against a
	// shuffle id that was never registered or was already unregistered.
	ErrUnknownShuffle = errors.New("unknown shuffle")

	// ErrUnknownMap is returned when removing a map output that is not
	// present in the registry.
	ErrUnknownMap = errors.New("unknown map output")
)
