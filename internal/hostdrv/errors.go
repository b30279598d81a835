package hostdrv

import "errors"

// ErrArgument marks a protocol-level argument error (spec §7): null/invalid
// enum, an oversize variadic argument list, or set_bus(0). These fail fast,
// before any transport call is issued.
var ErrArgument = errors.New("hostdrv: invalid argument")

// ErrPartialTransfer marks a bulk transfer that returned fewer bytes than
// requested on a non-terminal packet; fatal for the current call (spec §7).
var ErrPartialTransfer = errors.New("hostdrv: partial transfer")
