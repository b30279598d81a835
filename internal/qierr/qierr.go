// Package qierr is the shared error-code taxonomy (spec §6) used by both
// the device-side translator's status returns and the public API's typed
// error. Keeping the numeric codes in one place means both sides of the
// split-role runtime agree on what a STALL or an argument error means on
// the wire.
package qierr

// Code is one value from the QiProg error taxonomy. Every public operation
// and every handle_control dispatch returns one of these.
type Code int

const (
	Success         Code = 0
	Generic         Code = -1
	Malloc          Code = -2
	Arg             Code = -3
	Timeout         Code = -4
	ChipTimeout     Code = -20
	NoResponse      Code = -21
)

func (c Code) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case Generic:
		return "ERR"
	case Malloc:
		return "ERR_MALLOC"
	case Arg:
		return "ERR_ARG"
	case Timeout:
		return "ERR_TIMEOUT"
	case ChipTimeout:
		return "ERR_CHIP_TIMEOUT"
	case NoResponse:
		return "ERR_NO_RESPONSE"
	default:
		return "ERR_UNKNOWN"
	}
}
