package reference

import "fmt"

// Kind classifies why a reference code was rejected.
type Kind int

const (
	ChecksumMismatch Kind = iota + 1
	DateOutOfRange
	UnknownMachine
	FieldOverflow
)

func (k Kind) String() string {
	switch k {
	case ChecksumMismatch:
		return "checksum mismatch"
	case DateOutOfRange:
		return "date out of range"
	case UnknownMachine:
		return "unknown machine"
	case FieldOverflow:
		return "field overflow"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// InvalidError reports a reference code that cannot be encoded or decoded.
// Reference codes come from users and are always treated as untrusted.
type InvalidError struct {
	Kind      Kind
	Reference uint32
	Detail    string
}

func (e *InvalidError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("invalid reference %d: %s", e.Reference, e.Kind)
	}
	return fmt.Sprintf("invalid reference %d: %s: %s", e.Reference, e.Kind, e.Detail)
}

// Is matches any InvalidError of the same Kind, so the sentinels below work
// with errors.Is.
func (e *InvalidError) Is(target error) bool {
	t, ok := target.(*InvalidError)
	return ok && t.Kind == e.Kind
}

var (
	ErrChecksumMismatch = &InvalidError{Kind: ChecksumMismatch}
	ErrDateOutOfRange   = &InvalidError{Kind: DateOutOfRange}
	ErrUnknownMachine   = &InvalidError{Kind: UnknownMachine}
	ErrFieldOverflow    = &InvalidError{Kind: FieldOverflow}
)
