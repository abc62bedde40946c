package errors

// Kind is the coarse classification every queue error belongs to. Kind values are
// themselves errors so callers can match with errors.Is(err, errors.CorruptState).
type Kind string

const (
	AlreadyExists Kind = "already exists"
	NotFound      Kind = "not found"
	CorruptState  Kind = "corrupt state"
	IOError       Kind = "io error"
	InvalidState  Kind = "invalid state"
	Invalid       Kind = "invalid argument"
)

func (k Kind) Error() string {
	return string(k)
}
