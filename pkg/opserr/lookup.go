package opserr

// Outcome tags the result of a backend lookup.
type Outcome int

const (
	// Found means the object exists.
	Found Outcome = iota
	// Absent means the backend positively reported the object as missing.
	Absent
	// Failed means the lookup itself failed; nothing is known about the object.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "Found"
	case Absent:
		return "NotFound"
	default:
		return "Failed"
	}
}

// Lookup is the tagged result of fetching a single object. A transport failure
// is never reported as Absent and a missing object is never reported as Failed.
type Lookup[T any] struct {
	Outcome Outcome
	Value   T
	Err     error
}

// Classify builds a Lookup from a conventional (value, error) pair.
func Classify[T any](v T, err error) Lookup[T] {
	switch {
	case err == nil:
		return Lookup[T]{Outcome: Found, Value: v}
	case IsNotFound(err):
		return Lookup[T]{Outcome: Absent, Err: err}
	default:
		return Lookup[T]{Outcome: Failed, Err: err}
	}
}
