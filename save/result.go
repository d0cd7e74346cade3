package save

// Result is the outcome of one asynchronous save: Success or Failure(err).
// A Result is immutable.
type Result struct {
	err error
}

// Completion receives the Result of a SaveAsync call exactly once.
type Completion func(Result)

// Success returns the successful Result.
func Success() Result {
	return Result{}
}

// Failure returns a failed Result carrying err. A nil err is reported as
// Success.
func Failure(err error) Result {
	return Result{err: err}
}

// OK reports whether the save succeeded.
func (r Result) OK() bool {
	return r.err == nil
}

// Err returns the failure cause, or nil on success.
func (r Result) Err() error {
	return r.err
}

func (r Result) String() string {
	if r.err == nil {
		return "success"
	}
	return "failure: " + r.err.Error()
}

func resultOf(err error) Result {
	return Result{err: err}
}
