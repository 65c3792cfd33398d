package script

// EvaluationError reports a failed evaluation of Filename.
type EvaluationError struct {
	Filename string
	Err      error
}

func (e *EvaluationError) Error() string {
	return "evaluate " + e.Filename + ": " + e.Err.Error()
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// InvocationError reports a failed call of an invocable export. The script
// stays loaded.
type InvocationError struct {
	Filename string
	Err      error
}

func (e *InvocationError) Error() string {
	return "run " + e.Filename + ": " + e.Err.Error()
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}
