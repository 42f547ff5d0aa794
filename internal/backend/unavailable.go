package backend

// Unavailable is the null backend. Every load fails with ErrUnavailable so the
// engine stays in a clean not-loaded state.
type Unavailable struct {
	Reason string
}

func (u Unavailable) Name() string { return KindNone }

func (u Unavailable) LoadModel(path string) (Model, error) {
	if u.Reason == "" {
		return nil, ErrUnavailable
	}
	return nil, &unavailableError{reason: u.Reason}
}

type unavailableError struct{ reason string }

func (e *unavailableError) Error() string { return ErrUnavailable.Error() + ": " + e.reason }

func (e *unavailableError) Unwrap() error { return ErrUnavailable }
