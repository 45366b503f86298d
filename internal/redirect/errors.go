package redirect

// SetupError reports a construction-time failure: opening a redirection
// file, creating a pipe pair, or marking a local end close-on-exec. It
// carries the underlying OS error and, when applicable, the path involved.
// Check for it with errors.As.
type SetupError struct {
	Op   string
	Path string
	Err  error
}

func (e *SetupError) Error() string {
	if e.Path != "" {
		return e.Op + ": " + e.Path + " : " + e.Err.Error()
	}
	return e.Op + " : " + e.Err.Error()
}

func (e *SetupError) Unwrap() error {
	return e.Err
}
