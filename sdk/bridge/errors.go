package bridge

import "errors"

// Configuration sentinels wrapped by ConfigError.
var (
	ErrNoTransport      = errors.New("no HTTP client created")
	ErrNoLoginRoute     = errors.New("no login route found")
	ErrNoRefreshRoute   = errors.New("no refresh token route found")
	ErrNoAuthCheckRoute = errors.New("auth check route not found")
)

// ConfigError reports a setup mistake detected when an operation is called.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return "bridge: " + e.Op + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configError(op string, err error) error {
	return &ConfigError{Op: op, Err: err}
}
