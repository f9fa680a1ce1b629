// Package config provides configuration management for AuthBridge.
// It handles loading and parsing YAML configuration files, and provides structured
// access to backend routes, transport settings, persistence backends, session
// policies and logging options.
package config

// SDKConfig holds the settings an embedding application needs to talk to the backend.
type SDKConfig struct {
	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	// Supported schemes are http, https and socks5.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// RequestTimeout bounds a single transport round trip, in seconds.
	// <= 0 disables the client-side timeout.
	RequestTimeout int `yaml:"request-timeout,omitempty" json:"request-timeout,omitempty"`

	// Routes are the backend endpoints used by the login, refresh and initial check flows.
	Routes RoutesConfig `yaml:"routes" json:"routes"`

	// Refresh tunes the refresh-and-retry coordinator.
	Refresh RefreshConfig `yaml:"refresh" json:"refresh"`
}

// RoutesConfig lists the opaque backend URLs used by the bridge.
type RoutesConfig struct {
	// Login receives {"user","password"} as JSON and answers with the profile and token headers.
	Login string `yaml:"login-route" json:"login-route"`

	// RefreshToken is requested with GET whenever a response signals "refresh".
	RefreshToken string `yaml:"refresh-token-route" json:"refresh-token-route"`

	// InitialAuthCheck is requested at startup to re-validate the active session.
	InitialAuthCheck string `yaml:"initial-auth-check-route" json:"initial-auth-check-route"`
}

// RefreshConfig holds the refresh circuit breaker settings.
type RefreshConfig struct {
	// BreakerThreshold is the number of consecutive replays that still asked for a refresh
	// before the coordinator stops issuing refresh calls. <= 0 disables the breaker.
	BreakerThreshold int `yaml:"breaker-threshold,omitempty" json:"breaker-threshold,omitempty"`

	// BreakerCooldownSeconds controls how long the breaker stays open.
	BreakerCooldownSeconds int `yaml:"breaker-cooldown-seconds,omitempty" json:"breaker-cooldown-seconds,omitempty"`
}
