package tts

import (
	"fmt"
	"net"
	"net/url"

	"github.com/loqalabs/chatsay/internal/config"
)

const (
	DefaultURL      = "http://localhost:7180"
	DefaultScheme   = "http"
	DefaultHost     = "localhost"
	DefaultPort     = "7180"
	DefaultUsername = "SeikaServerUser"
	DefaultPassword = "SeikaServerPassword"
)

// Endpoint is a fully resolved SeikaSay2 server address. URL always carries a
// scheme, a host and an explicit port.
type Endpoint struct {
	URL      *url.URL
	Username string
	Password string
}

// ConfigError reports an endpoint that cannot be used at all.
type ConfigError struct {
	Raw    string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid seika url %q: %s: %v", e.Raw, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid seika url %q: %s", e.Raw, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ResolveEndpoint fills in whatever the [seika] section leaves out. Each
// component is defaulted on its own, so a URL naming a host but no port keeps
// the host. A missing port is always replaced by DefaultPort, even when the
// scheme has a well-known port of its own.
func ResolveEndpoint(cfg config.SeikaConfig) (Endpoint, error) {
	raw := DefaultURL
	if cfg.URL != nil {
		raw = *cfg.URL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, &ConfigError{Raw: raw, Reason: "parse failed", Err: err}
	}
	if u.Opaque != "" {
		return Endpoint{}, &ConfigError{Raw: raw, Reason: "url cannot carry a path"}
	}
	// A bare "seika.lan" parses as a relative path, not a host.
	if u.Scheme == "" && u.Host == "" {
		return Endpoint{}, &ConfigError{Raw: raw, Reason: "not an absolute url"}
	}

	if u.Scheme == "" {
		u.Scheme = DefaultScheme
	}
	host := u.Hostname()
	if host == "" {
		host = DefaultHost
	}
	port := u.Port()
	if port == "" {
		port = DefaultPort
	}
	u.Host = net.JoinHostPort(host, port)

	return Endpoint{
		URL:      u,
		Username: valueOr(cfg.Username, DefaultUsername),
		Password: valueOr(cfg.Password, DefaultPassword),
	}, nil
}

// Resolve returns ref resolved against the endpoint URL, the way a browser
// resolves a relative link.
func (e Endpoint) Resolve(ref string) *url.URL {
	return e.URL.ResolveReference(&url.URL{Path: ref})
}

// String renders the URL with any embedded password masked.
func (e Endpoint) String() string {
	return e.URL.Redacted()
}

func valueOr(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}
