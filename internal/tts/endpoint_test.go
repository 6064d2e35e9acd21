package tts

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loqalabs/chatsay/internal/config"
)

func strPtr(s string) *string { return &s }

func TestResolveEndpointDefaults(t *testing.T) {
	req := require.New(t)
	ep, err := ResolveEndpoint(config.SeikaConfig{})
	req.NoError(err)

	req.Equal("http", ep.URL.Scheme)
	req.Equal("localhost", ep.URL.Hostname())
	req.Equal("7180", ep.URL.Port())
	req.Equal("SeikaServerUser", ep.Username)
	req.Equal("SeikaServerPassword", ep.Password)
}

func TestResolveEndpointKeepsGivenComponents(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		scheme string
		host   string
		port   string
	}{
		{name: "host without port", raw: "http://seika.lan", scheme: "http", host: "seika.lan", port: "7180"},
		{name: "https without port", raw: "https://seika.lan", scheme: "https", host: "seika.lan", port: "7180"},
		{name: "explicit port", raw: "http://10.1.2.3:8001", scheme: "http", host: "10.1.2.3", port: "8001"},
		{name: "explicit canonical port", raw: "https://seika.lan:443", scheme: "https", host: "seika.lan", port: "443"},
		{name: "scheme relative", raw: "//seika.lan:9000", scheme: "http", host: "seika.lan", port: "9000"},
		{name: "empty host", raw: "http:///speak/", scheme: "http", host: "localhost", port: "7180"},
		{name: "ipv6", raw: "http://[::1]", scheme: "http", host: "::1", port: "7180"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := require.New(t)
			ep, err := ResolveEndpoint(config.SeikaConfig{URL: strPtr(tc.raw)})
			req.NoError(err)
			req.Equal(tc.scheme, ep.URL.Scheme)
			req.Equal(tc.host, ep.URL.Hostname())
			req.Equal(tc.port, ep.URL.Port())
		})
	}
}

func TestResolveEndpointCredentials(t *testing.T) {
	req := require.New(t)
	ep, err := ResolveEndpoint(config.SeikaConfig{Username: strPtr("alice")})
	req.NoError(err)
	req.Equal("alice", ep.Username)
	req.Equal(DefaultPassword, ep.Password)

	ep, err = ResolveEndpoint(config.SeikaConfig{Username: strPtr(""), Password: strPtr("")})
	req.NoError(err)
	req.Empty(ep.Username)
	req.Empty(ep.Password)
}

func TestResolveEndpointIsIdempotent(t *testing.T) {
	req := require.New(t)
	cfg := config.SeikaConfig{URL: strPtr("https://seika.lan/api/"), Password: strPtr("pw")}
	first, err := ResolveEndpoint(cfg)
	req.NoError(err)
	second, err := ResolveEndpoint(cfg)
	req.NoError(err)
	req.Equal(first, second)
	req.NotSame(first.URL, second.URL)
}

func TestResolveEndpointRejectsUnusableURLs(t *testing.T) {
	for _, raw := range []string{"mailto:someone@example.com", "http://bad host/", "localhost:7180", "http://[::1", "seika.lan", "192.168.1.20", "seika.lan/api"} {
		t.Run(raw, func(t *testing.T) {
			_, err := ResolveEndpoint(config.SeikaConfig{URL: strPtr(raw)})
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %v", err)
		})
	}
}

func TestEndpointResolve(t *testing.T) {
	req := require.New(t)
	ep, err := ResolveEndpoint(config.SeikaConfig{})
	req.NoError(err)
	req.Equal("http://localhost:7180/AVATOR2", ep.Resolve("AVATOR2").String())
	req.Equal("http://localhost:7180/PLAYASYNC2/3001", ep.Resolve("PLAYASYNC2/3001").String())

	ep, err = ResolveEndpoint(config.SeikaConfig{URL: strPtr("http://seika.lan:7180/proxy/")})
	req.NoError(err)
	req.Equal("http://seika.lan:7180/proxy/AVATOR2", ep.Resolve("AVATOR2").String())
}
