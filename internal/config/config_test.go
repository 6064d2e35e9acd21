package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const minimalYAML = `chat:
  source: irc
  irc:
    nickname: justinfan4242
    channels: ["#example"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatsay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	req := require.New(t)
	cfg, err := Load(writeConfig(t, minimalYAML))
	req.NoError(err)

	req.Nil(cfg.Seika.URL)
	req.Nil(cfg.Seika.Username)
	req.Nil(cfg.Seika.Password)
	req.Equal(32, cfg.Relay.Capacity)
	req.Equal("fatal", cfg.Relay.Overflow)
	req.Equal("first", cfg.Voice.Strategy)
	req.Equal("log", cfg.Dispatch.OnFailure)
	req.Equal("irc.chat.twitch.tv:6697", cfg.Chat.IRC.Server)
	req.Equal([]string{"#example"}, cfg.Chat.IRC.Channels)
}

func TestLoadSeikaSection(t *testing.T) {
	req := require.New(t)
	cfg, err := Load(writeConfig(t, minimalYAML+`seika:
  url: "http://seika.local:7180"
  username: user
`))
	req.NoError(err)
	req.NotNil(cfg.Seika.URL)
	req.Equal("http://seika.local:7180", *cfg.Seika.URL)
	req.NotNil(cfg.Seika.Username)
	req.Equal("user", *cfg.Seika.Username)
	req.Nil(cfg.Seika.Password)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "config file not found")
}

func TestLoadUnparseableFile(t *testing.T) {
	_, err := Load(writeConfig(t, "chat: [unterminated"))
	require.ErrorContains(t, err, "failed to parse config file")
}

func TestEnvOverrides(t *testing.T) {
	req := require.New(t)
	t.Setenv("CHATSAY_SEIKA_URL", "http://10.0.0.5")
	t.Setenv("CHATSAY_SEIKA_PASSWORD", "secret")
	t.Setenv("CHATSAY_CHAT_IRC_CHANNELS", "#one,#two")
	t.Setenv("CHATSAY_RELAY_CAPACITY", "8")
	t.Setenv("CHATSAY_RELAY_OVERFLOW", "drop_oldest")
	t.Setenv("CHATSAY_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("CHATSAY_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("CHATSAY_BUS_ENABLED", "true")
	t.Setenv("CHATSAY_BUS_SERVERS", "nats://one:4222,nats://two:4222")

	cfg, err := Load(writeConfig(t, minimalYAML))
	req.NoError(err)

	req.Equal("http://10.0.0.5", *cfg.Seika.URL)
	req.Nil(cfg.Seika.Username)
	req.Equal("secret", *cfg.Seika.Password)
	req.Equal([]string{"#one", "#two"}, cfg.Chat.IRC.Channels)
	req.Equal(8, cfg.Relay.Capacity)
	req.Equal("drop_oldest", cfg.Relay.Overflow)
	req.Equal("persistent", cfg.EventStore.RetentionMode)
	req.Equal(7, cfg.EventStore.RetentionDays)
	req.True(cfg.Bus.Enabled)
	req.Len(cfg.Bus.Servers, 2)
}

func TestValidateRejectsUnknownPolicies(t *testing.T) {
	cases := map[string]string{
		"overflow": minimalYAML + "relay:\n  overflow: spill\n",
		"strategy": minimalYAML + "voice:\n  strategy: random\n",
		"failure":  minimalYAML + "dispatch:\n  on_failure: panic\n",
		"capacity": minimalYAML + "relay:\n  capacity: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.ErrorContains(t, err, "invalid config")
		})
	}
}

func TestValidateCrossFieldRules(t *testing.T) {
	cases := map[string]string{
		"irc without channels": "chat:\n  irc:\n    nickname: bot\n",
		"name without voice":   minimalYAML + "voice:\n  strategy: name\n",
		"nats without bus":     "chat:\n  source: nats\n",
		"exec without command": "chat:\n  source: exec\n",
		"publish without bus":  minimalYAML + "dispatch:\n  publish_results: true\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}
