// ABOUTME: Tests for matrix bridge config parsing and validation
// ABOUTME: Covers env expansion, timeouts and the init template

package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
[matrix]
homeserver = "https://matrix.example.org"
username = "almond"
password = "${TEST_MATRIX_PASSWORD}"

[gateway]
url = "http://localhost:8080"
token = "tok"

[bridge]
allowed_rooms = ["!a:example.org"]
command_prefix = "!almond "
typing_indicator = true
`

func TestParseConfig(t *testing.T) {
	t.Setenv("TEST_MATRIX_PASSWORD", "hunter2")

	cfg, err := parse(validConfig)
	require.NoError(t, err)

	assert.Equal(t, "hunter2", cfg.Matrix.Password)
	assert.Equal(t, "tok", cfg.Gateway.Token)
	assert.Equal(t, defaultGatewayTimeout, cfg.Gateway.Timeout)
	assert.Equal(t, []string{"!a:example.org"}, cfg.Bridge.AllowedRooms)
	assert.Equal(t, "!almond ", cfg.Bridge.CommandPrefix)
	assert.True(t, cfg.Bridge.TypingIndicator)
	assert.False(t, cfg.Bridge.PlainText)
}

func TestParseConfigTimeout(t *testing.T) {
	cfg, err := parse(`
[matrix]
homeserver = "https://matrix.example.org"
username = "almond"
password = "pw"

[gateway]
url = "https://gw.example.ts.net"
timeout = "45s"
`)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Gateway.Timeout)

	_, err = parse(`
[matrix]
homeserver = "https://matrix.example.org"
username = "almond"
password = "pw"

[gateway]
url = "https://gw.example.ts.net"
timeout = "soon"
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway.timeout")
}

func TestConfigValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Matrix:  MatrixConfig{Homeserver: "https://m.example.org", Username: "u", Password: "p"},
			Gateway: GatewayConfig{URL: "http://localhost:8080", Timeout: time.Minute},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no homeserver", mutate: func(c *Config) { c.Matrix.Homeserver = "" }, wantErr: "matrix.homeserver"},
		{name: "no username", mutate: func(c *Config) { c.Matrix.Username = "" }, wantErr: "matrix.username"},
		{name: "no password", mutate: func(c *Config) { c.Matrix.Password = "" }, wantErr: "matrix.password"},
		{name: "no gateway", mutate: func(c *Config) { c.Gateway.URL = "" }, wantErr: "gateway.url is required"},
		{name: "bad scheme", mutate: func(c *Config) { c.Gateway.URL = "ftp://gw" }, wantErr: "http or https"},
		{name: "zero timeout", mutate: func(c *Config) { c.Gateway.Timeout = 0 }, wantErr: "gateway.timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRenderInitConfigParses(t *testing.T) {
	t.Setenv("ALMOND_TOKEN", "from-env")

	content := renderInitConfig("https://matrix.org", "almond", `p"w`, "", "http://localhost:8080", "${ALMOND_TOKEN}", "!almond ")
	cfg, err := parse(content)
	require.NoError(t, err)

	assert.Equal(t, `p"w`, cfg.Matrix.Password)
	assert.Equal(t, "from-env", cfg.Gateway.Token)
	assert.Equal(t, 2*time.Minute, cfg.Gateway.Timeout)
	assert.Equal(t, "!almond ", cfg.Bridge.CommandPrefix)
	assert.Empty(t, cfg.Bridge.AllowedRooms)
}
