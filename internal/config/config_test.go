package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validParams() Params {
	return Params{
		ServerAddr:     "localhost:8080",
		DatabaseDSN:    "host=localhost user=postgres password=postgres dbname=halaqah sslmode=disable",
		SigningSecret:  "c29tZV9zZWNyZXQ=",
		AllowedOrigins: []string{"http://localhost:3000"},
	}
}

func TestNewConfig(t *testing.T) {
	tcases := []struct {
		name   string
		modify func(p *Params)
		err    bool
	}{
		{
			name:   "valid config",
			modify: func(p *Params) {},
		},
		{
			name:   "empty address",
			modify: func(p *Params) { p.ServerAddr = "" },
			err:    true,
		},
		{
			name:   "empty DSN",
			modify: func(p *Params) { p.DatabaseDSN = "" },
			err:    true,
		},
		{
			name:   "empty signing key",
			modify: func(p *Params) { p.SigningSecret = "" },
			err:    true,
		},
		{
			name:   "invalid signing key",
			modify: func(p *Params) { p.SigningSecret = "not base64!" },
			err:    true,
		},
		{
			name: "heartbeat not shorter than ttl",
			modify: func(p *Params) {
				p.HeartbeatInterval = time.Minute
				p.PresenceTTL = time.Minute
			},
			err: true,
		},
		{
			name: "heartbeat not shorter than sweep",
			modify: func(p *Params) {
				p.HeartbeatInterval = 20 * time.Second
				p.SweepInterval = 20 * time.Second
			},
			err: true,
		},
		{
			name: "heartbeat longer than sweep",
			modify: func(p *Params) {
				p.HeartbeatInterval = 30 * time.Second
				p.SweepInterval = 15 * time.Second
			},
			err: true,
		},
		{
			name: "sweep not shorter than ttl",
			modify: func(p *Params) {
				p.SweepInterval = 2 * time.Minute
			},
			err: true,
		},
		{
			name:   "negative typing timeout",
			modify: func(p *Params) { p.TypingTimeout = -time.Second },
			err:    true,
		},
		{
			name:   "negative heartbeat",
			modify: func(p *Params) { p.HeartbeatInterval = -time.Second },
			err:    true,
		},
		{
			name: "custom intervals",
			modify: func(p *Params) {
				p.HeartbeatInterval = 5 * time.Second
				p.PresenceTTL = 30 * time.Second
				p.SweepInterval = 10 * time.Second
				p.TypingTimeout = 3 * time.Second
			},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.modify(&p)

			config, err := NewConfig(p)
			if tc.err {
				assert.Error(t, err, "expected error for config: %s", tc.name)
				return
			}
			assert.NoError(t, err, "expected no error for config: %s", tc.name)

			assert.Equal(t, p.ServerAddr, config.ServerAddr, "expected server address to match")
			assert.Equal(t, p.DatabaseDSN, config.DatabaseDSN, "expected database DSN to match")
			assert.Equal(t, p.AllowedOrigins, config.AllowedOrigins, "expected allowed origins to match")
			assert.Equal(t, []byte("some_secret"), config.SigningKey, "expected signing key to be decoded")
			assert.Less(t, config.HeartbeatInterval, config.SweepInterval)
			assert.Less(t, config.SweepInterval, config.PresenceTTL)
		})
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	config, err := NewConfig(validParams())
	assert.NoError(t, err)

	assert.Equal(t, DefaultRedisPrefix, config.RedisPrefix)
	assert.Equal(t, DefaultHeartbeatInterval, config.HeartbeatInterval)
	assert.Equal(t, DefaultPresenceTTL, config.PresenceTTL)
	assert.Equal(t, DefaultSweepInterval, config.SweepInterval)
	assert.Equal(t, DefaultTypingTimeout, config.TypingTimeout)
	assert.Less(t, DefaultHeartbeatInterval, DefaultSweepInterval)
	assert.Less(t, DefaultSweepInterval, DefaultPresenceTTL)
	assert.Empty(t, config.RedisAddr, "expected the in-memory store by default")
}

func Test_decodeSigningKey(t *testing.T) {
	tcases := []struct {
		name         string
		base64Secret string
		expectedKey  []byte
		expectError  bool
	}{
		{
			name:         "valid base64 secret",
			base64Secret: "c29tZV9zZWNyZXQ=",
			expectedKey:  []byte("some_secret"),
		},
		{
			name:         "invalid base64 secret",
			base64Secret: "invalid_base64",
			expectError:  true,
		},
		{
			name:         "empty base64 secret",
			base64Secret: "",
			expectError:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := decodeSigningSecret(tc.base64Secret)
			if tc.expectError {
				assert.Error(t, err, "expected error for base64 secret: %s", tc.base64Secret)
			} else {
				assert.NoError(t, err, "expected no error for base64 secret: %s", tc.base64Secret)
				assert.Equal(t, tc.expectedKey, key, "expected decoded key to match for base64 secret: %s", tc.base64Secret)
			}
		})
	}
}
