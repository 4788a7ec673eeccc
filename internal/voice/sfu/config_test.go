package sfu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_ToWebRTCConfig_StunOnly(t *testing.T) {
	c := &Config{STUNURL: "stun:stun.example.com:3478"}
	cfg := c.ToWebRTCConfig()
	assert.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.example.com:3478"}, cfg.ICEServers[0].URLs)
}

func TestConfig_ToWebRTCConfig_StunAndTurn(t *testing.T) {
	c := &Config{
		STUNURL:        "stun:stun.example.com:3478",
		TURNURL:        "turn:turn.example.com:3478",
		TURNUsername:   "user",
		TURNCredential: "secret",
	}
	cfg := c.ToWebRTCConfig()
	assert.Len(t, cfg.ICEServers, 2)
	assert.Equal(t, "user", cfg.ICEServers[1].Username)
	assert.Equal(t, "secret", cfg.ICEServers[1].Credential)
}

func TestConfig_ToWebRTCConfig_Empty(t *testing.T) {
	c := &Config{}
	cfg := c.ToWebRTCConfig()
	assert.Empty(t, cfg.ICEServers)
}
