// Package sfu is the native Go selective forwarding unit for voice/video
// channels: one Room per channel, one Peer per participant, four track
// sources per peer (microphone, webcam, screen-video, screen-audio)
// forwarded by (source_user, source) identity to every other participant.
package sfu

import "github.com/pion/webrtc/v4"

// Config holds the SFU's WebRTC-facing configuration, sourced from the
// STUN_SERVER/TURN_SERVER/TURN_USERNAME/TURN_CREDENTIAL env vars.
type Config struct {
	PublicIP        string
	MinPort         uint16
	MaxPort         uint16
	STUNURL         string
	TURNURL         string
	TURNUsername    string
	TURNCredential  string
	MaxPeersPerRoom int
	MaxScreenShares int
}

// ToWebRTCConfig builds the pion ICE server configuration.
func (c *Config) ToWebRTCConfig() webrtc.Configuration {
	var servers []webrtc.ICEServer
	if c.STUNURL != "" {
		servers = append(servers, webrtc.ICEServer{URLs: []string{c.STUNURL}})
	}
	if c.TURNURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:           []string{c.TURNURL},
			Username:       c.TURNUsername,
			Credential:     c.TURNCredential,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return webrtc.Configuration{ICEServers: servers}
}

// Signaling payload shapes sent to clients over the gateway.
type OfferPayload struct {
	SDP string `json:"sdp"`
}

type ICECandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}
