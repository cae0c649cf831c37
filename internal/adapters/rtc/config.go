package rtc

import (
	"time"

	"github.com/pion/webrtc/v4"
)

const DefaultNegotiationTimeout = 30 * time.Second

type Config struct {
	STUNServers        []string
	TURNServers        []string
	TURNUser           string
	TURNPass           string
	ForceRelay         bool
	NegotiationTimeout time.Duration

	// settings replaces the default pion API; tests use it for loopback ICE.
	settings *webrtc.SettingEngine
}

func DefaultConfig() Config {
	return Config{
		STUNServers:        []string{"stun:stun.l.google.com:19302"},
		NegotiationTimeout: DefaultNegotiationTimeout,
	}
}

func (c Config) webrtcConfig() webrtc.Configuration {
	var servers []webrtc.ICEServer
	if len(c.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.STUNServers})
	}
	policy := webrtc.ICETransportPolicyAll
	if len(c.TURNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       c.TURNServers,
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
		if c.ForceRelay {
			policy = webrtc.ICETransportPolicyRelay
		}
	}
	return webrtc.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: policy,
	}
}

func (c Config) newPeerConnection() (*webrtc.PeerConnection, error) {
	if c.settings == nil {
		return webrtc.NewPeerConnection(c.webrtcConfig())
	}
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(*c.settings), webrtc.WithMediaEngine(m))
	return api.NewPeerConnection(c.webrtcConfig())
}
