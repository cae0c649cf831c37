package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/sharedview/internal/adapters/rtc"
	"github.com/rs/zerolog/log"
)

type api struct {
	base  string
	token string
	http  *http.Client
}

func newAPI(base, token string) *api {
	return &api{base: strings.TrimRight(base, "/"), token: token, http: &http.Client{Timeout: 10 * time.Second}}
}

func (a *api) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type iceConfig struct {
	STUNServers        []string `json:"stun_servers"`
	TURNServers        []string `json:"turn_servers"`
	TURNUser           string   `json:"turn_user"`
	TURNPass           string   `json:"turn_pass"`
	ForceRelay         bool     `json:"force_relay"`
	NegotiationTimeout string   `json:"negotiation_timeout"`
}

// serverRTCConfig asks the server for its ICE setup. Failures fall back to
// the built-in defaults.
func (a *api) serverRTCConfig(ctx context.Context) rtc.Config {
	cfg := rtc.DefaultConfig()
	var ice iceConfig
	if err := a.do(ctx, http.MethodGet, "/api/rtc/config", nil, &ice); err != nil {
		log.Warn().Err(err).Msg("using default ICE servers")
		return cfg
	}
	cfg.STUNServers = ice.STUNServers
	cfg.TURNServers = ice.TURNServers
	cfg.TURNUser = ice.TURNUser
	cfg.TURNPass = ice.TURNPass
	cfg.ForceRelay = ice.ForceRelay
	if d, err := time.ParseDuration(ice.NegotiationTimeout); err == nil && d > 0 {
		cfg.NegotiationTimeout = d
	}
	return cfg
}
