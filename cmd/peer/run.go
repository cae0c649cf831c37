package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/sharedview/internal/adapters/rtc"
	"github.com/dkeye/sharedview/internal/adapters/signalclient"
	"github.com/dkeye/sharedview/internal/app/session"
	"github.com/dkeye/sharedview/internal/core"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const signalPath = "/api/ws/signal"

func signalURL(server string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += signalPath
	return u.String(), nil
}

// overridden reports whether the user set a flag explicitly, on the
// command line or through SV_* env.
func overridden(name string) bool {
	if f := rootCmd.PersistentFlags().Lookup(name); f != nil && f.Changed {
		return true
	}
	_, ok := os.LookupEnv("SV_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")))
	return ok
}

// rtcConfig layers explicit flags over the server's ICE setup.
func rtcConfig(base rtc.Config) rtc.Config {
	cfg := base
	if overridden("stun") {
		cfg.STUNServers = viper.GetStringSlice("stun")
	}
	if overridden("turn") {
		cfg.TURNServers = nil
		if turn := viper.GetString("turn"); turn != "" {
			cfg.TURNServers = []string{turn}
		}
	}
	if overridden("turn-user") {
		cfg.TURNUser = viper.GetString("turn-user")
	}
	if overridden("turn-pass") {
		cfg.TURNPass = viper.GetString("turn-pass")
	}
	if overridden("relay") {
		cfg.ForceRelay = viper.GetBool("relay")
	}
	if d := viper.GetDuration("negotiation-timeout"); d > 0 {
		cfg.NegotiationTimeout = d
	}
	return cfg
}

// peer is one terminal member of a room. capture is nil for watchers.
type peer struct {
	client  *signalclient.Client
	view    *session.View
	capture core.CaptureDevice

	mu     sync.Mutex
	names  map[domain.UserID]string
	online map[domain.UserID]bool
}

func (p *peer) name(u domain.UserID) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n, ok := p.names[u]; ok {
		return n
	}
	return string(u)
}

func (p *peer) remember(m domain.ParticipantView) {
	p.mu.Lock()
	p.names[m.UserID] = m.Nickname
	p.online[m.UserID] = m.IsConnected
	p.mu.Unlock()
}

func (p *peer) forget(u domain.UserID) {
	p.mu.Lock()
	delete(p.online, u)
	p.mu.Unlock()
}

func (p *peer) isOnline(u domain.UserID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[u]
}

func run(ctx context.Context, room string, capture core.CaptureDevice) error {
	token := viper.GetString("token")
	if token == "" {
		return errors.New("no token: pass --token or set SV_TOKEN (see peer login)")
	}
	if room == "" {
		return errors.New("room is required")
	}
	wsURL, err := signalURL(viper.GetString("server"))
	if err != nil {
		return fmt.Errorf("invalid server: %w", err)
	}

	cfg := rtcConfig(newAPI(viper.GetString("server"), token).serverRTCConfig(ctx))

	client, err := signalclient.Dial(ctx, wsURL, token, domain.RoomID(room))
	if err != nil {
		return err
	}
	defer client.Close()

	snapshot, members, history := client.Snapshot()
	p := &peer{client: client, capture: capture, names: make(map[domain.UserID]string), online: make(map[domain.UserID]bool)}
	for _, m := range members {
		p.remember(m)
	}

	view, err := session.Open(ctx, session.Options{
		Room:     snapshot,
		Plane:    client,
		Signaler: client,
		Share:    capture != nil,
		NewEndpoint: func(remote domain.UserID) (core.TransportEndpoint, error) {
			ep, err := rtc.NewEndpoint(string(remote), cfg, capture)
			if err != nil {
				return nil, err
			}
			return ep, nil
		},
	})
	if err != nil {
		return err
	}
	defer view.Close()
	p.view = view

	fmt.Printf("joined %q as %s (host %s, controller %s)\n",
		snapshot.Name, p.name(view.Self()), p.name(snapshot.HostID), p.name(view.Controller()))
	for _, m := range history {
		fmt.Printf("  [%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), m.Nickname, m.Message)
	}

	view.OnControllerChange(func(u domain.UserID) {
		switch {
		case u == "":
			fmt.Println("* control released")
		case u == view.Self():
			fmt.Println("* you have control")
		default:
			fmt.Printf("* %s has control\n", p.name(u))
		}
	})
	view.OnControlRequest(func(req core.ControlRequest) {
		fmt.Printf("* %s requests control (grant %s)\n", p.name(req.RequesterID), req.RequesterID)
	})
	view.OnInput(func(from domain.UserID, sig core.ControlSignal) {
		fmt.Printf("< input from %s: %s\n", p.name(from), describe(sig))
	})
	view.OnLinkState(func(remote domain.UserID, s core.TransportState) {
		p.onLinkState(ctx, remote, s)
	})
	view.OnEndpoint(func(remote domain.UserID, ep core.TransportEndpoint) {
		ep.OnRemoteTrack(func(track *webrtc.TrackRemote) {
			fmt.Printf("* receiving %s from %s\n", track.Codec().MimeType, p.name(remote))
			go drain(track)
		})
	})

	memberSub := client.SubscribeMembers(ctx, p.onMember)
	defer memberSub.Unsubscribe()
	chatSub := client.SubscribeChat(ctx, func(m domain.ChatMessageView) {
		if m.UserID != view.Self() {
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), m.Nickname, m.Message)
		}
	})
	defer chatSub.Unsubscribe()

	if p.sharing() {
		for _, m := range members {
			if m.IsConnected && m.UserID != view.Self() {
				p.link(ctx, m.UserID)
			}
		}
	}

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.Done():
			return errors.New("server closed the connection")
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}
			quit, err := p.command(ctx, line)
			if err != nil {
				fmt.Printf("! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (p *peer) sharing() bool { return p.capture != nil }

func (p *peer) link(ctx context.Context, remote domain.UserID) {
	if slices.Contains(p.view.Peers(), remote) {
		return
	}
	if err := p.view.Connect(ctx, remote); err != nil {
		log.Warn().Err(err).Str("peer", string(remote)).Msg("failed to connect")
	}
}

const relinkDelay = 2 * time.Second

// onLinkState re-offers a link that ended on its own while the remote
// member is still online.
func (p *peer) onLinkState(ctx context.Context, remote domain.UserID, s core.TransportState) {
	log.Debug().Str("peer", string(remote)).Str("state", s.String()).Msg("link state")
	switch s {
	case core.TransportConnected:
		fmt.Printf("* linked with %s\n", p.name(remote))
	case core.TransportClosed:
		fmt.Printf("* link with %s lost\n", p.name(remote))
		if !p.sharing() {
			return
		}
		time.AfterFunc(relinkDelay, func() {
			if ctx.Err() == nil && p.isOnline(remote) {
				p.link(ctx, remote)
			}
		})
	}
}

func (p *peer) onMember(event string, m domain.ParticipantView) {
	p.remember(m)
	if m.UserID == p.view.Self() {
		return
	}
	switch event {
	case "member_joined":
		fmt.Printf("* %s joined\n", m.Nickname)
	case "member_left":
		fmt.Printf("* %s left\n", m.Nickname)
		p.forget(m.UserID)
		p.view.Disconnect(m.UserID)
		return
	}
	if !m.IsConnected {
		p.view.Disconnect(m.UserID)
		return
	}
	if p.sharing() {
		go p.link(context.Background(), m.UserID)
	}
}

const help = `commands:
  request                ask the host for control
  grant <user-id>        hand control to a member (host)
  revoke                 take control back (host)
  click <x> <y> [button] send a click
  move <x> <y>           send a pointer move
  key <key>              send a key press
  scroll <dy>            send a scroll
  say <text>             chat
  quit                   leave the room`

func (p *peer) command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	args := fields[1:]
	switch fields[0] {
	case "help", "?":
		fmt.Println(help)
	case "quit", "exit":
		if err := p.client.Leave(ctx); err != nil {
			return true, err
		}
		return true, nil
	case "request":
		return false, p.view.RequestControl(ctx)
	case "grant":
		if len(args) != 1 {
			return false, errors.New("usage: grant <user-id>")
		}
		return false, p.view.GrantControl(ctx, domain.UserID(args[0]))
	case "revoke":
		return false, p.view.RevokeControl(ctx)
	case "say":
		return false, p.client.SendChat(ctx, strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "say")))
	default:
		sig, err := parseInput(fields)
		if err != nil {
			return false, err
		}
		return false, p.view.SendInput(sig)
	}
	return false, nil
}

func parseInput(fields []string) (core.ControlSignal, error) {
	floats := func(n int) ([]float64, error) {
		if len(fields)-1 < n {
			return nil, fmt.Errorf("%s needs %d numbers", fields[0], n)
		}
		out := make([]float64, n)
		for i := range out {
			f, err := strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q", fields[i+1])
			}
			out[i] = f
		}
		return out, nil
	}

	switch fields[0] {
	case "click":
		xy, err := floats(2)
		if err != nil {
			return core.ControlSignal{}, err
		}
		button := 0
		if len(fields) > 3 {
			if button, err = strconv.Atoi(fields[3]); err != nil {
				return core.ControlSignal{}, fmt.Errorf("bad button %q", fields[3])
			}
		}
		return core.ControlSignal{Kind: "click", X: xy[0], Y: xy[1], Button: button, Down: true}, nil
	case "move":
		xy, err := floats(2)
		if err != nil {
			return core.ControlSignal{}, err
		}
		return core.ControlSignal{Kind: "pointer", X: xy[0], Y: xy[1]}, nil
	case "key":
		if len(fields) != 2 {
			return core.ControlSignal{}, errors.New("usage: key <key>")
		}
		return core.ControlSignal{Kind: "key", Key: fields[1], Down: true}, nil
	case "scroll":
		dy, err := floats(1)
		if err != nil {
			return core.ControlSignal{}, err
		}
		return core.ControlSignal{Kind: "scroll", DeltaY: dy[0]}, nil
	}
	return core.ControlSignal{}, fmt.Errorf("unknown command %q (try help)", fields[0])
}

func describe(sig core.ControlSignal) string {
	switch sig.Kind {
	case "click":
		return fmt.Sprintf("click %.0f,%.0f button %d", sig.X, sig.Y, sig.Button)
	case "pointer":
		return fmt.Sprintf("move %.0f,%.0f", sig.X, sig.Y)
	case "key":
		return "key " + sig.Key
	case "scroll":
		return fmt.Sprintf("scroll %.0f", sig.DeltaY)
	}
	return sig.Kind
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}

// drain reads the remote track until it ends; the terminal has nowhere to
// render frames, so packets are only counted.
func drain(track *webrtc.TrackRemote) {
	var packets int
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			log.Debug().Str("track", track.ID()).Int("packets", packets).Msg("track ended")
			return
		}
		packets++
		if packets%500 == 0 {
			log.Debug().Str("track", track.ID()).Int("packets", packets).Msg("receiving")
		}
	}
}
