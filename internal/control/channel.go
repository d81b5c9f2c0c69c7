// Package control maintains the connection to the control server and
// feeds validated program and config updates to the render side without
// ever blocking it. One bad message never drops the session; a dropped
// session never stops the renderer.
package control

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/luminet/stripd/internal/config"
	"github.com/luminet/stripd/internal/program"
	"github.com/luminet/stripd/internal/swap"
)

// Session is the connection state machine.
type Session int32

const (
	Disconnected Session = iota
	Connecting
	Connected
)

func (s Session) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "Unknown"
	}
}

const (
	maxPayloadBytes = 8 << 20 // largest accepted frame; programs are capped far below
	readIdleTimeout = 90 * time.Second
	pingInterval    = 30 * time.Second

	// steadyConnection is how long a connection must survive before the
	// reconnect backoff resets to its minimum.
	steadyConnection = 60 * time.Second

	backoffInitial = 500 * time.Millisecond
	backoffMax     = 30 * time.Second
)

// Player is the slice of the scheduler the control verbs touch.
type Player interface {
	SetPaused(bool)
}

// Channel owns the websocket session. Program and config hand-off to the
// render path goes through swap cells: latest wins, the render path
// never waits on us, and we never hold a lock it needs.
type Channel struct {
	url    string
	dialer websocket.Dialer
	engine *program.Engine
	player Player

	cfgCell  *swap.Cell[config.Update]
	progCell *swap.Cell[program.Load]

	session      string
	generation   atomic.Uint64
	state        atomic.Int32
	writeTimeout time.Duration

	// cfg is the channel's best-known configuration, used to validate
	// merges and to pick the pixel count programs compile against. The
	// scheduler owns the authoritative copy.
	mu  sync.Mutex
	cfg config.Config

	log zerolog.Logger
}

func New(
	cfg config.Config,
	engine *program.Engine,
	player Player,
	cfgCell *swap.Cell[config.Update],
	progCell *swap.Cell[program.Load],
	log zerolog.Logger,
) *Channel {
	return &Channel{
		url: cfg.Server.URL,
		dialer: websocket.Dialer{
			HandshakeTimeout: cfg.Server.HandshakeTimeout,
		},
		engine:       engine,
		player:       player,
		cfgCell:      cfgCell,
		progCell:     progCell,
		session:      uuid.NewString(),
		writeTimeout: cfg.Server.WriteTimeout,
		cfg:          cfg,
		log:          log.With().Str("component", "control").Logger(),
	}
}

func (c *Channel) State() Session { return Session(c.state.Load()) }

// Generation returns the latest successfully loaded program generation.
func (c *Channel) Generation() uint64 { return c.generation.Load() }

func newReconnectBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = backoffInitial
	bo.MaxInterval = backoffMax
	bo.MaxElapsedTime = 0 // retry forever; nobody is around to restart us
	return bo
}

// Run dials, serves, and reconnects with exponential backoff until ctx
// is cancelled. Program and config state loaded in earlier sessions is
// retained across reconnects.
func (c *Channel) Run(ctx context.Context) error {
	bo := newReconnectBackoff()
	for {
		c.state.Store(int32(Connecting))
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				c.state.Store(int32(Disconnected))
				return nil
			}
			wait := bo.NextBackOff()
			c.log.Warn().Err(err).Dur("retry_in", wait).Msg("connect failed")
			select {
			case <-ctx.Done():
				c.state.Store(int32(Disconnected))
				return nil
			case <-time.After(wait):
			}
			continue
		}

		c.state.Store(int32(Connected))
		c.log.Info().Str("url", c.url).Msg("connected to control server")
		steady := time.AfterFunc(steadyConnection, bo.Reset)
		err = c.serve(ctx, conn)
		steady.Stop()
		conn.Close()
		c.state.Store(int32(Disconnected))

		if ctx.Err() != nil {
			return nil
		}
		wait := bo.NextBackOff()
		c.log.Warn().Err(err).Dur("retry_in", wait).Msg("connection lost")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// serve pumps one connection until it breaks or ctx ends. On ctx
// cancellation the in-flight write finishes and the socket closes with a
// normal-closure frame.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(maxPayloadBytes)
	conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	})

	var wmu sync.Mutex
	write := func(v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		wmu.Lock()
		defer wmu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		return conn.WriteMessage(websocket.TextMessage, b)
	}

	if err := write(hello{
		Type:       typeHello,
		Session:    c.session,
		Generation: c.generation.Load(),
		PixelCount: c.snapshot().PixelCount,
		ABIVersion: ABIVersion,
	}); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				wmu.Lock()
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(c.writeTimeout))
				wmu.Unlock()
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				wmu.Lock()
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
				wmu.Unlock()
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		c.handle(data, write)
	}
}

// handle dispatches one inbound frame. All validation failures are
// answered with a nack and the connection stays open.
func (c *Channel) handle(data []byte, write func(any) error) {
	env, err := decode(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("dropping malformed frame")
		c.reply(write, ack{Type: typeAck, ID: env.ID, OK: false, Error: "malformed message"})
		return
	}

	switch env.Type {
	case typeLoadProgram:
		c.handleLoad(env, write)
	case typeSetConfig:
		c.handleSetConfig(env, write)
	case typePing:
		c.reply(write, ack{Type: typePong, ID: env.ID, OK: true})
	case typePause:
		c.player.SetPaused(true)
		c.reply(write, ack{Type: typeAck, ID: env.ID, OK: true})
	case typeResume:
		c.player.SetPaused(false)
		c.reply(write, ack{Type: typeAck, ID: env.ID, OK: true})
	default:
		c.log.Warn().Str("type", env.Type).Msg("unsupported message type")
		c.reply(write, ack{Type: typeAck, ID: env.ID, OK: false, Error: "unsupported type: " + env.Type})
	}
}

func (c *Channel) handleLoad(env envelope, write func(any) error) {
	if len(env.WASM) == 0 {
		c.reply(write, ack{Type: typeAck, ID: env.ID, OK: false, Error: "empty program payload"})
		return
	}
	prog, err := c.engine.Compile(env.WASM, c.snapshot().PixelCount)
	if err != nil {
		c.log.Warn().Err(err).Int("bytes", len(env.WASM)).Msg("program rejected")
		c.reply(write, ack{Type: typeAck, ID: env.ID, OK: false, Error: err.Error()})
		return
	}
	gen := c.generation.Add(1)
	c.progCell.Publish(&program.Load{Prog: prog, Generation: gen})
	c.log.Info().Uint64("generation", gen).Int("bytes", len(env.WASM)).Msg("program loaded")
	c.reply(write, ack{Type: typeAck, ID: env.ID, OK: true, Generation: gen})
}

func (c *Channel) handleSetConfig(env envelope, write func(any) error) {
	c.mu.Lock()
	next, err := c.cfg.Merge(env.Update)
	if err == nil {
		c.cfg = next
	}
	c.mu.Unlock()
	if err != nil {
		c.log.Warn().Err(err).Msg("config update rejected")
		c.reply(write, ack{Type: typeAck, ID: env.ID, OK: false, Error: err.Error()})
		return
	}
	u := env.Update
	c.cfgCell.Publish(&u)
	c.reply(write, ack{Type: typeAck, ID: env.ID, OK: true})
}

func (c *Channel) reply(write func(any) error, a ack) {
	if err := write(a); err != nil {
		c.log.Debug().Err(err).Msg("reply failed")
	}
}

func (c *Channel) snapshot() config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}
