// Package gateway keeps a bot session open on the Discord Gateway and hands
// incoming messages to a MessageHandler.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/liro/internal/discord"
)

const (
	// DefaultURL is used when GET /gateway/bot is unavailable
	DefaultURL = "wss://gateway.discord.gg"

	apiVersion = "10"

	// Gateway opcodes
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11

	// Gateway close codes
	closeAuthenticationFailed = 4004
	closeInvalidSeq           = 4007
	closeSessionTimedOut      = 4009
	closeInvalidShard         = 4010
	closeShardingRequired     = 4011
	closeInvalidAPIVersion    = 4012
	closeInvalidIntents       = 4013
	closeDisallowedIntents    = 4014
)

// Gateway intents
const (
	IntentGuilds         = 1 << 0
	IntentGuildMessages  = 1 << 9
	IntentDirectMessages = 1 << 12
	IntentMessageContent = 1 << 15

	DefaultIntents = IntentGuilds | IntentGuildMessages | IntentDirectMessages | IntentMessageContent
)

var (
	// ErrFatalClose is returned by Run when Discord closes the session with a code that cannot be retried
	ErrFatalClose = errors.New("gateway closed the session permanently")

	errReconnect      = errors.New("gateway requested reconnect")
	errInvalidSession = errors.New("gateway invalidated the session")
	errZombie         = errors.New("heartbeat not acknowledged")
)

// MessageHandler receives MESSAGE_CREATE events
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *discord.Message)
}

// MessageHandlerFunc adapts a function to MessageHandler
type MessageHandlerFunc func(ctx context.Context, msg *discord.Message)

// HandleMessage calls f
func (f MessageHandlerFunc) HandleMessage(ctx context.Context, msg *discord.Message) {
	f(ctx, msg)
}

// Payload is a Discord Gateway message
type Payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  *string         `json:"t,omitempty"`
}

type helloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

type readyData struct {
	SessionID        string       `json:"session_id"`
	ResumeGatewayURL string       `json:"resume_gateway_url"`
	User             discord.User `json:"user"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// Config configures a Gateway
type Config struct {
	Token   string
	URL     string
	Intents int
	// MinBackoff and MaxBackoff bound the delay between reconnect attempts
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Gateway is a single bot session on the Discord Gateway
type Gateway struct {
	cfg     Config
	handler MessageHandler
	dialer  *websocket.Dialer
	logger  *zap.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	// Session info
	sessionMu sync.RWMutex
	sessionID string
	resumeURL string
	botUserID string
	sequence  int64

	// Heartbeat
	heartbeatMu sync.Mutex
	awaitingAck bool
	lastSentAt  time.Time
	latency     time.Duration

	handlers sync.WaitGroup
}

// New creates a gateway session. Run connects it.
func New(cfg Config, handler MessageHandler, logger *zap.Logger) *Gateway {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Intents == 0 {
		cfg.Intents = DefaultIntents
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 2 * time.Minute
	}

	return &Gateway{
		cfg:     cfg,
		handler: handler,
		dialer:  websocket.DefaultDialer,
		logger:  logger,
	}
}

// Run connects and keeps the session alive until ctx is cancelled.
// It returns nil on cancellation and ErrFatalClose when Discord refuses the session.
func (g *Gateway) Run(ctx context.Context) error {
	defer g.handlers.Wait()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.MinBackoff
	b.MaxInterval = g.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		ready, err := g.connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrFatalClose) {
			g.logger.Error("gateway session refused", zap.Error(err))
			return err
		}
		if ready {
			b.Reset()
		}

		delay := b.NextBackOff()
		g.logger.Warn("gateway connection lost, reconnecting",
			zap.Error(err),
			zap.Bool("resumable", g.resumable()),
			zap.Duration("delay", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// connect runs one websocket connection until it fails. ready reports whether the
// session reached READY or RESUMED.
func (g *Gateway) connect(ctx context.Context) (ready bool, err error) {
	endpoint, err := g.endpoint()
	if err != nil {
		return false, err
	}

	g.logger.Info("connecting to Discord Gateway", zap.String("gateway_url", endpoint))

	conn, _, err := g.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to dial Gateway: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.writeMu.Lock()
	g.conn = conn
	g.writeMu.Unlock()

	// Unblocks ReadMessage on cancellation
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	heartbeatErr := make(chan error, 1)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case hbErr := <-heartbeatErr:
				return ready, hbErr
			default:
			}
			return ready, g.classifyReadError(err)
		}

		var payload Payload
		if err := json.Unmarshal(message, &payload); err != nil {
			g.logger.Error("failed to unmarshal Gateway payload", zap.Error(err))
			continue
		}

		if payload.S != nil {
			g.setSequence(*payload.S)
		}

		switch payload.Op {
		case opHello:
			var hello helloData
			if err := json.Unmarshal(payload.D, &hello); err != nil {
				return ready, fmt.Errorf("failed to unmarshal HELLO payload: %w", err)
			}
			interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
			g.logger.Debug("received HELLO from Gateway", zap.Duration("heartbeat_interval", interval))

			go func() {
				if err := g.heartbeatLoop(connCtx, interval); err != nil {
					heartbeatErr <- err
					cancel()
				}
			}()

			if err := g.sendHandshake(); err != nil {
				return ready, err
			}

		case opHeartbeat:
			if err := g.sendHeartbeat(); err != nil {
				return ready, err
			}

		case opHeartbeatACK:
			g.ackHeartbeat()

		case opReconnect:
			g.logger.Info("received reconnect request from Gateway")
			return ready, errReconnect

		case opInvalidSession:
			var resumable bool
			_ = json.Unmarshal(payload.D, &resumable)
			if !resumable {
				g.clearSession()
			}
			return ready, errInvalidSession

		case opDispatch:
			if payload.T == nil {
				g.logger.Warn("dispatch event missing event type")
				continue
			}
			if g.handleDispatch(ctx, *payload.T, payload.D) {
				ready = true
			}

		default:
			g.logger.Debug("received unknown opcode", zap.Int("opcode", payload.Op))
		}
	}
}

// handleDispatch processes one event and reports whether the session became usable
func (g *Gateway) handleDispatch(ctx context.Context, eventType string, data json.RawMessage) bool {
	switch eventType {
	case "READY":
		var ready readyData
		if err := json.Unmarshal(data, &ready); err != nil {
			g.logger.Error("failed to unmarshal READY payload", zap.Error(err))
			return false
		}

		g.sessionMu.Lock()
		g.sessionID = ready.SessionID
		g.resumeURL = ready.ResumeGatewayURL
		g.botUserID = ready.User.ID
		g.sessionMu.Unlock()

		g.logger.Info("Gateway session ready",
			zap.String("session_id", ready.SessionID),
			zap.String("bot_user", ready.User.Username),
		)
		return true

	case "RESUMED":
		g.logger.Info("Gateway session resumed")
		return true

	case "MESSAGE_CREATE":
		var msg discord.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			g.logger.Error("failed to unmarshal MESSAGE_CREATE payload", zap.Error(err))
			return false
		}
		if msg.Author.ID == g.BotUserID() {
			return false
		}

		g.handlers.Add(1)
		go func() {
			defer g.handlers.Done()
			g.handler.HandleMessage(ctx, &msg)
		}()
	}

	return false
}

func (g *Gateway) classifyReadError(err error) error {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return fmt.Errorf("failed to read Gateway message: %w", err)
	}

	switch closeErr.Code {
	case closeAuthenticationFailed, closeInvalidShard, closeShardingRequired,
		closeInvalidAPIVersion, closeInvalidIntents, closeDisallowedIntents:
		return fmt.Errorf("%w: %d %s", ErrFatalClose, closeErr.Code, closeErr.Text)
	case closeInvalidSeq, closeSessionTimedOut:
		g.clearSession()
	}

	return fmt.Errorf("gateway closed connection: %w", err)
}

func (g *Gateway) sendHandshake() error {
	g.sessionMu.RLock()
	sessionID, seq := g.sessionID, g.sequence
	g.sessionMu.RUnlock()

	if sessionID != "" {
		g.logger.Debug("sending RESUME to Gateway", zap.Int64("sequence", seq))
		return g.send(opResume, resumeData{Token: g.cfg.Token, SessionID: sessionID, Seq: seq})
	}

	g.logger.Debug("sending IDENTIFY to Gateway", zap.Int("intents", g.cfg.Intents))
	return g.send(opIdentify, identifyData{
		Token:   g.cfg.Token,
		Intents: g.cfg.Intents,
		Properties: identifyProperties{
			OS:      "linux",
			Browser: "liro",
			Device:  "liro",
		},
	})
}

// heartbeatLoop sends heartbeats until ctx is done. It fails when the previous heartbeat went unacknowledged.
func (g *Gateway) heartbeatLoop(ctx context.Context, interval time.Duration) error {
	g.heartbeatMu.Lock()
	g.awaitingAck = false
	g.heartbeatMu.Unlock()

	// First beat is jittered as the Gateway asks
	timer := time.NewTimer(time.Duration(rand.Float64() * float64(interval)))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		g.heartbeatMu.Lock()
		zombie := g.awaitingAck
		g.heartbeatMu.Unlock()
		if zombie {
			return errZombie
		}

		if err := g.sendHeartbeat(); err != nil {
			return err
		}
		timer.Reset(interval)
	}
}

func (g *Gateway) sendHeartbeat() error {
	g.sessionMu.RLock()
	seq := g.sequence
	g.sessionMu.RUnlock()

	g.heartbeatMu.Lock()
	g.awaitingAck = true
	g.lastSentAt = time.Now()
	g.heartbeatMu.Unlock()

	var d any
	if seq > 0 {
		d = seq
	}
	return g.send(opHeartbeat, d)
}

func (g *Gateway) ackHeartbeat() {
	g.heartbeatMu.Lock()
	defer g.heartbeatMu.Unlock()

	if g.awaitingAck {
		g.latency = time.Since(g.lastSentAt)
	}
	g.awaitingAck = false
}

func (g *Gateway) send(op int, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode gateway payload: %w", err)
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	if g.conn == nil {
		return fmt.Errorf("connection is nil")
	}
	if err := g.conn.WriteJSON(Payload{Op: op, D: raw}); err != nil {
		return fmt.Errorf("failed to write gateway payload: %w", err)
	}
	return nil
}

func (g *Gateway) endpoint() (string, error) {
	base := g.cfg.URL
	if resumeURL := g.resumeGatewayURL(); resumeURL != "" && g.resumable() {
		base = resumeURL
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid gateway url %q: %w", base, err)
	}
	q := u.Query()
	q.Set("v", apiVersion)
	q.Set("encoding", "json")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (g *Gateway) resumeGatewayURL() string {
	g.sessionMu.RLock()
	defer g.sessionMu.RUnlock()
	return g.resumeURL
}

func (g *Gateway) resumable() bool {
	g.sessionMu.RLock()
	defer g.sessionMu.RUnlock()
	return g.sessionID != ""
}

func (g *Gateway) clearSession() {
	g.sessionMu.Lock()
	g.sessionID = ""
	g.resumeURL = ""
	g.sequence = 0
	g.sessionMu.Unlock()
}

func (g *Gateway) setSequence(seq int64) {
	g.sessionMu.Lock()
	g.sequence = seq
	g.sessionMu.Unlock()
}

// BotUserID returns the bot's user id once READY has been received
func (g *Gateway) BotUserID() string {
	g.sessionMu.RLock()
	defer g.sessionMu.RUnlock()
	return g.botUserID
}

// SessionID returns the current session id, empty before READY
func (g *Gateway) SessionID() string {
	g.sessionMu.RLock()
	defer g.sessionMu.RUnlock()
	return g.sessionID
}

// Latency returns the round trip of the last acknowledged heartbeat
func (g *Gateway) Latency() time.Duration {
	g.heartbeatMu.Lock()
	defer g.heartbeatMu.Unlock()
	return g.latency
}
