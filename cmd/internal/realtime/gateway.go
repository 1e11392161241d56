package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/zaplabs/zap-server/cmd/internal/auth"
	v1 "github.com/zaplabs/zap-server/shared/contracts/chat/v1"
)

const (
	wsSubprotocolV1 = "zap.chat.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// WSGateway is the WebSocket entrypoint for Zap chat.
//
// It authenticates the handshake before upgrading, enforces origin policy,
// subprotocol selection, rate limits and heartbeats, registers the session in
// presence, and routes validated envelopes to the direct router and group
// service. Each connection's cleanup runs exactly once regardless of how the
// session ends.
type WSGateway struct {
	log      *slog.Logger
	auth     auth.Authenticator
	presence *Presence
	rooms    *Rooms
	router   *DirectRouter
	groups   *GroupService
	delivery *Delivery
	metrics  *Metrics

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// GatewayDeps bundles the collaborators a gateway routes into.
type GatewayDeps struct {
	Auth     auth.Authenticator
	Store    ChatStore
	Presence *Presence
	Rooms    *Rooms
	Router   *DirectRouter
	Groups   *GroupService
	Delivery *Delivery
	Metrics  *Metrics
}

// NewWSGateway constructs a gateway with secure defaults. Missing collaborators
// fall back to in-memory implementations for dev.
func NewWSGateway(log *slog.Logger, deps GatewayDeps) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.Store == nil {
		deps.Store = NewMemoryStore()
	}
	if deps.Presence == nil {
		deps.Presence = NewPresence(log, deps.Metrics)
	}
	if deps.Rooms == nil {
		deps.Rooms = NewRooms(log)
	}
	active := NewActiveChats()
	if deps.Delivery == nil {
		deps.Delivery = NewDelivery(log, deps.Store, deps.Presence, active, deps.Metrics)
	}
	if deps.Router == nil {
		deps.Router = NewDirectRouter(log, deps.Store, deps.Presence, deps.Delivery, deps.Metrics)
	}
	if deps.Groups == nil {
		deps.Groups = NewGroupService(log, deps.Store, deps.Presence, deps.Rooms, deps.Metrics)
	}

	g := &WSGateway{
		log:      log,
		auth:     deps.Auth,
		presence: deps.Presence,
		rooms:    deps.Rooms,
		router:   deps.Router,
		groups:   deps.Groups,
		delivery: deps.Delivery,
		metrics:  deps.Metrics,
	}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("ZAP_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("ZAP_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("ZAP_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("ZAP_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("ZAP_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("ZAP_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("ZAP_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("ZAP_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("ZAP_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("ZAP_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS authenticates and upgrades an HTTP request to a WebSocket session
// and runs the chat loop until disconnect.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		g.countReject("origin")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// Identity is established before the upgrade: an unauthenticated request
	// never becomes a websocket session.
	identity, err := g.authenticate(r)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		g.countReject("auth")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{wsSubprotocolV1},
		OriginPatterns: g.originPatterns,

		// Dev-only escape hatch.
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		g.countReject("subprotocol")
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	connID, err := NewConnID(time.Now().UTC())
	if err != nil {
		connID = NewRandomHex(10)
	}
	client := NewClient(connID, identity.UserID, identity.Username, g.sendQueueSize)

	if g.metrics != nil {
		g.metrics.ConnectionsTotal.Inc()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// shutdown is idempotent and owns the full disconnect sequence:
	// presence release, active-chat clear, room eviction, then the offline
	// broadcast (only when this connection actually owned the registration).
	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			released := g.presence.Release(client.UserID, client.ConnID)
			if released {
				g.delivery.SetActiveChatOffline(client.UserID)
			}
			g.rooms.DropConn(client.ConnID)

			client.Close()
			_ = conn.Close(code, reason)
			cancel()

			if released {
				g.presence.BroadcastAll(newEnvelope(v1.TypeUserOffline, v1.PresencePayload{
					UserID:   client.UserID,
					Username: client.Username,
				}, time.Now().UTC()))
			}

			g.log.Info("ws.session.end", "conn_id", client.ConnID, "user_id", client.UserID, "reason", reason)
		})
	}

	now := time.Now().UTC()

	// A second login displaces the first: single active session per user.
	if displaced := g.presence.SetOnline(client); displaced != nil {
		g.log.Info("ws.session.displace", "user_id", client.UserID, "old_conn_id", displaced.ConnID, "new_conn_id", client.ConnID)
		displaced.Close()
	}

	// The displaced session's cleanup cannot clear the active-chat entry (its
	// Release fails once the registration changed hands), so the owning session
	// resets it here. A fresh session has no conversation open until it sends
	// active_chat.
	g.delivery.SetActiveChatOffline(client.UserID)

	g.presence.BroadcastAll(newEnvelope(v1.TypeUserOnline, v1.PresencePayload{
		UserID:   client.UserID,
		Username: client.Username,
	}, now))
	g.router.OnlineUsers(client, now)

	if err := g.delivery.FlushPending(ctx, client, now); err != nil {
		g.log.Error("ws.flush.fail", "user_id", client.UserID, "err", err)
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				// Close may come from outside the session (a displacing login).
				// Run the full disconnect sequence, not just this goroutine's exit.
				shutdown(websocket.StatusPolicyViolation, "session displaced")
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", client.ConnID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", client.ConnID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(client, "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "conn_id", client.ConnID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(client, "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(client, err.Error())
			continue readLoop
		}

		if err := g.dispatch(ctx, client, env, now); err != nil {
			if recoverable(err) {
				g.trySendError(client, err.Error())
				continue readLoop
			}
			g.log.Error("ws.handle.fail", "conn_id", client.ConnID, "type", env.Type, "err", err)
			g.trySendError(client, "internal error")
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// dispatch routes one validated inbound envelope.
func (g *WSGateway) dispatch(ctx context.Context, client *Client, env v1.Envelope, now time.Time) error {
	switch env.Type {
	case v1.TypeSendMessage:
		var p v1.SendMessagePayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return err
		}
		return g.router.Send(ctx, client, p, now)

	case v1.TypeTyping:
		var p v1.TypingPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return err
		}
		g.router.Typing(client, p.To, now)
		return nil

	case v1.TypeStopTyping:
		var p v1.TypingPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return err
		}
		g.router.StopTyping(client, p.To, now)
		return nil

	case v1.TypeMarkSeen:
		var p v1.MarkSeenPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return err
		}
		return g.router.MarkSeen(ctx, client, p.WithUser, now)

	case v1.TypeActiveChat:
		var p v1.ActiveChatPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return err
		}
		return g.router.SetActiveChat(ctx, client, p.ChatWith, now)

	case v1.TypeMessageDelivered:
		var p v1.MessageDeliveredAckPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return err
		}
		return g.router.AckDelivered(ctx, client, p, now)

	case v1.TypeGetOnlineUsers:
		g.router.OnlineUsers(client, now)
		return nil

	case v1.TypeJoinGroups:
		return g.groups.JoinGroups(ctx, client, now)

	case v1.TypeSendGroupMessage:
		var p v1.SendGroupMessagePayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return err
		}
		return g.groups.Send(ctx, client, p, now)

	case v1.TypeGroupTyping:
		var p v1.GroupTypingPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return err
		}
		g.groups.Typing(client, p.GroupID, now)
		return nil

	case v1.TypeGroupStopTyping:
		var p v1.GroupTypingPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return err
		}
		g.groups.StopTyping(client, p.GroupID, now)
		return nil

	case v1.TypeMemberAdded:
		var p v1.MemberChangePayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return err
		}
		return g.groups.AddMember(ctx, client, p, now)

	case v1.TypeMemberRemoved:
		var p v1.MemberChangePayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return err
		}
		return g.groups.RemoveMember(ctx, client, p, now)

	case v1.TypeLeaveGroup:
		var p v1.GroupRefPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return err
		}
		return g.groups.Leave(ctx, client, p.GroupID, now)

	case v1.TypeGetGroupDetails:
		var p v1.GroupRefPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return err
		}
		return g.groups.Details(ctx, client, p.GroupID, now)

	default:
		return fmt.Errorf("unsupported type: %s", env.Type)
	}
}

// authenticate extracts and verifies the handshake credential.
// Accepts "Authorization: Bearer <token>" or the access_token query parameter
// (browser WebSocket clients cannot set headers).
func (g *WSGateway) authenticate(r *http.Request) (auth.Identity, error) {
	if g.auth == nil {
		return auth.Identity{}, auth.ErrConfig
	}

	token := ""
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(h, prefix) {
			token = strings.TrimSpace(h[len(prefix):])
		}
	}
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	if token == "" {
		return auth.Identity{}, auth.ErrMissingToken
	}

	return g.auth.Authenticate(token, time.Now().UTC())
}

func (g *WSGateway) countReject(reason string) {
	if g.metrics != nil {
		g.metrics.RejectedTotal.WithLabelValues(reason).Inc()
	}
}

func (g *WSGateway) trySendError(client *Client, msg string) {
	client.TryEnqueue(errorEnvelope(msg, time.Now().UTC()))
}

// recoverable reports whether an error is a client-facing rule violation
// that should be reported on the wire without ending the session.
func recoverable(err error) bool {
	for _, known := range []error{
		ErrInvalidContent,
		ErrNotAMember,
		ErrNotAdminAdd,
		ErrNotAdminRemove,
		ErrSelfRemoval,
		ErrContentTooLong,
		ErrGroupNotFound,
		ErrMessageNotFound,
	} {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}

func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return ErrInvalidContent
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return ErrInvalidContent
	}
	return nil
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// Malformed or mistyped frames are a client bug, not a transport failure.
	// They get an error envelope back; the session stays open.
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return readErrBadJSON
	}
	if strings.Contains(err.Error(), "unexpected end of JSON input") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
