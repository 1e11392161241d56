// Package main provides a CI-friendly WebSocket smoke test for the Zap chat server.
//
// It validates:
//   - handshake + subprotocol selection + token auth
//   - online_users_list snapshot on connect
//   - send_message -> receive_message fanout and sender echo with delivered flag
//   - mark_seen -> messages_seen receipt back to the sender
//   - direct typing relay
//
// Two distinct access tokens are required (-token-a, -token-b), signed with the
// server's PASETO key for two different user ids.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/zaplabs/zap-server/shared/contracts/chat/v1"
)

const (
	defaultSubprotocol = "zap.chat.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name   string
	userID string
	conn   *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		tokenA  = flag.String("token-a", "", "Access token for user A")
		tokenB  = flag.String("token-b", "", "Access token for user B")
		userA   = flag.String("user-a", "", "User id encoded in token A")
		userB   = flag.String("user-b", "", "User id encoded in token B")
		text    = flag.String("text", "hello zap 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if *tokenA == "" || *tokenB == "" || *userA == "" || *userB == "" {
		fatalf("-token-a, -token-b, -user-a and -user-b are required")
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *tokenA, *userA, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, *tokenB, *userB, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.userID, b.userID, *origin)
	}

	// Both snapshots must eventually include both users; B connected last so
	// its snapshot is authoritative.
	mustSnapshotContains(root, b, []string{a.userID, b.userID}, *timeout)

	// A types at B; B sees the indicator.
	mustWrite(root, a.conn, envelope("A-typing", v1.TypeTyping, v1.TypingPayload{To: b.userID}), *timeout)
	typing := b.mustReadUntilType(root, v1.TypeUserTyping, *timeout, anySkip())
	var tp v1.UserTypingPayload
	mustUnmarshal(typing.Payload, &tp, "user_typing", b.name)
	if tp.UserID != a.userID {
		fatalf("typing user mismatch: got=%q want=%q", tp.UserID, a.userID)
	}

	// A sends a direct message; B receives it delivered, A gets the echo.
	mustWrite(root, a.conn, envelope("A-send", v1.TypeSendMessage, v1.SendMessagePayload{
		To:      b.userID,
		Content: *text,
	}), *timeout)

	recv := b.mustReadUntilType(root, v1.TypeReceiveMessage, *timeout, anySkip())
	var rp v1.ReceiveMessagePayload
	mustUnmarshal(recv.Payload, &rp, "receive_message", b.name)
	if rp.SenderID != a.userID || rp.ReceiverID != b.userID || rp.Content != *text {
		fatalf("receive_message mismatch: %+v", rp)
	}
	if !rp.Delivered {
		fatalf("receive_message not marked delivered for online receiver")
	}
	if rp.ID == "" || rp.CreatedAt.IsZero() {
		fatalf("receive_message missing server id/timestamp")
	}

	echo := a.mustReadUntilType(root, v1.TypeReceiveMessage, *timeout, anySkip())
	var ep v1.ReceiveMessagePayload
	mustUnmarshal(echo.Payload, &ep, "receive_message echo", a.name)
	if ep.ID != rp.ID {
		fatalf("sender echo id mismatch: got=%q want=%q", ep.ID, rp.ID)
	}

	// B marks the conversation seen; A gets the receipt.
	mustWrite(root, b.conn, envelope("B-seen", v1.TypeMarkSeen, v1.MarkSeenPayload{WithUser: a.userID}), *timeout)

	seen := a.mustReadUntilType(root, v1.TypeMessagesSeen, *timeout, anySkip())
	var sp v1.MessagesSeenPayload
	mustUnmarshal(seen.Payload, &sp, "messages_seen", a.name)
	if sp.By != b.userID || sp.ChatWith != a.userID {
		fatalf("messages_seen mismatch: %+v", sp)
	}

	fmt.Printf("OK: A=%s B=%s message_id=%s\n", a.userID, b.userID, rp.ID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin, token, userID string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	h.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:   name,
		userID: userID,
		conn:   conn,
		inbox:  make(chan v1.Envelope, 512),
		errCh:  make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustSnapshotContains(parent context.Context, c *smokeClient, userIDs []string, stepTimeout time.Duration) {
	mustWrite(parent, c.conn, envelope(c.name+"-snapshot", v1.TypeGetOnlineUsers, struct{}{}), stepTimeout)

	env := c.mustReadUntilType(parent, v1.TypeOnlineUsersList, stepTimeout, anySkip())
	var p v1.OnlineUsersListPayload
	mustUnmarshal(env.Payload, &p, "online_users_list", c.name)

	have := make(map[string]struct{}, len(p.UserIDs))
	for _, id := range p.UserIDs {
		have[id] = struct{}{}
	}
	for _, want := range userIDs {
		if _, ok := have[want]; !ok {
			fatalf("online_users_list missing %q (%s): %v", want, c.name, p.UserIDs)
		}
	}
}

// anySkip tolerates interleaved broadcasts (presence, typing, flushes) while
// waiting for a specific type.
func anySkip() func(string) bool {
	return func(string) bool { return true }
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skip func(string) bool) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): msg=%q", c.name, ep.Message)
			}
			if skip != nil && skip(env.Type) {
				continue
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func envelope(id, typ string, payload any) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      time.Now().UTC(),
		Payload: mustJSON(payload),
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustUnmarshal(raw json.RawMessage, dst any, what, who string) {
	if err := json.Unmarshal(raw, dst); err != nil {
		fatalf("unmarshal %s payload (%s): %v", what, who, err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
