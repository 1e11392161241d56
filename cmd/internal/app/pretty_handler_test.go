package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestPrettyHandlerLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	log := slog.New(h)

	log.Info("direct.send",
		"conn_id", "c1",
		"status_class", "2xx",
		"note", "has space",
		slog.Group("peer", "user", "bob"),
	)

	line := buf.String()
	for _, want := range []string{
		"lvl=[INFO]",
		"msg=direct.send",
		"conn_id=c1",
		"class=2xx",
		`note="has space"`,
		"peer.user=bob",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestPrettyHandlerWithGroupPrefixesKeys(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, nil, false)
	log := slog.New(h).WithGroup("ws")

	log.Info("session.open", "conn_id", "c9")

	if line := buf.String(); !strings.Contains(line, "ws.conn_id=c9") {
		t.Errorf("line %q missing grouped key", line)
	}
}

func TestStripANSI(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{ansiGreen + "GET" + ansiReset, "GET"},
		{ansiBright + ansiRed + "500" + ansiReset, "500"},
		{"", ""},
	}

	for _, tc := range cases {
		if got := stripANSI(tc.in); got != tc.want {
			t.Errorf("stripANSI(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestColorizeDisabledIsIdentity(t *testing.T) {
	t.Parallel()

	if got := colorizeHTTPMethod("GET", false); got != "GET" {
		t.Errorf("method: %q", got)
	}
	if got := colorizeStatusCode(503, false); got != "503" {
		t.Errorf("status: %q", got)
	}
	if got := colorizeStatusClass("5xx", false); got != "5xx" {
		t.Errorf("class: %q", got)
	}
	if got := colorizeDurationMS(1200, false); got != "1200ms" {
		t.Errorf("duration: %q", got)
	}
	if got := colorizeResult("server_error", false); got != "server_error" {
		t.Errorf("result: %q", got)
	}
}

func TestColorizeEnabledStripsBackToPlain(t *testing.T) {
	t.Parallel()

	if got := stripANSI(colorizeStatusCode(200, true)); got != "200" {
		t.Errorf("status 200: %q", got)
	}
	if got := stripANSI(colorizeDurationMS(3, true)); got != "3ms" {
		t.Errorf("duration 3ms: %q", got)
	}
}

func TestValueToInt64(t *testing.T) {
	t.Parallel()

	if v, ok := valueToInt64(slog.Int64Value(42)); !ok || v != 42 {
		t.Errorf("int64: (%d, %v)", v, ok)
	}
	if v, ok := valueToInt64(slog.Uint64Value(7)); !ok || v != 7 {
		t.Errorf("uint64: (%d, %v)", v, ok)
	}
	if v, ok := valueToInt64(slog.Float64Value(9.9)); !ok || v != 9 {
		t.Errorf("float64: (%d, %v)", v, ok)
	}
	if _, ok := valueToInt64(slog.StringValue("nope")); ok {
		t.Errorf("string should not convert")
	}
}
