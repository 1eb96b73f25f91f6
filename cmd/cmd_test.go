package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bend-n/panel/internal/config/gateway"
	"github.com/bend-n/panel/internal/console"
	"github.com/bend-n/panel/internal/events"
	"github.com/bend-n/panel/internal/web"
)

func init() { color.NoColor = true }

// ─── classify ───────────────────────────────────────────────────────────────

func TestClassifyLines(t *testing.T) {
	in := strings.Join([]string{
		"fish: hello there",
		"Saved to slot 0.",
		"fish has connected. [abcdefghijklmnopqrstuv==]",
		"at arc.util.Foo.bar(Foo.java:1)",
	}, "\n")

	var out bytes.Buffer
	c := events.MindustryClassifier{NoisePrefixes: []string{"at "}}
	require.NoError(t, classifyLines(strings.NewReader(in), &out, c, false))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "chat "), lines[0])
	assert.Contains(t, lines[0], `speaker:"fish"`)
	assert.True(t, strings.HasPrefix(lines[1], "none "), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "joined "), lines[2])

	out.Reset()
	require.NoError(t, classifyLines(strings.NewReader(in), &out, c, true))
	assert.Contains(t, out.String(), "none{noise}")
}

// ─── cron helpers ───────────────────────────────────────────────────────────

func TestParseAt(t *testing.T) {
	at, err := parseAt("2030-01-02T03:04:05")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2030, 1, 2, 3, 4, 5, 0, time.Local), at)

	at, err = parseAt("2030-01-02T03:04:05Z")
	require.NoError(t, err)
	assert.True(t, at.Equal(time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)))

	_, err = parseAt("tomorrow")
	assert.ErrorContains(t, err, "invalid --at value")
}

func TestSendCommand(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		got <- line
	}()

	d := console.TCPDialer{Address: ln.Addr().String(), Timeout: time.Second}
	require.NoError(t, sendCommand(context.Background(), d, "save 0"))

	select {
	case line := <-got:
		assert.Equal(t, "save 0\n", line)
	case <-time.After(2 * time.Second):
		t.Fatal("console never received the command")
	}
}

func TestSendCommand_DialError(t *testing.T) {
	err := sendCommand(context.Background(), console.TCPDialer{}, "status")
	assert.ErrorContains(t, err, "no address")
}

// ─── serve ──────────────────────────────────────────────────────────────────

func TestEchoConsole(t *testing.T) {
	b := console.NewBroadcaster(4, nil)
	sub := b.Attach("terminal")
	var out bytes.Buffer

	done := make(chan error, 1)
	go func() { done <- echoConsole(context.Background(), sub, &out) }()

	b.Publish("[I] Server loaded.")
	b.Close()
	require.NoError(t, <-done)
	assert.Equal(t, "[I] Server loaded.\n", out.String())
}

func TestEchoConsole_StopsOnCancel(t *testing.T) {
	b := console.NewBroadcaster(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, echoConsole(ctx, b.Attach("terminal"), &bytes.Buffer{}), context.Canceled)
}

// ─── status ─────────────────────────────────────────────────────────────────

func TestHealthURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:4001/healthz", healthURL(gateway.GatewayConfig{Host: "0.0.0.0", Port: 4001}))
	assert.Equal(t, "http://127.0.0.1:80/healthz", healthURL(gateway.GatewayConfig{Port: 80}))
	assert.Equal(t, "http://[::1]:8080/healthz", healthURL(gateway.GatewayConfig{Host: "::1", Port: 8080}))
	assert.Equal(t, "http://panel.lan:8080/healthz", healthURL(gateway.GatewayConfig{Host: "panel.lan", Port: 8080}))
}

func TestFetchHealth_ReadsDisconnectedBody(t *testing.T) {
	last := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(web.Health{
			Status:    "disconnected",
			Uptime:    "1m0s",
			Heartbeat: &web.HeartbeatHealth{LastReply: &last, Failures: 3},
		})
	}))
	defer ts.Close()

	h, err := fetchHealth(ts.URL)
	require.NoError(t, err)
	assert.False(t, h.Connected)
	require.NotNil(t, h.Heartbeat)
	assert.Equal(t, 3, h.Heartbeat.Failures)
	assert.True(t, h.Heartbeat.LastReply.Equal(last))
}

func TestFetchHealth_Errors(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()
	_, err := fetchHealth(ts.URL)
	assert.ErrorContains(t, err, "404")

	ts.Close()
	_, err = fetchHealth(ts.URL)
	assert.Error(t, err)
}

// ─── output ─────────────────────────────────────────────────────────────────

func TestTruncStr(t *testing.T) {
	assert.Equal(t, "short", truncStr("short", 10))
	assert.Equal(t, "abcd…", truncStr("abcdefgh", 5))
}
