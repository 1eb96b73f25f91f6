package cmd

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/bend-n/panel/internal/config/gateway"
	"github.com/bend-n/panel/internal/web"
)

// healthURL is where a running panel on this host answers /healthz.
func healthURL(cfg gateway.GatewayConfig) string {
	host := cfg.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Port)) + "/healthz"
}

// fetchHealth reads the health of a running panel. A disconnected console
// answers 503 with the same body, so any status with a body is accepted.
func fetchHealth(url string) (*web.Health, error) {
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, fmt.Errorf("healthz: %s", resp.Status)
	}
	var h web.Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("healthz: %w", err)
	}
	return &h, nil
}

func printHealth(h *web.Health) {
	fmt.Printf("  console: %s %s\n", mark(h.Connected), dimText("(up "+h.Uptime+")"))
	if h.Heartbeat == nil {
		return
	}
	last := warnText("never")
	if h.Heartbeat.LastReply != nil {
		last = h.Heartbeat.LastReply.Local().Format(time.DateTime)
	}
	fails := strconv.Itoa(h.Heartbeat.Failures)
	if h.Heartbeat.Failures > 0 {
		fails = badText(fails)
	}
	fmt.Printf("  heartbeat: last reply %s, %s failures\n", last, fails)
}
