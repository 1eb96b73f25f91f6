package web

import (
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bend-n/panel/internal/bus"
	"github.com/bend-n/panel/internal/console"
)

const writeWait = 10 * time.Second

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("web: upgrade failed", "err", err)
		return
	}
	raw := c.Query("raw") == "1"
	name := string(bus.ChannelWeb) + "-" + uuid.NewString()[:8]
	sub := s.console.Subscribe(name)
	slog.Info("web: viewer attached", "subscriber", name, "remote", c.ClientIP(), "raw", raw)

	notices := make(chan string, 8)
	readDone := make(chan struct{})
	go s.readCommands(conn, name, notices, readDone)

	s.writeOutput(conn, sub, raw, notices, readDone)
	sub.Close()
	_ = conn.Close()
	slog.Info("web: viewer detached", "subscriber", name, "lagged", sub.Lagged())
}

// readCommands issues each line of every text frame as a console command.
// Failures are reported back to the viewer through notices.
func (s *Server) readCommands(conn *websocket.Conn, name string, notices chan<- string, done chan<- struct{}) {
	defer close(done)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := s.console.Issue(line); err != nil {
				slog.Warn("web: issue failed", "subscriber", name, "command", line, "err", err)
				select {
				case notices <- "error: " + err.Error():
				default:
				}
				continue
			}
			slog.Debug("web: issued", "subscriber", name, "command", line)
		}
	}
}

// writeOutput streams console output to the viewer. Lines are buffered and
// sent as one frame once flushLines accumulate or flushInterval passes since
// the first buffered line.
func (s *Server) writeOutput(conn *websocket.Conn, sub *console.Subscription, raw bool, notices <-chan string, readDone <-chan struct{}) {
	var pending []string
	timer := time.NewTimer(s.flushInterval)
	timer.Stop()

	send := func(text string) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, []byte(text)) == nil
	}
	flush := func() bool {
		timer.Stop()
		if len(pending) == 0 {
			return true
		}
		text := strings.Join(pending, "\n")
		pending = pending[:0]
		return send(text)
	}

	for {
		select {
		case <-readDone:
			return
		case notice := <-notices:
			if !flush() || !send(notice) {
				return
			}
		case <-timer.C:
			if !flush() {
				return
			}
		case chunk, ok := <-sub.C():
			if !ok {
				flush()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "console shut down"),
					time.Now().Add(writeWait))
				return
			}
			if !raw {
				chunk = ansi.Strip(chunk)
			}
			if len(pending) == 0 {
				timer.Reset(s.flushInterval)
			}
			pending = append(pending, strings.Split(chunk, "\n")...)
			if len(pending) >= s.flushLines && !flush() {
				return
			}
		}
	}
}
