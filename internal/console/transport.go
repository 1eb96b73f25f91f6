// Package console owns the serial text connection to the game server and
// shares it between relay consumers, viewers and command issuers.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Transport is one duplex, newline-delimited text connection to the server.
// ReadLine is only ever called from a single goroutine; WriteLine calls are
// serialized by the Bridge. Close must be safe to call more than once and
// must unblock a pending ReadLine.
type Transport interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
}

// Dialer acquires a fresh Transport for a new connection epoch.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialFunc adapts a plain function to the Dialer interface.
type DialFunc func(ctx context.Context) (Transport, error)

func (f DialFunc) Dial(ctx context.Context) (Transport, error) { return f(ctx) }

// streamTransport reads lines from r and writes lines to w.
type streamTransport struct {
	r *bufio.Reader
	w io.Writer

	closeOnce sync.Once
	closeErr  error
	closer    func() error
}

func newStreamTransport(r io.Reader, w io.Writer, closer func() error) *streamTransport {
	return &streamTransport{
		r:      bufio.NewReaderSize(r, 64*1024),
		w:      w,
		closer: closer,
	}
}

// NewConnTransport wraps an established net.Conn (TCP socket, net.Pipe, …).
func NewConnTransport(conn net.Conn) Transport {
	return newStreamTransport(conn, conn, conn.Close)
}

func (t *streamTransport) ReadLine() (string, error) {
	line, err := t.r.ReadString('\n')
	if err != nil {
		// A final unterminated line is still output.
		if line != "" && errors.Is(err, io.EOF) {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (t *streamTransport) WriteLine(line string) error {
	_, err := io.WriteString(t.w, line+"\n")
	return err
}

func (t *streamTransport) Close() error {
	t.closeOnce.Do(func() {
		if t.closer != nil {
			t.closeErr = t.closer()
		}
	})
	return t.closeErr
}

// ProcessDialer spawns the server as a child process and talks to it over
// its stdin/stdout pipes. Each Dial starts a new process.
type ProcessDialer struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
}

func (d ProcessDialer) Dial(ctx context.Context) (Transport, error) {
	if strings.TrimSpace(d.Command) == "" {
		return nil, fmt.Errorf("process transport: no command configured")
	}
	cmd := exec.CommandContext(ctx, d.Command, d.Args...)
	cmd.Dir = d.Dir
	cmd.Stderr = os.Stderr
	if len(d.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range d.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", d.Command, err)
	}

	closer := func() error {
		_ = stdin.Close()
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		// Wait reaps the child; its exit status after Kill is not interesting.
		_ = cmd.Wait()
		return nil
	}
	return newStreamTransport(stdout, stdin, closer), nil
}

// TCPDialer connects to a server console exposed on a TCP socket.
type TCPDialer struct {
	Address string
	Timeout time.Duration
}

func (d TCPDialer) Dial(ctx context.Context) (Transport, error) {
	if d.Address == "" {
		return nil, fmt.Errorf("tcp transport: no address configured")
	}
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.Address, err)
	}
	return NewConnTransport(conn), nil
}
