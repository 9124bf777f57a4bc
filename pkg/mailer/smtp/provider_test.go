package smtp_test

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icycon/emailengine/pkg/mailer"
	"github.com/icycon/emailengine/pkg/mailer/smtp"
)

// fakeServer is a scripted single-purpose SMTP server.
type fakeServer struct {
	ln        net.Listener
	rcptReply string
	silent    bool
	// hangUp drops the connection right after accepting DATA.
	hangUp bool

	mu   sync.Mutex
	data string
	rcpt string
}

func startServer(t *testing.T, rcptReply string, silent bool, opts ...func(*fakeServer)) *fakeServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeServer{ln: ln, rcptReply: rcptReply, silent: silent}
	for _, opt := range opts {
		opt(s)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go s.serve()
	return s
}

func (s *fakeServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer conn.Close()

	if s.silent {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _ = bufio.NewReader(conn).ReadString('\n')
		return
	}

	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }

	reply("220 fake.test ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))

		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250 fake.test")
		case strings.HasPrefix(cmd, "MAIL FROM"):
			reply("250 ok")
		case strings.HasPrefix(cmd, "RCPT TO"):
			s.mu.Lock()
			s.rcpt = strings.TrimSpace(line)
			s.mu.Unlock()
			reply(s.rcptReply)
		case cmd == "DATA":
			reply("354 go ahead")
			var body strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				body.WriteString(l)
			}
			s.mu.Lock()
			s.data = body.String()
			s.mu.Unlock()
			reply("250 queued as ABC")
			if s.hangUp {
				return
			}
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 not implemented")
		}
	}
}

func (s *fakeServer) received() (rcpt, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rcpt, s.data
}

func newProvider(t *testing.T, port int, tls smtp.TLSMode, timeout time.Duration) *smtp.Provider {
	t.Helper()

	p, err := smtp.New(smtp.Config{
		Host:     "127.0.0.1",
		Port:     port,
		TLS:      tls,
		HeloName: "engine.test",
		Timeout:  timeout,
	})
	require.NoError(t, err)
	return p
}

func message() *mailer.Message {
	return &mailer.Message{
		From:    "Team <no-reply@example.com>",
		To:      "a@example.com",
		Subject: "Welcome",
		Text:    "Hello there",
		HTML:    "<p>Hello there</p>",
	}
}

func TestNew_RequiresHost(t *testing.T) {
	t.Parallel()

	_, err := smtp.New(smtp.Config{})
	require.ErrorIs(t, err, smtp.ErrHostRequired)
}

func TestProvider_Deliver(t *testing.T) {
	t.Parallel()

	t.Run("delivered", func(t *testing.T) {
		t.Parallel()

		srv := startServer(t, "250 ok", false)
		p := newProvider(t, srv.port(), smtp.TLSNone, 2*time.Second)

		out, err := p.Deliver(context.Background(), message())
		require.NoError(t, err)
		require.True(t, out.IsDelivered(), out.Reason)
		assert.True(t, strings.HasSuffix(out.MessageID, "@engine.test>"))

		rcpt, data := srv.received()
		assert.Contains(t, rcpt, "<a@example.com>")
		assert.Contains(t, data, "Message-ID: "+out.MessageID)
		assert.Contains(t, data, "multipart/alternative")
		assert.Contains(t, data, "Hello there")
	})

	t.Run("accepted message survives a dropped quit", func(t *testing.T) {
		t.Parallel()

		srv := startServer(t, "250 ok", false, func(s *fakeServer) { s.hangUp = true })
		p := newProvider(t, srv.port(), smtp.TLSNone, 2*time.Second)

		out, err := p.Deliver(context.Background(), message())
		require.NoError(t, err)
		require.True(t, out.IsDelivered(), out.Reason)
		assert.NotEmpty(t, out.MessageID)

		_, data := srv.received()
		assert.Contains(t, data, "Hello there")
	})

	t.Run("mailbox rejected is permanent", func(t *testing.T) {
		t.Parallel()

		srv := startServer(t, "550 5.1.1 no such user", false)
		p := newProvider(t, srv.port(), smtp.TLSNone, 2*time.Second)

		out, err := p.Deliver(context.Background(), message())
		require.NoError(t, err)
		assert.True(t, out.IsPermanent())
		assert.Contains(t, out.Reason, "550")
	})

	t.Run("greylisting is transient", func(t *testing.T) {
		t.Parallel()

		srv := startServer(t, "451 4.7.1 try again later", false)
		p := newProvider(t, srv.port(), smtp.TLSNone, 2*time.Second)

		out, err := p.Deliver(context.Background(), message())
		require.NoError(t, err)
		assert.True(t, out.IsTransient())
		assert.Contains(t, out.Reason, "451")
	})

	t.Run("silent server times out", func(t *testing.T) {
		t.Parallel()

		srv := startServer(t, "", true)
		p := newProvider(t, srv.port(), smtp.TLSNone, 150*time.Millisecond)

		out, err := p.Deliver(context.Background(), message())
		require.NoError(t, err)
		assert.True(t, out.IsTransient())
		assert.Contains(t, out.Reason, "timeout")
	})

	t.Run("missing starttls is permanent", func(t *testing.T) {
		t.Parallel()

		srv := startServer(t, "250 ok", false)
		p := newProvider(t, srv.port(), smtp.TLSStartTLS, 2*time.Second)

		out, err := p.Deliver(context.Background(), message())
		require.NoError(t, err)
		assert.True(t, out.IsPermanent())
		assert.Contains(t, out.Reason, "STARTTLS")
	})

	t.Run("connection refused is transient", func(t *testing.T) {
		t.Parallel()

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := ln.Addr().(*net.TCPAddr).Port
		require.NoError(t, ln.Close())

		p := newProvider(t, port, smtp.TLSNone, time.Second)

		out, err := p.Deliver(context.Background(), message())
		require.NoError(t, err)
		assert.True(t, out.IsTransient())
	})

	t.Run("invalid recipient is rejected before dialing", func(t *testing.T) {
		t.Parallel()

		p := newProvider(t, 1, smtp.TLSNone, time.Second)

		msg := message()
		msg.To = "nobody"

		_, err := p.Deliver(context.Background(), msg)
		require.ErrorIs(t, err, mailer.ErrInvalidRecipient)
	})
}
