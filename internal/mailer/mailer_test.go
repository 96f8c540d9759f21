package mailer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "gopkg.in/gomail.v2"

	"crm-mailroom/internal/config"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   int
	closed bool
}

func (f *fakeConn) Send(from string, to []string, msg io.WriterTo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) state() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent, f.closed
}

func newFakeSender(conn *fakeConn, dialErr error) *SMTPSender {
	s := NewSMTPSender(config.SMTPConfig{
		Host: "smtp.example.com",
		Port: 465,
		From: "support@example.com",
	})
	s.dial = func() (gomail.SendCloser, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return conn, nil
	}
	return s
}

func TestSendDelivers(t *testing.T) {
	conn := &fakeConn{}
	s := newFakeSender(conn, nil)

	err := s.Send(context.Background(), OutboundMail{
		To:      "alice@example.com",
		Subject: "hello",
		Body:    "body",
	})
	require.NoError(t, err)

	sent, closed := conn.state()
	assert.Equal(t, 1, sent)
	assert.True(t, closed)
}

func TestSendCancelledBeforeTransmission(t *testing.T) {
	conn := &fakeConn{}
	s := newFakeSender(conn, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Send(ctx, OutboundMail{To: "alice@example.com", Subject: "hello", Body: "body"})
	require.Error(t, err)

	// No bytes went out, so a retry cannot double-send; the connection
	// is released either synchronously or by the abandoned-dial path.
	sent, _ := conn.state()
	assert.Zero(t, sent)
	assert.Eventually(t, func() bool {
		_, closed := conn.state()
		return closed
	}, time.Second, 10*time.Millisecond)
}

func TestSendDialFailure(t *testing.T) {
	s := newFakeSender(nil, fmt.Errorf("connection refused"))

	err := s.Send(context.Background(), OutboundMail{To: "alice@example.com"})
	assert.Error(t, err)
}

func TestSendUnconfigured(t *testing.T) {
	s := NewSMTPSender(config.SMTPConfig{})
	err := s.Send(context.Background(), OutboundMail{To: "alice@example.com"})
	assert.Error(t, err)
}
