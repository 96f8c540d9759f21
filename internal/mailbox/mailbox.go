package mailbox

import (
	"context"
	"errors"
)

// ErrNotConfigured marks a mailbox account without enough credentials
// to connect. The poller treats it as a silent no-op.
var ErrNotConfigured = errors.New("mailbox account not configured")

// RawMessage is one fetched message: the source-assigned UID, the
// envelope summary, and the raw RFC 822 bytes for the parser.
type RawMessage struct {
	UID     uint32
	From    string
	To      string
	Subject string
	Raw     []byte
}

// Session is an authenticated, mailbox-selected protocol session.
type Session interface {
	// UIDsAbove lists message UIDs strictly greater than lastUID in
	// ascending order. lastUID of zero lists the whole mailbox.
	UIDsAbove(lastUID uint32) ([]uint32, error)
	// Fetch retrieves one message by UID without marking it seen.
	Fetch(uid uint32) (*RawMessage, error)
	// MarkSeen flags the message as read on the server.
	MarkSeen(uid uint32) error
	// Logout closes the session.
	Logout() error
}

// Client dials and authenticates the account, selecting the given
// mailbox for read/write access.
type Client interface {
	Connect(ctx context.Context, mailbox string) (Session, error)
}
