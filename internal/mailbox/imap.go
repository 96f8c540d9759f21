package mailbox

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"crm-mailroom/internal/config"
)

// IMAPClient connects to the configured IMAP account.
type IMAPClient struct {
	cfg config.IMAPConfig
}

// NewIMAPClient creates a client for the configured account.
func NewIMAPClient(cfg config.IMAPConfig) *IMAPClient {
	return &IMAPClient{cfg: cfg}
}

// Connect dials the server, authenticates, and selects the mailbox for
// read/write (write access is needed to mark messages seen).
func (c *IMAPClient) Connect(ctx context.Context, mailbox string) (Session, error) {
	if !c.cfg.Configured() {
		return nil, ErrNotConfigured
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := client.DialWithDialerTLS(dialer, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.login(ctx, conn); err != nil {
		conn.Logout()
		return nil, err
	}

	if _, err := conn.Select(mailbox, false); err != nil {
		conn.Logout()
		return nil, fmt.Errorf("failed to select %s: %w", mailbox, err)
	}

	return &imapSession{client: conn}, nil
}

func (c *IMAPClient) login(ctx context.Context, conn *client.Client) error {
	if !c.cfg.UseOAuth {
		if err := conn.Login(c.cfg.Username, c.cfg.Password); err != nil {
			return fmt.Errorf("failed to login to IMAP server: %w", err)
		}
		return nil
	}

	oauth2Config := &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Scopes:       []string{"https://mail.google.com/"},
		Endpoint:     google.Endpoint,
	}
	token, err := oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: c.cfg.RefreshToken}).Token()
	if err != nil {
		return fmt.Errorf("failed to refresh OAuth token: %w", err)
	}

	saslClient := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: c.cfg.Username,
		Token:    token.AccessToken,
		Host:     c.cfg.Host,
		Port:     c.cfg.Port,
	})
	if err := conn.Authenticate(saslClient); err != nil {
		return fmt.Errorf("failed OAuth login to IMAP server: %w", err)
	}
	return nil
}

type imapSession struct {
	client *client.Client
}

// UIDsAbove searches the selected mailbox for UIDs strictly greater
// than lastUID, ascending.
func (s *imapSession) UIDsAbove(lastUID uint32) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	seqset := new(imap.SeqSet)
	seqset.AddRange(lastUID+1, 0) // 0 upper bound means "*"
	criteria.Uid = seqset

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	return filterAbove(uids, lastUID), nil
}

// filterAbove drops UIDs at or below the cursor and sorts the rest
// ascending. A UID range of n:* matches the highest-UID message even
// when n exceeds it, so an idle mailbox re-offers the cursor message
// on every search.
func filterAbove(uids []uint32, lastUID uint32) []uint32 {
	filtered := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		if uid > lastUID {
			filtered = append(filtered, uid)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i] < filtered[j] })
	return filtered
}

// Fetch retrieves envelope and raw body for one UID. The body section
// is peeked so fetching does not flip the seen flag; the engine marks
// seen explicitly once the message is fully processed.
func (s *imapSession) Fetch(uid uint32) (*RawMessage, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqset, items, messages)
	}()

	var fetched *imap.Message
	for msg := range messages {
		fetched = msg
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch message %d: %w", uid, err)
	}
	if fetched == nil {
		return nil, fmt.Errorf("message %d not found", uid)
	}

	raw := &RawMessage{UID: uid}
	if fetched.Envelope != nil {
		raw.Subject = fetched.Envelope.Subject
		if len(fetched.Envelope.From) > 0 {
			raw.From = fetched.Envelope.From[0].Address()
		}
		if len(fetched.Envelope.To) > 0 {
			raw.To = fetched.Envelope.To[0].Address()
		}
	}

	if body := fetched.GetBody(section); body != nil {
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read message %d body: %w", uid, err)
		}
		raw.Raw = data
	}

	return raw, nil
}

// MarkSeen adds the \Seen flag with a silent store.
func (s *imapSession) MarkSeen(uid uint32) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}
	if err := s.client.UidStore(seqset, item, flags, nil); err != nil {
		return fmt.Errorf("failed to mark message %d seen: %w", uid, err)
	}
	return nil
}

func (s *imapSession) Logout() error {
	if err := s.client.Logout(); err != nil {
		logrus.Warnf("IMAP logout failed: %v", err)
		return err
	}
	return nil
}
