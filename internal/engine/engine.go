package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"crm-mailroom/internal/mailbox"
	"crm-mailroom/internal/metrics"
	"crm-mailroom/internal/models"
	"crm-mailroom/internal/parser"
	"crm-mailroom/internal/repository"
)

// ReplyFunc triggers a best-effort auto-reply for a customer/case pair.
// Invoked fire-and-forget; implementations must not panic.
type ReplyFunc func(ctx context.Context, customerID, caseID uint)

// Result is the outcome of one polling run. Skipped distinguishes
// "polling disabled or unconfigured" from "ran and found nothing".
type Result struct {
	Processed int
	Skipped   bool
}

// Engine is the inbound-mail ingestion pipeline: it drains the mailbox
// above the stored cursor, links each message to customer and case
// records, and advances the cursor one message at a time.
type Engine struct {
	repo            *repository.Repository
	client          mailbox.Client
	reply           ReplyFunc
	metrics         *metrics.Metrics
	defaultInterval int
	defaultMailbox  string
}

// New creates an ingestion engine. reply may be nil to disable
// auto-replies.
func New(repo *repository.Repository, client mailbox.Client, reply ReplyFunc, m *metrics.Metrics, defaultInterval int, defaultMailbox string) *Engine {
	return &Engine{
		repo:            repo,
		client:          client,
		reply:           reply,
		metrics:         m,
		defaultInterval: defaultInterval,
		defaultMailbox:  defaultMailbox,
	}
}

// RunOnce executes one ingestion pass. Messages are processed in
// ascending UID order and the cursor is persisted after each one, so a
// crash mid-batch loses at most the unprocessed tail. A session-level
// failure aborts the run and returns the progress made so far;
// per-message failures are logged and skipped with the cursor still
// advancing past them.
func (e *Engine) RunOnce(ctx context.Context) (Result, error) {
	cfg, err := e.repo.GetPollingConfig(e.defaultInterval, e.defaultMailbox)
	if err != nil {
		return Result{}, err
	}
	if !cfg.Enabled {
		logrus.Debug("Polling disabled, skipping run")
		return Result{Skipped: true}, nil
	}

	start := time.Now()
	e.metrics.PollRuns.Inc()
	defer func() {
		e.metrics.PollDuration.Observe(time.Since(start).Seconds())
	}()

	session, err := e.client.Connect(ctx, cfg.Mailbox)
	if err != nil {
		if errors.Is(err, mailbox.ErrNotConfigured) {
			logrus.Debug("Mailbox account not configured, skipping run")
			return Result{Skipped: true}, nil
		}
		e.metrics.PollFailures.Inc()
		return Result{}, fmt.Errorf("failed to open mailbox session: %w", err)
	}
	defer session.Logout()

	uids, err := session.UIDsAbove(cfg.LastProcessedUID)
	if err != nil {
		e.metrics.PollFailures.Inc()
		return Result{}, fmt.Errorf("failed to list messages: %w", err)
	}
	if len(uids) == 0 {
		return Result{}, nil
	}

	logrus.Infof("Polling run: %d messages above UID %d", len(uids), cfg.LastProcessedUID)

	processed := 0
	for _, uid := range uids {
		if ctx.Err() != nil {
			return Result{Processed: processed}, ctx.Err()
		}

		raw, err := session.Fetch(uid)
		if err != nil {
			// Fetch failures are session-level: abort, keep the cursor at
			// the last good position, let the next tick retry.
			e.metrics.PollFailures.Inc()
			return Result{Processed: processed}, fmt.Errorf("fetch aborted run at UID %d: %w", uid, err)
		}

		customerID, caseID, err := e.processMessage(uid, raw)
		if err != nil {
			// Per-message failure: log, skip, and still advance past it.
			// A permanently malformed message is not retried forever.
			logrus.WithFields(logrus.Fields{"uid": uid}).Errorf("Failed to process message: %v", err)
		}

		if err := session.MarkSeen(uid); err != nil {
			e.metrics.PollFailures.Inc()
			return Result{Processed: processed}, fmt.Errorf("mark seen aborted run at UID %d: %w", uid, err)
		}
		if err := e.repo.AdvanceCursor(uid); err != nil {
			return Result{Processed: processed}, err
		}
		e.metrics.CursorPosition.Set(float64(uid))
		processed++

		if err == nil && customerID != 0 && e.reply != nil {
			// Fire-and-forget: a reply failure must not abort ingestion,
			// and the reply must survive the end of this run.
			go e.reply(context.WithoutCancel(ctx), customerID, caseID)
		}
	}

	logrus.Infof("Polling run complete: %d messages processed", processed)
	return Result{Processed: processed}, nil
}

// processMessage handles one fetched message: tombstone check, dedupe,
// customer and case linking, and the communication row. Returns the
// resolved customer and case for the auto-reply trigger; both are zero
// when the message was skipped.
func (e *Engine) processMessage(uid uint32, raw *mailbox.RawMessage) (customerID, caseID uint, err error) {
	extracted := parser.Extract(raw.Raw)
	from := raw.From
	if from == "" {
		from = extracted.From
	}
	subject := raw.Subject
	if subject == "" {
		subject = extracted.Subject
	}

	tombstoned, err := e.repo.IsTombstoned(uid, extracted.MessageID)
	if err != nil {
		return 0, 0, err
	}
	if tombstoned {
		// The source copy still gets marked seen and the cursor still
		// advances; it just never re-enters the store.
		logrus.WithFields(logrus.Fields{"uid": uid}).Info("Skipping tombstoned message")
		e.metrics.MessagesSkipped.Inc()
		return 0, 0, nil
	}

	exists, err := e.repo.MessageExists(uid, extracted.MessageID)
	if err != nil {
		return 0, 0, err
	}
	if !exists {
		msg := &models.InboundMessage{
			ProtocolUID: uid,
			MessageID:   extracted.MessageID,
			Direction:   models.DirectionIn,
			FromAddr:    from,
			ToAddr:      raw.To,
			Subject:     subject,
			Body:        extracted.Body,
		}
		if err := e.repo.CreateInboundMessage(msg); err != nil {
			return 0, 0, err
		}
		e.metrics.MessagesIngested.Inc()
	} else {
		e.metrics.MessagesSkipped.Inc()
	}

	customer, err := e.repo.FindOrCreateCustomerByEmail(parser.Address(from), parser.DisplayName(from))
	if err != nil {
		return 0, 0, err
	}

	commID := communicationID(uid, extracted.MessageID)
	existing, err := e.repo.CommunicationForMessage(commID, customer.ID)
	if err != nil {
		return 0, 0, err
	}
	if existing != nil {
		// A re-offered message stays on the thread it already belongs
		// to. Re-linking would mint a fresh case on every re-offer once
		// that case closes.
		return customer.ID, existing.CaseID, nil
	}

	var campaignID *uint
	if campaign, err := e.repo.DefaultCampaign(); err != nil {
		return 0, 0, err
	} else if campaign != nil {
		campaignID = &campaign.ID
	}

	linked, err := e.repo.FindOrCreateOpenCase(customer.ID, subject, campaignID)
	if err != nil {
		return 0, 0, err
	}

	comm := &models.Communication{
		Type:       models.CommTypeEmail,
		Direction:  models.DirectionIn,
		Subject:    subject,
		Body:       extracted.Body,
		CustomerID: customer.ID,
		CampaignID: campaignID,
		CaseID:     linked.ID,
		MessageID:  commID,
	}
	if err := e.repo.CreateCommunication(comm); err != nil {
		return 0, 0, err
	}

	return customer.ID, linked.ID, nil
}

// communicationID keys the inbound communication row: the Message-Id
// header when present, otherwise a deterministic UID-derived key so the
// idempotency check holds across re-polls of headerless messages.
func communicationID(uid uint32, messageID *string) string {
	if messageID != nil && *messageID != "" {
		return *messageID
	}
	return "UID:" + strconv.FormatUint(uint64(uid), 10)
}
