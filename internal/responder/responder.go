package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"crm-mailroom/internal/ai"
	"crm-mailroom/internal/mailer"
	"crm-mailroom/internal/metrics"
	"crm-mailroom/internal/models"
	"crm-mailroom/internal/repository"
)

// Outcome describes what an auto-reply attempt did. Every attempt
// terminates in exactly one of these; nothing propagates to the caller
// as an error.
type Outcome string

const (
	OutcomeReplied         Outcome = "replied"
	OutcomeFallbackReplied Outcome = "fallback_replied"
	OutcomeNoCampaign      Outcome = "skipped_no_campaign"
	OutcomeNoAgent         Outcome = "skipped_no_agent"
	OutcomeNoInbound       Outcome = "skipped_no_inbound"
	OutcomeAlreadyReplied  Outcome = "skipped_already_replied"
	OutcomeSendFailed      Outcome = "send_failed"
	OutcomeError           Outcome = "error"
)

// fallbackReply is sent when every configured AI provider fails: an
// auto-reply is always sent once routing and idempotency checks pass,
// even if degraded.
const fallbackReply = "Thank you for reaching out. We have received your message and a member of our team will follow up with you shortly."

const systemPrompt = "You are a customer support agent. Reply to the customer's latest message helpfully and concisely, in the language they wrote in. Do not mention that you are automated."

// ChatClient is the failover completion client.
type ChatClient interface {
	ChatWithFailover(ctx context.Context, providers []ai.Provider, messages []ai.Message) (*ai.Result, error)
}

// Responder sends at most one automated reply per inbound message and
// closes the case it replied to. This is a single-shot acknowledgment
// model: closing the case forecloses automated back-and-forth, so a
// customer's next message opens a fresh case for a human.
type Responder struct {
	repo    *repository.Repository
	chat    ChatClient
	sender  mailer.Sender
	metrics *metrics.Metrics
}

// New creates an auto-responder.
func New(repo *repository.Repository, chat ChatClient, sender mailer.Sender, m *metrics.Metrics) *Responder {
	return &Responder{repo: repo, chat: chat, sender: sender, metrics: m}
}

// MaybeAutoReply attempts an automated reply for the case. Best-effort:
// every failure path resolves to an Outcome and log output, never a
// panic or an error to the caller.
func (r *Responder) MaybeAutoReply(ctx context.Context, customerID, caseID uint) Outcome {
	outcome := r.autoReply(ctx, customerID, caseID)
	logrus.WithFields(logrus.Fields{
		"customer_id": customerID,
		"case_id":     caseID,
		"outcome":     string(outcome),
	}).Info("Auto-reply attempt finished")
	return outcome
}

func (r *Responder) autoReply(ctx context.Context, customerID, caseID uint) Outcome {
	campaignID, outcome := r.resolveCampaign(caseID)
	if outcome != "" {
		return outcome
	}

	agent, err := r.repo.EligibleAIAgent(*campaignID)
	if err != nil {
		logrus.Errorf("Auto-reply agent lookup failed: %v", err)
		return OutcomeError
	}
	if agent == nil {
		return OutcomeNoAgent
	}

	latestInbound, err := r.repo.LatestInboundForCase(caseID, customerID)
	if err != nil {
		logrus.Errorf("Auto-reply inbound lookup failed: %v", err)
		return OutcomeError
	}
	if latestInbound == nil {
		return OutcomeNoInbound
	}

	replyID := models.SyntheticReplyID(latestInbound.ID)
	alreadyReplied, err := r.repo.CommunicationExists(replyID, customerID)
	if err != nil {
		logrus.Errorf("Auto-reply idempotency check failed: %v", err)
		return OutcomeError
	}
	if alreadyReplied {
		return OutcomeAlreadyReplied
	}

	// Resolve customer and case before spending a provider round-trip
	// on a dangling id.
	customer, err := r.repo.GetCustomer(customerID)
	if err != nil || customer == nil {
		logrus.Errorf("Auto-reply customer lookup failed: %v", err)
		return OutcomeError
	}
	linked, err := r.repo.GetCase(caseID)
	if err != nil || linked == nil {
		logrus.Errorf("Auto-reply case lookup failed: %v", err)
		return OutcomeError
	}

	body, degraded := r.composeReply(ctx, customerID)

	subject := taggedSubject(latestInbound.Subject, linked.CaseNumber)
	err = r.sender.Send(ctx, mailer.OutboundMail{
		To:      customer.Email,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		// No idempotency row and no case close: the door stays open for
		// exactly one natural retry on the next inbound activity.
		logrus.Errorf("Auto-reply send failed: %v", err)
		return OutcomeSendFailed
	}

	comm := &models.Communication{
		Type:        models.CommTypeEmail,
		Direction:   models.DirectionOut,
		Subject:     subject,
		Body:        body,
		CustomerID:  customerID,
		AgentUserID: &agent.ID,
		CampaignID:  campaignID,
		CaseID:      caseID,
		MessageID:   replyID,
		CreatedAt:   time.Now(),
	}
	if err := r.repo.CreateCommunication(comm); err != nil {
		logrus.Errorf("Auto-reply record failed: %v", err)
		return OutcomeError
	}

	if err := r.repo.CloseCase(caseID); err != nil {
		logrus.Errorf("Auto-reply case close failed: %v", err)
		return OutcomeError
	}

	r.metrics.AutoReplies.Inc()
	if degraded {
		return OutcomeFallbackReplied
	}
	return OutcomeReplied
}

// resolveCampaign picks the campaign of the latest communication on the
// case, falling back to the configured default. Empty outcome means a
// campaign was found.
func (r *Responder) resolveCampaign(caseID uint) (*uint, Outcome) {
	latest, err := r.repo.LatestCommunicationForCase(caseID)
	if err != nil {
		logrus.Errorf("Auto-reply campaign lookup failed: %v", err)
		return nil, OutcomeError
	}
	if latest != nil && latest.CampaignID != nil {
		return latest.CampaignID, ""
	}
	campaign, err := r.repo.DefaultCampaign()
	if err != nil {
		logrus.Errorf("Auto-reply default campaign lookup failed: %v", err)
		return nil, OutcomeError
	}
	if campaign == nil {
		return nil, OutcomeNoCampaign
	}
	return &campaign.ID, ""
}

// composeReply builds the prompt from the customer's chronological
// thread and asks the failover client for a reply. Provider exhaustion
// degrades to the fixed fallback text; degraded reports that path.
func (r *Responder) composeReply(ctx context.Context, customerID uint) (body string, degraded bool) {
	thread, err := r.repo.ThreadForCustomer(customerID)
	if err != nil {
		logrus.Errorf("Auto-reply thread load failed: %v", err)
		return fallbackReply, true
	}

	messages := make([]ai.Message, 0, len(thread)+1)
	messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: systemPrompt})
	for _, comm := range thread {
		role := ai.RoleUser
		if comm.Direction == models.DirectionOut {
			role = ai.RoleAssistant
		}
		messages = append(messages, ai.Message{Role: role, Content: comm.Body})
	}

	providerRows, err := r.repo.EnabledProviders()
	if err != nil {
		logrus.Errorf("Auto-reply provider load failed: %v", err)
		return fallbackReply, true
	}
	providers := make([]ai.Provider, 0, len(providerRows))
	for _, row := range providerRows {
		providers = append(providers, ai.Provider{
			Kind:     row.Kind,
			APIKey:   row.APIKey,
			Endpoint: row.Endpoint,
			Model:    row.Model,
			Timeout:  time.Duration(row.TimeoutSeconds) * time.Second,
		})
	}

	result, err := r.chat.ChatWithFailover(ctx, providers, messages)
	if err != nil {
		var failure *ai.FailoverError
		if errors.As(err, &failure) {
			r.metrics.ProviderFailures.Add(float64(len(failure.Tried)))
			for _, attempt := range failure.Tried {
				logrus.WithFields(logrus.Fields{
					"provider": attempt.Provider,
					"model":    attempt.Model,
					"code":     attempt.Code,
				}).Warn("Auto-reply provider attempt failed")
			}
		}
		r.metrics.AutoReplyFallback.Inc()
		return fallbackReply, true
	}

	logrus.WithFields(logrus.Fields{
		"provider": result.Provider,
		"model":    result.Model,
	}).Debug("Auto-reply composed")
	return result.Content, false
}

// taggedSubject makes sure the outgoing subject carries the case number
// tag so the customer's next reply links back deterministically.
func taggedSubject(subject, caseNumber string) string {
	tag := "[" + caseNumber + "]"
	if strings.Contains(subject, tag) {
		return subject
	}
	if subject == "" {
		return fmt.Sprintf("Re: your request %s", tag)
	}
	return subject + " " + tag
}
