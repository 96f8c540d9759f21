package repository

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"

	"crm-mailroom/internal/models"
)

// caseTagPattern matches a bracketed case number embedded in a subject
// line, e.g. "Re: billing question [CS-AB12CD]".
var caseTagPattern = regexp.MustCompile(`\[(CS-[A-Z0-9]{6})\]`)

const caseNumberAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// caseNumberAttempts bounds collision retries when minting a new case
// number.
const caseNumberAttempts = 5

type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetPollingConfig returns the singleton polling row, creating it with
// the given defaults on first access.
func (r *Repository) GetPollingConfig(defaultInterval int, defaultMailbox string) (*models.PollingConfig, error) {
	var cfg models.PollingConfig
	result := r.db.First(&cfg)
	if result.Error == nil {
		return &cfg, nil
	}
	if result.Error != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("failed to load polling config: %w", result.Error)
	}
	cfg = models.PollingConfig{
		Enabled:         false,
		IntervalSeconds: models.ClampInterval(defaultInterval),
		Mailbox:         defaultMailbox,
	}
	if err := r.db.Create(&cfg).Error; err != nil {
		return nil, fmt.Errorf("failed to seed polling config: %w", err)
	}
	return &cfg, nil
}

// SavePollingConfig persists enabled/interval/mailbox changes. The
// interval is clamped to the supported range; the cursor is not touched
// here.
func (r *Repository) SavePollingConfig(cfg *models.PollingConfig) error {
	cfg.IntervalSeconds = models.ClampInterval(cfg.IntervalSeconds)
	result := r.db.Model(&models.PollingConfig{}).Where("id = ?", cfg.ID).
		Updates(map[string]interface{}{
			"enabled":          cfg.Enabled,
			"interval_seconds": cfg.IntervalSeconds,
			"mailbox":          cfg.Mailbox,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to save polling config: %w", result.Error)
	}
	return nil
}

// AdvanceCursor moves the high-water mark forward. The guard keeps the
// cursor monotonic even if a stale run writes late.
func (r *Repository) AdvanceCursor(uid uint32) error {
	result := r.db.Model(&models.PollingConfig{}).
		Where("last_processed_uid < ?", uid).
		Update("last_processed_uid", uid)
	if result.Error != nil {
		return fmt.Errorf("failed to advance cursor to %d: %w", uid, result.Error)
	}
	return nil
}

// MessageExists reports whether an inbound message with this protocol
// UID, or this Message-Id header when present, is already stored.
func (r *Repository) MessageExists(uid uint32, messageID *string) (bool, error) {
	var count int64
	query := r.db.Model(&models.InboundMessage{}).Where("protocol_uid = ?", uid)
	if messageID != nil && *messageID != "" {
		query = r.db.Model(&models.InboundMessage{}).
			Where("protocol_uid = ? OR message_id = ?", uid, *messageID)
	}
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("database error checking message: %w", err)
	}
	return count > 0, nil
}

// IsTombstoned reports whether the message was deliberately deleted and
// must not be re-ingested.
func (r *Repository) IsTombstoned(uid uint32, messageID *string) (bool, error) {
	var count int64
	query := r.db.Model(&models.DeletionTombstone{}).Where("protocol_uid = ?", uid)
	if messageID != nil && *messageID != "" {
		query = r.db.Model(&models.DeletionTombstone{}).
			Where("protocol_uid = ? OR message_id = ?", uid, *messageID)
	}
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("database error checking tombstone: %w", err)
	}
	return count > 0, nil
}

// AddTombstone appends a deletion record for a message.
func (r *Repository) AddTombstone(uid *uint32, messageID *string) error {
	tombstone := models.DeletionTombstone{
		MessageID:   messageID,
		ProtocolUID: uid,
		DeletedAt:   time.Now(),
	}
	if err := r.db.Create(&tombstone).Error; err != nil {
		return fmt.Errorf("failed to create tombstone: %w", err)
	}
	return nil
}

// CreateInboundMessage stores a fetched message.
func (r *Repository) CreateInboundMessage(msg *models.InboundMessage) error {
	if err := r.db.Create(msg).Error; err != nil {
		return fmt.Errorf("failed to store inbound message %d: %w", msg.ProtocolUID, err)
	}
	return nil
}

// GetInboundMessage loads a stored message by row id. Returns nil when
// no such row exists.
func (r *Repository) GetInboundMessage(id uint) (*models.InboundMessage, error) {
	var msg models.InboundMessage
	if err := r.db.First(&msg, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load inbound message %d: %w", id, err)
	}
	return &msg, nil
}

// DeleteInboundMessage removes a stored message row. Callers append a
// tombstone first so the poller never re-ingests the source copy.
func (r *Repository) DeleteInboundMessage(id uint) error {
	if err := r.db.Delete(&models.InboundMessage{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete inbound message %d: %w", id, err)
	}
	return nil
}

// FindOrCreateCustomerByEmail resolves a customer by lowercased email,
// creating one on first sight of an unknown sender.
func (r *Repository) FindOrCreateCustomerByEmail(email, name string) (*models.Customer, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return nil, fmt.Errorf("empty sender address")
	}
	var customer models.Customer
	result := r.db.Where("email = ?", normalized).First(&customer)
	if result.Error == nil {
		return &customer, nil
	}
	if result.Error != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("database error finding customer: %w", result.Error)
	}
	customer = models.Customer{Email: normalized, Name: name}
	if err := r.db.Create(&customer).Error; err != nil {
		return nil, fmt.Errorf("failed to create customer %s: %w", normalized, err)
	}
	return &customer, nil
}

// ExtractCaseTag returns the case number embedded in a subject line, or
// empty when no tag is present.
func ExtractCaseTag(subject string) string {
	m := caseTagPattern.FindStringSubmatch(subject)
	if m == nil {
		return ""
	}
	return m[1]
}

// FindOrCreateOpenCase resolves the case an inbound message belongs to.
// Precedence: a case whose number is tagged in the subject and still
// open, then the customer's most recently created open case, then a
// fresh case with a newly minted case number and an initial version
// record.
func (r *Repository) FindOrCreateOpenCase(customerID uint, subject string, campaignID *uint) (*models.Case, error) {
	if tag := ExtractCaseTag(subject); tag != "" {
		var tagged models.Case
		result := r.db.Where("case_number = ? AND stage IN ?", tag,
			[]string{models.StageNew, models.StageInProgress}).First(&tagged)
		if result.Error == nil {
			return &tagged, nil
		}
		if result.Error != gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("database error finding tagged case: %w", result.Error)
		}
		// Tag points at a closed or unknown case; fall through to the
		// customer's open case or a new one.
	}

	var open models.Case
	result := r.db.Where("customer_id = ? AND stage IN ?", customerID,
		[]string{models.StageNew, models.StageInProgress}).
		Order("created_at DESC, id DESC").First(&open)
	if result.Error == nil {
		return &open, nil
	}
	if result.Error != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("database error finding open case: %w", result.Error)
	}

	return r.createCase(customerID, campaignID)
}

func (r *Repository) createCase(customerID uint, campaignID *uint) (*models.Case, error) {
	var lastErr error
	for attempt := 0; attempt < caseNumberAttempts; attempt++ {
		number, err := NewCaseNumber()
		if err != nil {
			return nil, err
		}
		c := models.Case{
			CaseNumber: number,
			Stage:      models.StageNew,
			CustomerID: customerID,
			CampaignID: campaignID,
		}
		err = r.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&c).Error; err != nil {
				return err
			}
			version := models.CaseVersion{CaseID: c.ID, Version: 1, Stage: models.StageNew}
			return tx.Create(&version).Error
		})
		if err == nil {
			return &c, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to create case after %d attempts: %w", caseNumberAttempts, lastErr)
}

// NewCaseNumber mints a random case number of the form CS- followed by
// six uppercase base-36 characters.
func NewCaseNumber() (string, error) {
	var raw [6]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("failed to generate case number: %w", err)
	}
	var sb strings.Builder
	sb.WriteString("CS-")
	for _, b := range raw {
		sb.WriteByte(caseNumberAlphabet[int(b)%len(caseNumberAlphabet)])
	}
	return sb.String(), nil
}

// CommunicationExists reports whether a communication is already
// recorded for this message id and customer.
func (r *Repository) CommunicationExists(messageID string, customerID uint) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	var count int64
	err := r.db.Model(&models.Communication{}).
		Where("message_id = ? AND customer_id = ?", messageID, customerID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("database error checking communication: %w", err)
	}
	return count > 0, nil
}

// CommunicationForMessage returns the communication recorded for this
// message id and customer, or nil when none exists.
func (r *Repository) CommunicationForMessage(messageID string, customerID uint) (*models.Communication, error) {
	if messageID == "" {
		return nil, nil
	}
	var comm models.Communication
	result := r.db.Where("message_id = ? AND customer_id = ?", messageID, customerID).First(&comm)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("database error loading communication: %w", result.Error)
	}
	return &comm, nil
}

// CreateCommunication stores one exchange row.
func (r *Repository) CreateCommunication(comm *models.Communication) error {
	if err := r.db.Create(comm).Error; err != nil {
		return fmt.Errorf("failed to create communication: %w", err)
	}
	return nil
}

// LatestCommunicationForCase returns the newest communication on a
// case, or nil when the case has none.
func (r *Repository) LatestCommunicationForCase(caseID uint) (*models.Communication, error) {
	var comm models.Communication
	result := r.db.Where("case_id = ?", caseID).
		Order("created_at DESC, id DESC").First(&comm)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("database error loading latest communication: %w", result.Error)
	}
	return &comm, nil
}

// LatestInboundForCase returns the newest inbound communication for a
// case and customer, or nil when none exists.
func (r *Repository) LatestInboundForCase(caseID, customerID uint) (*models.Communication, error) {
	var comm models.Communication
	result := r.db.Where("case_id = ? AND customer_id = ? AND direction = ?",
		caseID, customerID, models.DirectionIn).
		Order("created_at DESC, id DESC").First(&comm)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("database error loading latest inbound: %w", result.Error)
	}
	return &comm, nil
}

// ThreadForCustomer returns the customer's full communication history,
// oldest first, for prompt building.
func (r *Repository) ThreadForCustomer(customerID uint) ([]models.Communication, error) {
	var thread []models.Communication
	err := r.db.Where("customer_id = ?", customerID).
		Order("created_at ASC, id ASC").Find(&thread).Error
	if err != nil {
		return nil, fmt.Errorf("database error loading thread: %w", err)
	}
	return thread, nil
}

// EligibleAIAgent returns the automated agent for a campaign: active,
// AI-flagged, assigned to the campaign, lowest id wins. Nil when the
// campaign has no automated agent.
func (r *Repository) EligibleAIAgent(campaignID uint) (*models.AgentUser, error) {
	var agent models.AgentUser
	result := r.db.Where("active = ? AND is_ai = ? AND campaign_id = ?", true, true, campaignID).
		Order("id ASC").First(&agent)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("database error finding AI agent: %w", result.Error)
	}
	return &agent, nil
}

// DefaultCampaign returns the campaign flagged as the inbound default,
// or nil when none is configured.
func (r *Repository) DefaultCampaign() (*models.Campaign, error) {
	var campaign models.Campaign
	result := r.db.Where("is_default = ?", true).Order("id ASC").First(&campaign)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("database error finding default campaign: %w", result.Error)
	}
	return &campaign, nil
}

// GetCase loads a case by id. Returns nil when no such case exists.
func (r *Repository) GetCase(caseID uint) (*models.Case, error) {
	var c models.Case
	if err := r.db.First(&c, caseID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load case %d: %w", caseID, err)
	}
	return &c, nil
}

// GetCustomer loads a customer by id. Returns nil when no such customer
// exists.
func (r *Repository) GetCustomer(customerID uint) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.First(&customer, customerID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load customer %d: %w", customerID, err)
	}
	return &customer, nil
}

// CaseVersions returns the version history for a case in ascending
// version order.
func (r *Repository) CaseVersions(caseID uint) ([]models.CaseVersion, error) {
	var versions []models.CaseVersion
	err := r.db.Where("case_id = ?", caseID).Order("version ASC").Find(&versions).Error
	if err != nil {
		return nil, fmt.Errorf("database error loading case versions: %w", err)
	}
	return versions, nil
}

// CloseCase transitions a case to the closed stage and appends the next
// version record.
func (r *Repository) CloseCase(caseID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Case{}).Where("id = ?", caseID).
			Update("stage", models.StageClosed).Error; err != nil {
			return fmt.Errorf("failed to close case %d: %w", caseID, err)
		}
		var maxVersion int
		row := tx.Model(&models.CaseVersion{}).Where("case_id = ?", caseID).
			Select("COALESCE(MAX(version), 0)").Row()
		if err := row.Scan(&maxVersion); err != nil {
			return fmt.Errorf("failed to read case %d versions: %w", caseID, err)
		}
		version := models.CaseVersion{CaseID: caseID, Version: maxVersion + 1, Stage: models.StageClosed}
		if err := tx.Create(&version).Error; err != nil {
			return fmt.Errorf("failed to append case %d version: %w", caseID, err)
		}
		return nil
	})
}

// EnabledProviders returns the enabled AI provider configurations in
// ascending priority order.
func (r *Repository) EnabledProviders() ([]models.AIProviderConfig, error) {
	var providers []models.AIProviderConfig
	err := r.db.Where("enabled = ?", true).Order("priority ASC, id ASC").Find(&providers).Error
	if err != nil {
		return nil, fmt.Errorf("database error loading providers: %w", err)
	}
	return providers, nil
}
