package models

import (
	"strconv"
	"time"
)

// Case lifecycle stages.
const (
	StageNew        = "new"
	StageInProgress = "in-progress"
	StageWon        = "won"
	StageLost       = "lost"
	StageClosed     = "closed"
)

// Communication types and directions.
const (
	CommTypeEmail   = "email"
	CommTypeMessage = "message"
	CommTypeCall    = "call"

	DirectionIn  = "in"
	DirectionOut = "out"
)

// AI provider kinds.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// PollingConfig is the singleton polling state: whether the poller is
// enabled, how often it runs, and the high-water mark of the last
// fully processed mailbox UID.
type PollingConfig struct {
	ID               uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Enabled          bool      `json:"enabled" gorm:"default:false"`
	IntervalSeconds  int       `json:"interval_seconds" gorm:"not null;default:60"`
	LastProcessedUID uint32    `json:"last_processed_uid" gorm:"not null;default:0"`
	Mailbox          string    `json:"mailbox" gorm:"type:varchar(255);not null;default:'INBOX'"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName specifies the table name for PollingConfig
func (PollingConfig) TableName() string {
	return "polling_configs"
}

const (
	// MinIntervalSeconds and MaxIntervalSeconds bound the polling interval.
	MinIntervalSeconds = 15
	MaxIntervalSeconds = 3600
)

// ClampInterval forces an interval into the supported range.
func ClampInterval(seconds int) int {
	if seconds < MinIntervalSeconds {
		return MinIntervalSeconds
	}
	if seconds > MaxIntervalSeconds {
		return MaxIntervalSeconds
	}
	return seconds
}

// InboundMessage is a fetched mailbox message. Immutable after insert
// except the Seen flag. Uniqueness is enforced on the protocol UID and,
// when present, on the Message-Id header.
type InboundMessage struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	ProtocolUID uint32    `json:"protocol_uid" gorm:"not null;uniqueIndex"`
	MessageID   *string   `json:"message_id" gorm:"type:varchar(255);uniqueIndex"`
	Direction   string    `json:"direction" gorm:"type:varchar(10);not null"`
	FromAddr    string    `json:"from" gorm:"type:varchar(255);not null"`
	ToAddr      string    `json:"to" gorm:"type:varchar(255)"`
	Subject     string    `json:"subject" gorm:"type:varchar(998)"`
	Body        string    `json:"body" gorm:"type:text"`
	Seen        bool      `json:"seen" gorm:"default:false"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for InboundMessage
func (InboundMessage) TableName() string {
	return "inbound_messages"
}

// DeletionTombstone records a user-initiated message deletion so the
// poller never resurrects it. Append-only.
type DeletionTombstone struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	MessageID   *string   `json:"message_id" gorm:"type:varchar(255);index"`
	ProtocolUID *uint32   `json:"protocol_uid" gorm:"index"`
	DeletedAt   time.Time `json:"deleted_at"`
}

// TableName specifies the table name for DeletionTombstone
func (DeletionTombstone) TableName() string {
	return "deletion_tombstones"
}

// Customer is a CRM contact, looked up by lowercased email address.
type Customer struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Email     string    `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	Name      string    `json:"name" gorm:"type:varchar(255)"`
	Phone     string    `json:"phone" gorm:"type:varchar(64)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for Customer
func (Customer) TableName() string {
	return "customers"
}

// Case is a ticket-like unit of work linking a customer thread to a
// lifecycle stage.
type Case struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	CaseNumber string    `json:"case_number" gorm:"type:varchar(16);not null;uniqueIndex"`
	Stage      string    `json:"stage" gorm:"type:varchar(20);not null;default:'new'"`
	CustomerID uint      `json:"customer_id" gorm:"not null;index"`
	CampaignID *uint     `json:"campaign_id" gorm:"index"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	Customer *Customer `json:"customer,omitempty" gorm:"foreignKey:CustomerID"`
	Campaign *Campaign `json:"campaign,omitempty" gorm:"foreignKey:CampaignID"`
}

// TableName specifies the table name for Case
func (Case) TableName() string {
	return "cases"
}

// IsOpen reports whether the case can still receive auto-linked mail.
func (c *Case) IsOpen() bool {
	return c.Stage == StageNew || c.Stage == StageInProgress
}

// CaseVersion is an append-only stage snapshot; Version is monotonic
// per case.
type CaseVersion struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	CaseID    uint      `json:"case_id" gorm:"not null;index"`
	Version   int       `json:"version" gorm:"not null"`
	Stage     string    `json:"stage" gorm:"type:varchar(20);not null"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for CaseVersion
func (CaseVersion) TableName() string {
	return "case_versions"
}

// Campaign groups cases and routes them to agents. At most one campaign
// should be flagged as the default inbound campaign.
type Campaign struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name" gorm:"type:varchar(255);not null"`
	IsDefault bool      `json:"is_default" gorm:"default:false"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for Campaign
func (Campaign) TableName() string {
	return "campaigns"
}

// AgentUser is a CRM user. IsAI marks automated agents eligible for
// auto-replies on their assigned campaign.
type AgentUser struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Email      string    `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	Name       string    `json:"name" gorm:"type:varchar(255)"`
	Active     bool      `json:"active" gorm:"default:true"`
	IsAI       bool      `json:"is_ai" gorm:"default:false"`
	CampaignID *uint     `json:"campaign_id" gorm:"index"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName specifies the table name for AgentUser
func (AgentUser) TableName() string {
	return "agent_users"
}

// Communication is one inbound or outbound exchange on a case.
// Outbound auto-replies carry a synthetic MessageID of the form
// "AI:<inbound communication id>" so the already-replied check is
// idempotent.
type Communication struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Type        string    `json:"type" gorm:"type:varchar(20);not null"`
	Direction   string    `json:"direction" gorm:"type:varchar(10);not null"`
	Subject     string    `json:"subject" gorm:"type:varchar(998)"`
	Body        string    `json:"body" gorm:"type:text"`
	CustomerID  uint      `json:"customer_id" gorm:"not null;index"`
	AgentUserID *uint     `json:"agent_user_id" gorm:"index"`
	CampaignID  *uint     `json:"campaign_id" gorm:"index"`
	CaseID      uint      `json:"case_id" gorm:"not null;index"`
	MessageID   string    `json:"message_id" gorm:"type:varchar(255);index"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for Communication
func (Communication) TableName() string {
	return "communications"
}

// AIProviderConfig is one entry of the ordered provider list consumed
// by the failover client. Enabled providers are tried in ascending
// priority order.
type AIProviderConfig struct {
	ID             uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Kind           string    `json:"kind" gorm:"type:varchar(20);not null"`
	APIKey         string    `json:"-" gorm:"type:varchar(255);not null"`
	Endpoint       string    `json:"endpoint" gorm:"type:varchar(255)"`
	Model          string    `json:"model" gorm:"type:varchar(128);not null"`
	TimeoutSeconds int       `json:"timeout_seconds" gorm:"not null;default:30"`
	Priority       int       `json:"priority" gorm:"not null;default:100"`
	Enabled        bool      `json:"enabled" gorm:"default:true"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName specifies the table name for AIProviderConfig
func (AIProviderConfig) TableName() string {
	return "ai_provider_configs"
}

// SyntheticReplyID builds the idempotency key recorded on outbound
// auto-replies to a given inbound communication.
func SyntheticReplyID(inboundCommID uint) string {
	return "AI:" + strconv.FormatUint(uint64(inboundCommID), 10)
}
