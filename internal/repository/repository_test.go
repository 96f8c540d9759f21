package repository

import (
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"crm-mailroom/internal/models"
)

// newTestRepo opens a per-test in-memory database with the full schema.
func newTestRepo(t *testing.T) (*Repository, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.PollingConfig{},
		&models.InboundMessage{},
		&models.DeletionTombstone{},
		&models.Customer{},
		&models.Case{},
		&models.CaseVersion{},
		&models.Campaign{},
		&models.AgentUser{},
		&models.Communication{},
		&models.AIProviderConfig{},
	)
	require.NoError(t, err)

	return New(db), db
}

func TestPollingConfigSeedAndClamp(t *testing.T) {
	repo, _ := newTestRepo(t)

	cfg, err := repo.GetPollingConfig(5, "INBOX")
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, models.MinIntervalSeconds, cfg.IntervalSeconds)
	assert.Equal(t, "INBOX", cfg.Mailbox)

	cfg.Enabled = true
	cfg.IntervalSeconds = 99999
	require.NoError(t, repo.SavePollingConfig(cfg))

	reloaded, err := repo.GetPollingConfig(5, "INBOX")
	require.NoError(t, err)
	assert.True(t, reloaded.Enabled)
	assert.Equal(t, models.MaxIntervalSeconds, reloaded.IntervalSeconds)
}

func TestAdvanceCursorIsMonotonic(t *testing.T) {
	repo, _ := newTestRepo(t)

	_, err := repo.GetPollingConfig(60, "INBOX")
	require.NoError(t, err)

	require.NoError(t, repo.AdvanceCursor(5))
	cfg, err := repo.GetPollingConfig(60, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(5), cfg.LastProcessedUID)

	// A stale write behind the cursor is a no-op
	require.NoError(t, repo.AdvanceCursor(3))
	cfg, err = repo.GetPollingConfig(60, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(5), cfg.LastProcessedUID)

	require.NoError(t, repo.AdvanceCursor(9))
	cfg, err = repo.GetPollingConfig(60, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(9), cfg.LastProcessedUID)
}

func TestMessageExistsByUIDOrMessageID(t *testing.T) {
	repo, _ := newTestRepo(t)

	messageID := "m1@mail.example.com"
	require.NoError(t, repo.CreateInboundMessage(&models.InboundMessage{
		ProtocolUID: 7,
		MessageID:   &messageID,
		Direction:   models.DirectionIn,
		FromAddr:    "alice@example.com",
	}))

	exists, err := repo.MessageExists(7, nil)
	require.NoError(t, err)
	assert.True(t, exists)

	// Same Message-Id under a different UID is still a duplicate
	exists, err = repo.MessageExists(99, &messageID)
	require.NoError(t, err)
	assert.True(t, exists)

	other := "other@mail.example.com"
	exists, err = repo.MessageExists(99, &other)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestTombstones(t *testing.T) {
	repo, _ := newTestRepo(t)

	uid := uint32(11)
	messageID := "gone@mail.example.com"
	require.NoError(t, repo.AddTombstone(&uid, &messageID))

	tombstoned, err := repo.IsTombstoned(11, nil)
	require.NoError(t, err)
	assert.True(t, tombstoned)

	tombstoned, err = repo.IsTombstoned(99, &messageID)
	require.NoError(t, err)
	assert.True(t, tombstoned)

	tombstoned, err = repo.IsTombstoned(99, nil)
	require.NoError(t, err)
	assert.False(t, tombstoned)
}

func TestFindOrCreateCustomerNormalizesEmail(t *testing.T) {
	repo, _ := newTestRepo(t)

	customer, err := repo.FindOrCreateCustomerByEmail(" Alice@Example.COM ", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", customer.Email)

	again, err := repo.FindOrCreateCustomerByEmail("alice@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, customer.ID, again.ID)

	_, err = repo.FindOrCreateCustomerByEmail("  ", "")
	assert.Error(t, err)
}

func TestExtractCaseTag(t *testing.T) {
	assert.Equal(t, "CS-AB12CD", ExtractCaseTag("Re: billing question [CS-AB12CD]"))
	assert.Equal(t, "", ExtractCaseTag("no tag here"))
	assert.Equal(t, "", ExtractCaseTag("[cs-ab12cd] lowercase does not count"))
	assert.Equal(t, "", ExtractCaseTag("[CS-TOOLONG1]"))
}

func TestNewCaseNumber(t *testing.T) {
	pattern := regexp.MustCompile(`^CS-[0-9A-Z]{6}$`)
	number, err := NewCaseNumber()
	require.NoError(t, err)
	assert.Regexp(t, pattern, number)

	other, err := NewCaseNumber()
	require.NoError(t, err)
	assert.NotEqual(t, number, other)
}

func TestFindOrCreateOpenCasePrecedence(t *testing.T) {
	repo, _ := newTestRepo(t)

	customer, err := repo.FindOrCreateCustomerByEmail("alice@example.com", "Alice")
	require.NoError(t, err)

	// No open case yet: a fresh case with an initial version record
	first, err := repo.FindOrCreateOpenCase(customer.ID, "printer on fire", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StageNew, first.Stage)
	versions, err := repo.CaseVersions(first.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].Version)

	// An untagged follow-up lands on the existing open case
	second, err := repo.FindOrCreateOpenCase(customer.ID, "still on fire", nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// A valid tag beats the most-recent-open-case rule
	tagged, err := repo.FindOrCreateOpenCase(customer.ID, "update ["+first.CaseNumber+"]", nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, tagged.ID)

	// A closed case never receives new mail, tagged or not
	require.NoError(t, repo.CloseCase(first.ID))
	reopened, err := repo.FindOrCreateOpenCase(customer.ID, "again ["+first.CaseNumber+"]", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, reopened.ID)
	assert.Equal(t, models.StageNew, reopened.Stage)
}

func TestCloseCaseAppendsVersion(t *testing.T) {
	repo, _ := newTestRepo(t)

	customer, err := repo.FindOrCreateCustomerByEmail("bob@example.com", "")
	require.NoError(t, err)
	c, err := repo.FindOrCreateOpenCase(customer.ID, "hello", nil)
	require.NoError(t, err)

	require.NoError(t, repo.CloseCase(c.ID))

	closed, err := repo.GetCase(c.ID)
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, models.StageClosed, closed.Stage)

	versions, err := repo.CaseVersions(c.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, models.StageNew, versions[0].Stage)
	assert.Equal(t, 2, versions[1].Version)
	assert.Equal(t, models.StageClosed, versions[1].Stage)
}

func TestEligibleAIAgent(t *testing.T) {
	repo, db := newTestRepo(t)

	campaign := models.Campaign{Name: "inbound", IsDefault: true}
	require.NoError(t, db.Create(&campaign).Error)

	agent, err := repo.EligibleAIAgent(campaign.ID)
	require.NoError(t, err)
	assert.Nil(t, agent)

	inactive := models.AgentUser{Email: "off@example.com", Active: false, IsAI: true, CampaignID: &campaign.ID}
	human := models.AgentUser{Email: "human@example.com", Active: true, IsAI: false, CampaignID: &campaign.ID}
	botA := models.AgentUser{Email: "bot-a@example.com", Active: true, IsAI: true, CampaignID: &campaign.ID}
	botB := models.AgentUser{Email: "bot-b@example.com", Active: true, IsAI: true, CampaignID: &campaign.ID}
	require.NoError(t, db.Create(&inactive).Error)
	require.NoError(t, db.Create(&human).Error)
	require.NoError(t, db.Create(&botA).Error)
	require.NoError(t, db.Create(&botB).Error)

	agent, err = repo.EligibleAIAgent(campaign.ID)
	require.NoError(t, err)
	require.NotNil(t, agent)
	assert.Equal(t, botA.ID, agent.ID)
}

func TestEnabledProvidersOrder(t *testing.T) {
	repo, db := newTestRepo(t)

	require.NoError(t, db.Create(&models.AIProviderConfig{
		Kind: models.ProviderAnthropic, APIKey: "k", Model: "claude", Priority: 20, Enabled: true,
	}).Error)
	require.NoError(t, db.Create(&models.AIProviderConfig{
		Kind: models.ProviderOpenAI, APIKey: "k", Model: "gpt", Priority: 10, Enabled: true,
	}).Error)
	require.NoError(t, db.Create(&models.AIProviderConfig{
		Kind: models.ProviderOpenAI, APIKey: "k", Model: "disabled", Priority: 1, Enabled: false,
	}).Error)

	providers, err := repo.EnabledProviders()
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.Equal(t, models.ProviderOpenAI, providers[0].Kind)
	assert.Equal(t, models.ProviderAnthropic, providers[1].Kind)
}

func TestCommunicationForMessage(t *testing.T) {
	repo, _ := newTestRepo(t)

	customer, err := repo.FindOrCreateCustomerByEmail("dave@example.com", "")
	require.NoError(t, err)
	c, err := repo.FindOrCreateOpenCase(customer.ID, "hi", nil)
	require.NoError(t, err)
	require.NoError(t, repo.CreateCommunication(&models.Communication{
		Type: models.CommTypeEmail, Direction: models.DirectionIn,
		CustomerID: customer.ID, CaseID: c.ID, MessageID: "m9@mail",
	}))

	comm, err := repo.CommunicationForMessage("m9@mail", customer.ID)
	require.NoError(t, err)
	require.NotNil(t, comm)
	assert.Equal(t, c.ID, comm.CaseID)

	comm, err = repo.CommunicationForMessage("missing", customer.ID)
	require.NoError(t, err)
	assert.Nil(t, comm)

	comm, err = repo.CommunicationForMessage("", customer.ID)
	require.NoError(t, err)
	assert.Nil(t, comm)
}

func TestLatestInboundForCase(t *testing.T) {
	repo, _ := newTestRepo(t)

	customer, err := repo.FindOrCreateCustomerByEmail("carol@example.com", "")
	require.NoError(t, err)
	c, err := repo.FindOrCreateOpenCase(customer.ID, "hi", nil)
	require.NoError(t, err)

	latest, err := repo.LatestInboundForCase(c.ID, customer.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, repo.CreateCommunication(&models.Communication{
		Type: models.CommTypeEmail, Direction: models.DirectionIn,
		CustomerID: customer.ID, CaseID: c.ID, MessageID: "first",
	}))
	require.NoError(t, repo.CreateCommunication(&models.Communication{
		Type: models.CommTypeEmail, Direction: models.DirectionIn,
		CustomerID: customer.ID, CaseID: c.ID, MessageID: "second",
	}))
	require.NoError(t, repo.CreateCommunication(&models.Communication{
		Type: models.CommTypeEmail, Direction: models.DirectionOut,
		CustomerID: customer.ID, CaseID: c.ID, MessageID: "out",
	}))

	latest, err = repo.LatestInboundForCase(c.ID, customer.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "second", latest.MessageID)
}
