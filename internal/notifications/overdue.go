package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// EventInsuranceOverdue is the webhook event type of an overdue notice.
const EventInsuranceOverdue = "insurance.overdue"

// OverdueNotice tells a license owner their insured resale deadline passed.
type OverdueNotice struct {
	LicenseID    uuid.UUID       `json:"license_id"`
	ProductID    uuid.UUID       `json:"product_id"`
	OwnerID      uuid.UUID       `json:"owner_id"`
	Deadline     time.Time       `json:"deadline"`
	DaysOverdue  int             `json:"days_overdue"`
	InsuranceFee decimal.Decimal `json:"insurance_fee"`
}

// WebhookNotifier delivers overdue notices to one configured endpoint,
// which fans out to email or chat downstream.
type WebhookNotifier struct {
	sender *WebhookSender
	url    string
	secret string
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(sender *WebhookSender, url, secret string) *WebhookNotifier {
	return &WebhookNotifier{sender: sender, url: url, secret: secret}
}

// NotifyOverdue sends the notice.
func (n *WebhookNotifier) NotifyOverdue(ctx context.Context, notice OverdueNotice) error {
	return n.sender.Send(ctx, n.url, WebhookPayload{
		EventType: EventInsuranceOverdue,
		Timestamp: time.Now().UTC(),
		Data:      notice,
	}, n.secret)
}

// LogNotifier records notices in the log. It is used when no webhook is
// configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "overdue_notifier").Logger()}
}

// NotifyOverdue logs the notice.
func (n *LogNotifier) NotifyOverdue(_ context.Context, notice OverdueNotice) error {
	n.logger.Info().
		Str("license_id", notice.LicenseID.String()).
		Str("owner_id", notice.OwnerID.String()).
		Int("days_overdue", notice.DaysOverdue).
		Msg("insurance overdue notice")
	return nil
}
