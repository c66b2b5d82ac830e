// Package notification publishes match events to interested parties.
// Dispatch is fire-and-forget: failures are logged and swallowed so they
// can never affect a matching run's report.
package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Match event types
const (
	EventBorrowerMatched = "loan.matched.borrower"
	EventLenderMatched   = "loan.matched.lender"
)

// MatchEvent is the fixed event shape published per successful match.
type MatchEvent struct {
	Type              string          `json:"type"`
	UserID            uuid.UUID       `json:"user_id"`
	LoanApplicationID uuid.UUID       `json:"loan_application_id"`
	LoanOfferID       uuid.UUID       `json:"loan_offer_id"`
	PrincipalAmount   decimal.Decimal `json:"principal_amount"`
	InterestRate      decimal.Decimal `json:"interest_rate"`
	TermInMonths      int             `json:"term_in_months"`
	MatchedDate       time.Time       `json:"matched_date"`
}

// Dispatcher delivers match events.
type Dispatcher interface {
	DispatchMatchEvents(ctx context.Context, events ...MatchEvent)
	Close() error
}

// KafkaDispatcher publishes match events to a Kafka topic.
type KafkaDispatcher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaDispatcher creates a dispatcher writing to the given topic.
func NewKafkaDispatcher(brokers []string, topic string, writeTimeout time.Duration, logger *zap.Logger) *KafkaDispatcher {
	if writeTimeout <= 0 {
		writeTimeout = time.Second
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: writeTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaDispatcher{writer: writer, logger: logger}
}

// DispatchMatchEvents publishes the events, keyed by recipient so one
// user's notifications stay ordered. Errors are logged, never returned.
func (d *KafkaDispatcher) DispatchMatchEvents(ctx context.Context, events ...MatchEvent) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			d.logger.Error("failed to encode match event", zap.String("type", ev.Type), zap.Error(err))
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.UserID.String()),
			Value: payload,
			Time:  time.Now().UTC(),
		})
	}
	if len(msgs) == 0 {
		return
	}
	if err := d.writer.WriteMessages(ctx, msgs...); err != nil {
		d.logger.Warn("failed to publish match events", zap.Int("count", len(msgs)), zap.Error(err))
	}
}

// Close flushes and closes the underlying writer.
func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}

// NopDispatcher drops all events. Used when no broker is configured and in
// tests.
type NopDispatcher struct{}

func (NopDispatcher) DispatchMatchEvents(ctx context.Context, events ...MatchEvent) {}

func (NopDispatcher) Close() error { return nil }
