/*
Package events publishes ledger notifications to other services.

PURPOSE:
  After a refund commits, listeners (email, accounting exports) are told
  about it on a NATS subject. Publishing happens outside the database
  transaction; a failed publish is logged and never undoes a refund.

PUBLISHERS:
  - NATS: nats.go connection, JSON payloads
  - Nop:  used when no NATS_URL is configured
*/
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectRefundCompleted      = "ledger.refund.completed.v1"
	SubjectTransactionsRecorded = "ledger.transactions.recorded.v1"
)

// Publisher sends raw payloads to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// RefundCompleted is published once per committed refund cascade.
type RefundCompleted struct {
	TransactionID  int64     `json:"transaction_id"`
	Kind           string    `json:"kind"`
	Group          string    `json:"group"`
	RefundGroup    string    `json:"refund_group"`
	RefundCreditID int64     `json:"refund_credit_id"`
	RefundDebitID  int64     `json:"refund_debit_id"`
	Pairs          int       `json:"pairs"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	At             time.Time `json:"at"`
}

// TransactionsRecorded is published after a charge is decomposed.
type TransactionsRecorded struct {
	OrderID int64     `json:"order_id"`
	Group   string    `json:"group"`
	Pairs   int       `json:"pairs"`
	At      time.Time `json:"at"`
}

// PublishJSON marshals v and publishes it.
func PublishJSON(ctx context.Context, p Publisher, subject string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}
	return p.Publish(ctx, subject, payload)
}

// =============================================================================
// NATS
// =============================================================================

type NATS struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url, name string, logger *slog.Logger) (*NATS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATS{conn: nc, logger: logger}, nil
}

func (n *NATS) Publish(_ context.Context, subject string, data []byte) error {
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() {
	if n.conn != nil && !n.conn.IsClosed() {
		if err := n.conn.Drain(); err != nil {
			n.logger.Warn("NATS drain failed", "error", err)
		}
	}
}

// Nop drops everything.
type Nop struct{}

func (Nop) Publish(context.Context, string, []byte) error { return nil }
