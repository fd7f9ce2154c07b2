// Package messaging keeps the SMS log: inbound messages and delivery-status
// callbacks, one row per carrier message id.
package messaging

import (
	"context"
	"errors"
	"time"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// StatusReceived is what the carrier reports for a message sent to one of our numbers.
const StatusReceived = "received"

// statusRanks orders carrier message statuses along the delivery lifecycle.
// Final outcomes share a rank, so the first one recorded sticks.
var statusRanks = map[string]int{
	"accepted":    1,
	"scheduled":   1,
	"queued":      1,
	"receiving":   1,
	"sending":     2,
	"sent":        3,
	"delivered":   4,
	"undelivered": 4,
	"failed":      4,
	"canceled":    4,
	"received":    4,
	"read":        5,
}

// StatusRank is a status's position in the lifecycle; unknown statuses rank 0.
// A callback only overwrites the stored status when it ranks strictly higher.
func StatusRank(status string) int {
	return statusRanks[status]
}

// Message is one row of sms_logs. PhoneNumber is the remote party.
type Message struct {
	ID          string            `json:"id" db:"id"`
	TenantID    string            `json:"tenant_id" db:"tenant_id"`
	MessageSID  string            `json:"message_sid" db:"message_sid"`
	PhoneNumber string            `json:"phone_number" db:"phone_number"`
	Direction   Direction         `json:"direction" db:"direction"`
	Body        string            `json:"body" db:"body"`
	Status      string            `json:"status" db:"status"`
	Segments    int               `json:"segments" db:"segments"`
	ErrorCode   string            `json:"error_code,omitempty" db:"error_code"`
	Metadata    map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

var ErrInvalidMessage = errors.New("messaging: invalid message")

// Store persists messages.
//
// Record inserts on first sight of a message sid; later callbacks for the same
// sid only update status and error code (body and tenant are never rewritten),
// and only when the new status ranks higher than the stored one.
type Store interface {
	Record(ctx context.Context, m Message) (created bool, err error)
}

func validate(m Message) error {
	if m.MessageSID == "" || m.TenantID == "" {
		return ErrInvalidMessage
	}
	return nil
}
