package services

import (
	"strings"
	"time"

	domain "github.com/hanko-field/fulfillment/internal/domain"
)

var paymentStatuses = map[string]PaymentStatus{
	string(domain.PaymentStatusAwaitingPayment): domain.PaymentStatusAwaitingPayment,
	string(domain.PaymentStatusUnpaid):          domain.PaymentStatusUnpaid,
	string(domain.PaymentStatusPaid):            domain.PaymentStatusPaid,
	string(domain.PaymentStatusExpired):         domain.PaymentStatusExpired,
	string(domain.PaymentStatusRefunded):        domain.PaymentStatusRefunded,
}

// paymentTransitions lists the targets reachable from each status. refunded is reachable from
// every status and is handled separately.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	domain.PaymentStatusAwaitingPayment: {domain.PaymentStatusPaid, domain.PaymentStatusExpired},
	domain.PaymentStatusUnpaid:          {domain.PaymentStatusPaid},
}

// PaymentChange is the validated request applied to a payment.
type PaymentChange struct {
	Status      *PaymentStatus
	Description *string
	PaymentDate *time.Time
	GatewayRef  *string
}

// PaymentTransition is the result of applying a change.
type PaymentTransition struct {
	Payment Payment
	From    PaymentStatus
	To      PaymentStatus
}

// Changed reports whether the status moved.
func (t PaymentTransition) Changed() bool { return t.From != t.To }

// PaymentLedger owns the payment state machine.
type PaymentLedger struct{}

// Initial returns the payment a new order starts with for the given method.
func (PaymentLedger) Initial(method PaymentMethod, amount int64) (Payment, error) {
	switch method {
	case domain.PaymentMethodBanking:
		return Payment{Amount: amount, Method: method, Status: domain.PaymentStatusAwaitingPayment}, nil
	case domain.PaymentMethodCOD:
		return Payment{Amount: amount, Method: method, Status: domain.PaymentStatusUnpaid}, nil
	default:
		return Payment{}, invalidInput("payment.method must be one of cod, banking")
	}
}

// ParseStatus validates a raw status value.
func (PaymentLedger) ParseStatus(raw string) (PaymentStatus, error) {
	status, ok := paymentStatuses[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", invalidInput("payment.status %q is not a valid payment status", raw)
	}
	return status, nil
}

// Apply validates change against current and returns the resulting payment. Nothing is
// modified when an error is returned. Requesting the current status again only updates
// metadata.
func (PaymentLedger) Apply(current Payment, change PaymentChange, now time.Time) (PaymentTransition, error) {
	next := current
	result := PaymentTransition{From: current.Status, To: current.Status}

	if change.Status != nil && *change.Status != current.Status {
		target := *change.Status
		if !paymentCanTransition(current.Status, target) {
			return PaymentTransition{}, invalidState("payment cannot move from %s to %s", current.Status, target)
		}
		next.Status = target
		result.To = target
		if target == domain.PaymentStatusPaid {
			paidAt := now
			if change.PaymentDate != nil {
				paidAt = change.PaymentDate.UTC()
			}
			next.PaymentDate = &paidAt
		}
	} else if change.PaymentDate != nil {
		paidAt := change.PaymentDate.UTC()
		next.PaymentDate = &paidAt
	}

	if change.Description != nil {
		next.Description = *change.Description
	}
	if change.GatewayRef != nil {
		next.GatewayRef = *change.GatewayRef
	}
	result.Payment = next
	return result, nil
}

// forcePaid marks a payment paid at the given time unless it is already paid, in which case
// the recorded payment date is kept.
func (PaymentLedger) forcePaid(current Payment, at time.Time) Payment {
	if current.Status == domain.PaymentStatusPaid {
		return current
	}
	current.Status = domain.PaymentStatusPaid
	current.PaymentDate = &at
	return current
}

func paymentCanTransition(from, to PaymentStatus) bool {
	if to == domain.PaymentStatusRefunded {
		return true
	}
	for _, allowed := range paymentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
