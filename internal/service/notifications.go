package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/and161185/leaseflow/internal/notify"
	"github.com/and161185/leaseflow/internal/workflow"
)

// Notifier sends SMS for committed transitions. Delivery is queued so the
// transition path never waits on a transport.
type Notifier struct {
	sender notify.Sender
	log    *zap.Logger
}

var _ Observer = (*Notifier)(nil)

// NewNotifier constructs Notifier.
func NewNotifier(sender notify.Sender, log *zap.Logger) *Notifier {
	return &Notifier{sender: sender, log: log}
}

// OnTransition implements Observer.
func (n *Notifier) OnTransition(_ context.Context, t Transition) {
	l := t.Lease
	var to, body string
	switch t.To {
	case workflow.PendingLandlordApproval:
		to, body = l.LandlordPhone, notify.ApprovalRequestMessage(l.ReferenceNumber, l.TenantName, l.MonthlyRent, l.Currency)
	case workflow.Approved:
		to, body = l.TenantPhone, notify.ApprovedMessage(l.ReferenceNumber)
	case workflow.Cancelled:
		if t.From != workflow.PendingLandlordApproval {
			return
		}
		reason, _ := t.Extra["reason"].(string)
		to, body = l.TenantPhone, notify.RejectedMessage(l.ReferenceNumber, reason)
	case workflow.TenantSigned:
		to, body = l.TenantPhone, notify.SignedMessage(l.ReferenceNumber, l.StartDate)
	default:
		return
	}
	if to == "" {
		n.log.Debug("no recipient for transition notice",
			zap.String("lease_id", l.ID.String()),
			zap.String("state", string(t.To)),
		)
		return
	}
	n.sender.Enqueue(notify.Message{
		Channel: notify.SMS,
		To:      notify.ToInternational(to, ""),
		Body:    body,
		Meta:    notify.Meta{"type": string(t.To), "reference": l.ReferenceNumber},
	})
}
