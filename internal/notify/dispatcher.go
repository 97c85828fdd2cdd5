package notify

import (
	"context"
	"log"

	"github.com/cardvault/reconciler/internal/domain"
	"github.com/cardvault/reconciler/internal/metrics"
)

// Kind classifies what a notification is about. Delivery (email/SMS) happens
// outside this system; the engine only decides whether and what kind.
type Kind string

const (
	KindCardUpdated        Kind = "card_updated"
	KindVerificationNeeded Kind = "verification_needed"
	KindBillingSuspended   Kind = "billing_suspended"
	KindOpsReview          Kind = "ops_review"
)

// Notification is the payload handed across the delivery boundary.
type Notification struct {
	Kind       Kind
	CustomerID string
	VaultID    string
	UpdateID   string
	Email      string
	Detail     string
}

// Dispatcher is the external delivery collaborator.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// LogDispatcher is the default in-process implementation: it records the
// decision and leaves delivery to downstream systems tailing the log.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, n Notification) error {
	metrics.NotificationsDispatched.WithLabelValues(string(n.Kind)).Inc()
	log.Printf("[notify] %s customer=%s vault=%s update=%s: %s",
		n.Kind, n.CustomerID, n.VaultID, n.UpdateID, n.Detail)
	return nil
}

// Decide returns the notification warranted by a final processing result,
// or ok=false when none is.
func Decide(rec *domain.CardUpdateRecord, res *domain.ProcessingResult) (Notification, bool) {
	n := Notification{
		CustomerID: rec.CustomerID,
		VaultID:    rec.VaultID,
		UpdateID:   rec.UpdateID,
		Email:      rec.CustomerInfo.Email,
	}

	switch {
	case res.Status == domain.StatusRequiresValidation:
		n.Kind = KindVerificationNeeded
		n.Detail = "card update requires customer verification"
	case res.Status == domain.StatusPendingReview:
		n.Kind = KindOpsReview
		n.Detail = "card update held for manual review"
	case res.Status == domain.StatusSuccess && res.Application != nil &&
		res.Application.SubscriptionImpact == domain.ImpactSuspended:
		n.Kind = KindBillingSuspended
		n.Detail = "account closed by issuer, billing suspended"
	case res.Status == domain.StatusSuccess && res.Application != nil && res.Application.VaultUpdated:
		n.Kind = KindCardUpdated
		n.Detail = "card on file updated automatically"
	default:
		return Notification{}, false
	}
	return n, true
}
