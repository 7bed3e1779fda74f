// Package docsvc is the boundary to the external Document Service: the
// system that owns generated documents, records their approval history and
// delivers stamp requests to recipients.
//
// Raw status payloads are normalized here, so every caller sees
// []approval.StatusEvent regardless of what the service returned.
package docsvc

import (
	"context"

	"github.com/D4NGK4/CHEDFC/internal/approval"
)

// Service is the Document Service contract.
type Service interface {
	// RequestStatus returns the status history of a document. An unknown
	// document yields *approval.DocumentNotFoundError.
	RequestStatus(ctx context.Context, documentID string) ([]approval.StatusEvent, error)

	// RequestStampInitial asks email to apply the initial stamp.
	RequestStampInitial(ctx context.Context, email, documentID string) error

	// RequestStampSignature asks email to apply the signature stamp.
	RequestStampSignature(ctx context.Context, email, documentID string) error

	// Personalities returns the approver directory.
	Personalities(ctx context.Context) ([]approval.Person, error)
}

// RequestStamp dispatches the request for phase.
func RequestStamp(ctx context.Context, svc Service, phase approval.Phase, email, documentID string) error {
	if phase == approval.PhaseInitial {
		return svc.RequestStampInitial(ctx, email, documentID)
	}
	return svc.RequestStampSignature(ctx, email, documentID)
}
