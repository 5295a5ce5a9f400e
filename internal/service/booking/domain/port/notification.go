package port

import (
	"context"

	"boxoffice/internal/service/booking/domain"
)

type OutcomeNotifier interface {
	PublishOutcome(ctx context.Context, event domain.BookingOutcomeEvent) error
}
