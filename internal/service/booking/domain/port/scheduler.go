package port

import (
	"context"

	"boxoffice/internal/service/booking/domain"
)

// ExpiryScheduler 在 hold 到期时触发一次过期检查。投递失败不影响主流程，定时清扫兜底。
type ExpiryScheduler interface {
	ScheduleHoldExpiry(ctx context.Context, hold domain.Hold) error
}
