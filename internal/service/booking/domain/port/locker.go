package port

import "context"

// HoldLocker 串行化同一个 hold 上的确认、释放与过期操作
type HoldLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
