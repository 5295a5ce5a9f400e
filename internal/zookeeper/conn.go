// internal/zookeeper/conn.go
package zookeeper

import (
	"context"
	"fmt"
	"time"

	"github.com/go-zookeeper/zk"

	"boxoffice/internal/pkg/logger"
)

// Conn 包装 zk.Conn，锁和会话共用一个连接
type Conn struct {
	*zk.Conn
}

// Connect 连接 ZooKeeper 集群并等待会话建立
func Connect(ctx context.Context, servers []string, sessionTimeout time.Duration) (*Conn, error) {
	c, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("zookeeper connect %v: %w", servers, err)
	}

	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				logger.Ctx(ctx).Info().Strs("servers", servers).Msg("ZooKeeper session established")
				go drain(events)
				return &Conn{Conn: c}, nil
			}
		case <-ctx.Done():
			c.Close()
			return nil, fmt.Errorf("zookeeper connect %v: %w", servers, ctx.Err())
		}
	}
}

// drain 会话建立后事件 channel 仍需被消费
func drain(events <-chan zk.Event) {
	for ev := range events {
		if ev.State == zk.StateExpired || ev.State == zk.StateDisconnected {
			logger.Ctx(context.Background()).Warn().Str("state", ev.State.String()).Msg("ZooKeeper session state changed")
		}
	}
}

// ensurePath 逐级创建持久节点，已存在时忽略
func (c *Conn) ensurePath(path string) error {
	exists, _, err := c.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = c.Create(path, []byte(""), 0, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return err
	}
	return nil
}
