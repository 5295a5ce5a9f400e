package push

import (
	"context"

	"boxoffice/internal/pkg/logger"
)

type delivery struct {
	key     string
	payload []byte
}

// Hub 维护所有活跃的连接。所有状态只在 Run 的 goroutine 中修改。
// 同一个幂等 key 可以有多个订阅者（例如用户开了多个标签页）。
type Hub struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	deliver    chan delivery
	count      chan countQuery
	done       chan struct{}
}

type countQuery struct {
	key   string
	reply chan int
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan delivery, 256),
		count:      make(chan countQuery),
		done:       make(chan struct{}),
	}
}

// Run 阻塞直到 ctx 结束，退出时关闭所有连接的发送队列
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			if h.clients[c.key] == nil {
				h.clients[c.key] = make(map[*Client]struct{})
			}
			h.clients[c.key][c] = struct{}{}
			logger.Ctx(ctx).Debug().Str("idempotency_key", c.key).Msg("Client subscribed")
		case c := <-h.unregister:
			h.remove(c)
		case d := <-h.deliver:
			for c := range h.clients[d.key] {
				select {
				case c.send <- d.payload:
				default:
					// 发送队列满了，说明客户端已经跟不上
					logger.Ctx(ctx).Warn().Str("idempotency_key", d.key).Msg("Dropping slow client")
					h.remove(c)
				}
			}
		case q := <-h.count:
			q.reply <- len(h.clients[q.key])
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = make(map[string]map[*Client]struct{})
			return nil
		}
	}
}

// Deliver 把 payload 推给订阅了 key 的所有客户端
func (h *Hub) Deliver(ctx context.Context, key string, payload []byte) error {
	select {
	case h.deliver <- delivery{key: key, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribers 返回订阅了 key 的连接数
func (h *Hub) Subscribers(ctx context.Context, key string) (int, error) {
	q := countQuery{key: key, reply: make(chan int, 1)}
	select {
	case h.count <- q:
		return <-q.reply, nil
	case <-h.done:
		return 0, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// subscribe 与 Run 的退出竞争，Run 已退出时返回 false
func (h *Hub) subscribe(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unsubscribe(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) remove(c *Client) {
	set, ok := h.clients[c.key]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.key)
	}
}
