package push

import (
	"net/http"

	"github.com/gorilla/websocket"

	"boxoffice/internal/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { // 简化处理，允许所有跨域
		return true
	},
}

// ServeWs 客户端带上预订请求的幂等 key 订阅结果：GET /ws?key=<idempotency key>
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &Client{hub: h, conn: conn, send: make(chan []byte, 16), key: key}
	if !h.subscribe(c) {
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}
