package emotion

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	model "github.com/zhouzirui/moodmirror/internal/model/emotion"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 16
)

// Update 是推送给 WebSocket 客户端的情绪更新。
type Update struct {
	Type       string      `json:"type"`
	Emotion    model.Label `json:"emotion"`
	Confidence float64     `json:"confidence"`
	Timestamp  int64       `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub 把采样器的情绪回调广播给所有已连接的客户端。
type Hub struct {
	upgrader websocket.Upgrader
	logger   logrus.FieldLogger
	now      func() time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub 创建广播中心。
func NewHub(logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  logger.WithField("component", "emotion-ws"),
		now:     time.Now,
		clients: make(map[*client]struct{}),
	}
}

// Publish 的签名与采样器的更新回调一致，可直接注册为 OnEmotionUpdate。
// 发送缓冲已满的慢客户端会丢失这次更新。
func (h *Hub) Publish(label model.Label, confidence float64) {
	payload, err := json.Marshal(Update{
		Type:       "emotion",
		Emotion:    label,
		Confidence: confidence,
		Timestamp:  h.now().UnixMilli(),
	})
	if err != nil {
		h.logger.WithError(err).Warn("marshal emotion update")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Debug("client send buffer full, update dropped")
		}
	}
}

// Clients 返回当前连接数。
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS 升级连接并持续推送更新，直到客户端断开。
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.WithField("remote", r.RemoteAddr).Info("client connected")

	done := make(chan struct{})
	go h.writeLoop(c, done)
	h.readLoop(c)

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(done)
	h.logger.WithField("remote", r.RemoteAddr).Info("client disconnected")
}

// readLoop 只处理 pong 和关闭帧，客户端消息被忽略。
func (h *Hub) readLoop(c *client) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).Debug("read error")
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
