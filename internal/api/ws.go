package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vitacall/teleconsult/internal/fanout"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
	wsOutBuffer    = 32
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsCommand struct {
	Op    string `json:"op"`
	Topic string `json:"topic"`
}

type wsEvent struct {
	Topic   string         `json:"topic"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// wsHandler upgrades the connection and relays fan-out messages for the
// topics the client subscribes to. Push delivery is best effort: a client
// that cannot keep up has messages dropped by the hub, and reads are
// expected to reconcile via polling.
func wsHandler(hub *fanout.Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}

		client := &wsClient{
			conn:   conn,
			hub:    hub,
			logger: logger,
			subs:   make(map[string]*fanout.Subscription),
			out:    make(chan wsEvent, wsOutBuffer),
			done:   make(chan struct{}),
		}
		go client.writeLoop()
		client.readLoop()
	}
}

type wsClient struct {
	conn   *websocket.Conn
	hub    *fanout.Hub
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]*fanout.Subscription

	out  chan wsEvent
	done chan struct{}
}

func (c *wsClient) readLoop() {
	defer c.close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.Topic == "" {
			continue
		}

		switch cmd.Op {
		case "subscribe":
			c.subscribe(cmd.Topic)
		case "unsubscribe":
			c.unsubscribe(cmd.Topic)
		}
	}
}

func (c *wsClient) subscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subs[topic]; ok {
		return
	}
	sub := c.hub.Subscribe(topic)
	c.subs[topic] = sub

	go func() {
		for msg := range sub.C() {
			select {
			case c.out <- wsEvent{Topic: msg.Topic, Event: msg.Event, Payload: msg.Payload}:
			case <-c.done:
				return
			}
		}
	}()
}

func (c *wsClient) unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sub, ok := c.subs[topic]; ok {
		sub.Cancel()
		delete(c.subs, topic)
	}
}

func (c *wsClient) writeLoop() {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case ev := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.conn.Close()
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	for topic, sub := range c.subs {
		sub.Cancel()
		delete(c.subs, topic)
	}
	c.mu.Unlock()

	close(c.done)
	c.conn.Close()
}
