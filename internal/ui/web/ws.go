package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"grimm.is/luci/internal/events"
	"grimm.is/luci/internal/poll"
	"grimm.is/luci/internal/rpc"
	"grimm.is/luci/internal/ui"
	"grimm.is/luci/internal/views"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Enforce same-origin policy for WebSocket upgrades
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if strings.Contains(origin, "://localhost:") || strings.Contains(origin, "://127.0.0.1:") {
			return true
		}
		host := r.Host
		if rest, ok := strings.CutPrefix(origin, "http://"); ok {
			return rest == host
		}
		if rest, ok := strings.CutPrefix(origin, "https://"); ok {
			return rest == host
		}
		return false
	},
}

// Topics a client may subscribe to. Every client starts subscribed to all
// of them; poll results are sent for watched views only.
const (
	TopicCommit   = string(events.EventConfigCommit)
	TopicRevision = string(events.EventConfigRevision)
	TopicNotify   = string(events.EventNotify)
	TopicPoll     = "poll"
)

// WSMessage is a topic-based message sent to clients
type WSMessage struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

// wsRequest is a message from the client.
//
//	{"action": "subscribe", "topics": ["config.commit"]}
//	{"action": "watch", "view": "wireguard-status"}
type wsRequest struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
	View   string   `json:"view"`
}

// wsClient is one websocket connection. Its poller runs the status and
// log fetches of the views it watches with the session of the upgrade
// request, and dies with the connection.
type wsClient struct {
	h      *Handler
	conn   *websocket.Conn
	caller rpc.Caller
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	private *events.Hub
	poller  *poll.Poller

	mu      sync.Mutex
	topics  map[string]bool
	watches map[string][]poll.Handle
}

// handleWS upgrades the connection and serves the client until it goes away.
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	private := events.NewHub()
	c := &wsClient{
		h:       h,
		conn:    conn,
		caller:  h.caller(r),
		send:    make(chan []byte, 256),
		ctx:     ctx,
		cancel:  cancel,
		private: private,
		poller:  poll.New(ctx, poll.Options{Hub: private, Metrics: h.metrics, Logger: h.logger, Immediate: true}),
		topics: map[string]bool{
			TopicCommit:   true,
			TopicRevision: true,
			TopicNotify:   true,
			TopicPoll:     true,
		},
		watches: make(map[string][]poll.Handle),
	}
	h.metrics.WebsocketClients.Inc()

	go c.forward(private, events.EventPollResult, events.EventPollError)
	if h.hub != nil {
		go c.forward(h.hub, events.EventConfigCommit, events.EventConfigRevision, events.EventNotify)
	}
	go c.writePump()
	c.readPump()

	c.cancel()
	c.poller.Stop()
	conn.Close()
	h.metrics.WebsocketClients.Dec()
}

// forward relays events of hub to the client until the connection ends.
func (c *wsClient) forward(hub *events.Hub, types ...events.EventType) {
	ch := hub.Subscribe(64, types...)
	defer hub.Unsubscribe(ch)
	for {
		select {
		case <-c.ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			topic := string(e.Type)
			if e.Type == events.EventPollResult || e.Type == events.EventPollError {
				topic = TopicPoll
			}
			c.publish(topic, e.Data)
		}
	}
}

// publish queues a message if the client is subscribed to topic. A full
// buffer drops the message.
func (c *wsClient) publish(topic string, data any) {
	c.mu.Lock()
	subscribed := c.topics[topic]
	c.mu.Unlock()
	if !subscribed {
		return
	}
	msg, err := json.Marshal(WSMessage{Topic: topic, Data: data})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// readPump handles incoming messages from a client
func (c *wsClient) readPump() {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req wsRequest
		if err := json.Unmarshal(message, &req); err != nil {
			continue
		}

		switch req.Action {
		case "subscribe":
			c.mu.Lock()
			for _, topic := range req.Topics {
				c.topics[topic] = true
			}
			c.mu.Unlock()
		case "unsubscribe":
			c.mu.Lock()
			for _, topic := range req.Topics {
				delete(c.topics, topic)
			}
			c.mu.Unlock()
		case "watch":
			if err := c.watch(req.View); err != nil {
				c.publish(TopicNotify, events.NotifyData{Level: "error", Message: err.Error()})
			}
		case "unwatch":
			c.unwatch(req.View)
		}
	}
}

// writePump sends messages to the client
func (c *wsClient) writePump() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.cancel()
				return
			}
		}
	}
}

// watch starts polling the status tables and the log of a view. Poll
// names are "<view>/<table>" and "<view>/log".
func (c *wsClient) watch(name string) error {
	v, ok := c.h.views.Get(name)
	if !ok {
		return rpc.Errorf(rpc.StatusNotFound, "view %q not found", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.watches[name]; ok {
		return nil
	}

	var handles []poll.Handle
	for _, s := range v.Status {
		h, err := c.poller.Add(name+"/"+s.Name, s.PollInterval(), c.tableFunc(s))
		if err != nil {
			return err
		}
		handles = append(handles, h)
	}
	if v.Log != nil {
		h, err := c.poller.Add(name+"/log", v.Log.PollInterval(), func(ctx context.Context) (any, error) {
			return ui.TailLog(ctx, c.caller, name, 0)
		})
		if err != nil {
			return err
		}
		handles = append(handles, h)
	}
	c.watches[name] = handles
	return nil
}

func (c *wsClient) tableFunc(s *views.StatusDef) poll.Func {
	return func(ctx context.Context) (any, error) {
		return s.Fetch(ctx, c.caller)
	}
}

func (c *wsClient) unwatch(name string) {
	c.mu.Lock()
	handles := c.watches[name]
	delete(c.watches, name)
	c.mu.Unlock()
	for _, h := range handles {
		c.poller.Remove(h)
	}
}
