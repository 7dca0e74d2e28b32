package ws

import "sync"

// AllReports subscribes a client to every report type.
const AllReports = "*"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans stored-report notifications out to subscribers by report type.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	done      chan struct{}
	closeOnce sync.Once
}

type message struct {
	reportType string
	payload    []byte
}

type subscription struct {
	reportType string
	client     Subscriber
}

// NewHub creates a running Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for _, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
			}
			h.clients = nil
			return
		case sub := <-h.register:
			if _, ok := h.clients[sub.reportType]; !ok {
				h.clients[sub.reportType] = make(map[Subscriber]struct{})
			}
			h.clients[sub.reportType][sub.client] = struct{}{}
		case sub := <-h.unreg:
			h.remove(sub.reportType, sub.client)
		case msg := <-h.broadcast:
			h.deliver(msg.reportType, msg.payload)
			if msg.reportType != AllReports {
				h.deliver(AllReports, msg.payload)
			}
		}
	}
}

func (h *Hub) deliver(reportType string, payload []byte) {
	for c := range h.clients[reportType] {
		if err := c.Send(payload); err != nil {
			c.Close()
			h.remove(reportType, c)
		}
	}
}

func (h *Hub) remove(reportType string, client Subscriber) {
	clients, ok := h.clients[reportType]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, reportType)
	}
}

// Register adds a client to a report type stream; use AllReports for every type.
func (h *Hub) Register(reportType string, client Subscriber) {
	select {
	case h.register <- subscription{reportType: normalize(reportType), client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(reportType string, client Subscriber) {
	select {
	case h.unreg <- subscription{reportType: normalize(reportType), client: client}:
	case <-h.done:
	}
}

// Broadcast sends payload to subscribers of reportType and of AllReports.
func (h *Hub) Broadcast(reportType string, payload []byte) {
	select {
	case h.broadcast <- message{reportType: normalize(reportType), payload: payload}:
	case <-h.done:
	}
}

// Close disconnects every subscriber and stops the hub.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func normalize(reportType string) string {
	if reportType == "" {
		return AllReports
	}
	return reportType
}
