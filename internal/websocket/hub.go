package chatws

import (
	"github.com/saeid-a/ClinicChatBack/internal/metrics"
)

// Hub owns channel membership. Every map below is touched only by the Run
// goroutine; callers talk to it through channels.
type Hub struct {
	clients    map[int64]map[*Client]struct{}
	rooms      map[int64]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	join       chan membership
	leave      chan membership
	dropRoom   chan int64
	broadcast  chan *delivery
	done       chan struct{}
}

type membership struct {
	client         *Client
	conversationID int64
}

// delivery describes one fan-out. Recipients are the union of the
// conversation room, the private channels of userIDs, the target client and
// (when everyone is set) all connections. Each connection gets the payload at
// most once.
type delivery struct {
	payload        []byte
	conversationID int64
	userIDs        []int64
	target         *Client
	everyone       bool
	exclude        *Client
	excludeUserID  int64
	// requireMember drops the delivery unless this client has joined the
	// conversation room.
	requireMember *Client
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[int64]map[*Client]struct{}),
		rooms:      make(map[int64]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan membership),
		leave:      make(chan membership),
		dropRoom:   make(chan int64),
		broadcast:  make(chan *delivery, 256),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
			metrics.WSConnectionsActive.Inc()
		case client := <-h.unregister:
			h.remove(client)
		case m := <-h.join:
			if !h.registered(m.client) {
				continue
			}
			room, ok := h.rooms[m.conversationID]
			if !ok {
				room = make(map[*Client]struct{})
				h.rooms[m.conversationID] = room
			}
			room[m.client] = struct{}{}
			m.client.rooms[m.conversationID] = struct{}{}
		case m := <-h.leave:
			h.leaveRoom(m.client, m.conversationID)
		case conversationID := <-h.dropRoom:
			for client := range h.rooms[conversationID] {
				delete(client.rooms, conversationID)
			}
			delete(h.rooms, conversationID)
		case d := <-h.broadcast:
			h.deliver(d)
		case <-h.done:
			h.closeAll()
			return
		}
	}
}

// closeAll releases the write pumps of the connections still registered at
// shutdown.
func (h *Hub) closeAll() {
	for _, set := range h.clients {
		for client := range set {
			h.remove(client)
		}
	}
}

// Stop ends the Run loop. Pending callers are released and every open
// connection's send queue is closed.
func (h *Hub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

// Register adds the connection to the hub. After Stop the connection is
// never tracked, so its send queue is closed right away.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) Join(client *Client, conversationID int64) {
	select {
	case h.join <- membership{client: client, conversationID: conversationID}:
	case <-h.done:
	}
}

func (h *Hub) Leave(client *Client, conversationID int64) {
	select {
	case h.leave <- membership{client: client, conversationID: conversationID}:
	case <-h.done:
	}
}

// DropRoom forgets every membership of a conversation, used after it is
// deleted.
func (h *Hub) DropRoom(conversationID int64) {
	select {
	case h.dropRoom <- conversationID:
	case <-h.done:
	}
}

func (h *Hub) publish(d *delivery) {
	select {
	case h.broadcast <- d:
	case <-h.done:
	}
}

func (h *Hub) registered(client *Client) bool {
	set, ok := h.clients[client.userID]
	if !ok {
		return false
	}
	_, exists := set[client]
	return exists
}

func (h *Hub) leaveRoom(client *Client, conversationID int64) {
	room, ok := h.rooms[conversationID]
	if ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	delete(client.rooms, conversationID)
}

func (h *Hub) remove(client *Client) {
	if !h.registered(client) {
		return
	}
	for conversationID := range client.rooms {
		h.leaveRoom(client, conversationID)
	}
	set := h.clients[client.userID]
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.userID)
	}
	close(client.send)
	metrics.WSConnectionsActive.Dec()
}

func (h *Hub) deliver(d *delivery) {
	if d.requireMember != nil {
		if _, ok := h.rooms[d.conversationID][d.requireMember]; !ok {
			return
		}
	}

	recipients := make(map[*Client]struct{})
	if d.conversationID > 0 {
		for client := range h.rooms[d.conversationID] {
			recipients[client] = struct{}{}
		}
	}
	for _, userID := range d.userIDs {
		for client := range h.clients[userID] {
			recipients[client] = struct{}{}
		}
	}
	if d.target != nil && h.registered(d.target) {
		recipients[d.target] = struct{}{}
	}
	if d.everyone {
		for _, set := range h.clients {
			for client := range set {
				recipients[client] = struct{}{}
			}
		}
	}

	for client := range recipients {
		if client == d.exclude || (d.excludeUserID != 0 && client.userID == d.excludeUserID) {
			continue
		}
		select {
		case client.send <- d.payload:
		default:
			// Slow consumer: drop the connection rather than block the hub.
			h.remove(client)
		}
	}
}
