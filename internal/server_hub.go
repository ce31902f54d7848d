package internal

import "sync"

// Hub is the room registry. One lock guards every room so membership
// changes and snapshots never interleave.
type Hub struct {
	mutex sync.RWMutex
	rooms map[string]*Room
}

// Room is the live membership of a single room key.
type Room struct {
	key     string
	clients map[*Client]struct{}
}

// builds an empty hub ready to serve websocket requests
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*Room)}
}

// Join adds the client to the room, creating the room on first join.
// Joining twice is a no-op.
func (hub *Hub) Join(key string, client *Client) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	room, exists := hub.rooms[key]
	if !exists {
		room = &Room{key: key, clients: make(map[*Client]struct{})}
		hub.rooms[key] = room
	}
	room.clients[client] = struct{}{}
}

// Leave removes the client and drops the room once it is empty. Leaving a
// room the client never joined is a no-op.
func (hub *Hub) Leave(key string, client *Client) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	room, exists := hub.rooms[key]
	if !exists {
		return
	}
	delete(room.clients, client)
	if len(room.clients) == 0 {
		delete(hub.rooms, key)
	}
}

// Members returns a snapshot of the room. Callers may push to the snapshot
// without holding the hub lock.
func (hub *Hub) Members(key string) []*Client {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	room, exists := hub.rooms[key]
	if !exists {
		return nil
	}
	members := make([]*Client, 0, len(room.clients))
	for client := range room.clients {
		members = append(members, client)
	}
	return members
}

func (hub *Hub) Size(key string) int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	if room, exists := hub.rooms[key]; exists {
		return len(room.clients)
	}
	return 0
}

// takes a peek into the room map. We use it for the lightweight /exists
func (hub *Hub) Exists(key string) bool {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	_, ok := hub.rooms[key]
	return ok
}

// RoomCount is the number of rooms with at least one member.
func (hub *Hub) RoomCount() int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return len(hub.rooms)
}

// all returns every member of every room, used on shutdown.
func (hub *Hub) all() []*Client {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	var clients []*Client
	for _, room := range hub.rooms {
		for client := range room.clients {
			clients = append(clients, client)
		}
	}
	return clients
}
