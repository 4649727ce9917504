package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

type wsClient struct {
	conn *websocket.Conn
	// gorilla connections allow one concurrent writer
	writeMu sync.Mutex
}

// WSConnManager tracks browsers subscribed to the live feed.
type WSConnManager struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
}

func NewWSConnManager() *WSConnManager {
	return &WSConnManager{
		clients: make(map[string]*wsClient),
	}
}

func (m *WSConnManager) Add(conn *websocket.Conn) string {
	id := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[id] = &wsClient{conn: conn}
	feedClients.Set(float64(len(m.clients)))
	return id
}

func (m *WSConnManager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, id)
	feedClients.Set(float64(len(m.clients)))
}

func (m *WSConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

func (m *WSConnManager) Send(id string, message []byte) error {
	m.mu.RLock()
	client, ok := m.clients[id]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return client.write(message)
}

// Broadcast writes message to every client and returns how many writes
// succeeded. Failed clients are left for their read loop to remove.
func (m *WSConnManager) Broadcast(message []byte) int {
	m.mu.RLock()
	clients := make([]*wsClient, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if err := c.write(message); err == nil {
			sent++
		}
	}
	return sent
}

func (c *wsClient) write(message []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, message)
}
