package sse

import (
	"context"
	"sync"

	"ms-checkin/internal/broadcast"
)

const clientBuffer = 10

// Hub fans broadcast messages out to server-sent-event clients, keyed by
// broadcast channel (for example "event:7:occupancy").
type Hub struct {
	clients     map[string][]chan broadcast.Message
	clientMutex sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string][]chan broadcast.Message),
	}
}

// Subscribe registers a client on channel. The returned channel is closed
// once ctx is done.
func (h *Hub) Subscribe(ctx context.Context, channel string) <-chan broadcast.Message {
	clientChan := make(chan broadcast.Message, clientBuffer)

	h.clientMutex.Lock()
	h.clients[channel] = append(h.clients[channel], clientChan)
	h.clientMutex.Unlock()

	go func() {
		<-ctx.Done()
		h.removeClient(channel, clientChan)
	}()

	return clientChan
}

// Broadcast never blocks: a client with a full buffer misses the message.
func (h *Hub) Broadcast(ctx context.Context, msg broadcast.Message) error {
	h.clientMutex.RLock()
	defer h.clientMutex.RUnlock()

	for _, clientChan := range h.clients[msg.Channel] {
		select {
		case clientChan <- msg:
		default:
		}
	}
	return nil
}

func (h *Hub) SubscriberCount(channel string) int {
	h.clientMutex.RLock()
	defer h.clientMutex.RUnlock()
	return len(h.clients[channel])
}

func (h *Hub) removeClient(channel string, clientChan chan broadcast.Message) {
	h.clientMutex.Lock()
	defer h.clientMutex.Unlock()

	clients := h.clients[channel]
	for i, ch := range clients {
		if ch == clientChan {
			h.clients[channel] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	if len(h.clients[channel]) == 0 {
		delete(h.clients, channel)
	}
}
