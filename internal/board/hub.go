// Package board pushes live pipeline board updates to viewers over
// Server-Sent Events.
package board

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"leadrouting_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	clientBuffer      = 32
	heartbeatInterval = 25 * time.Second
)

// Message is one board update as sent to viewers.
type Message struct {
	Type       string          `json:"type"`
	PipelineID uuid.UUID       `json:"pipelineId"`
	Data       json.RawMessage `json:"data"`
}

type client struct {
	pipelineID uuid.UUID
	messages   chan Message
}

// Hub fans board messages out to the viewers of each pipeline.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[*client]struct{}
	log     *logger.Logger
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]map[*client]struct{}),
		log:     log,
	}
}

// Subscribe registers a viewer of pipelineID. The returned func unregisters it
// and closes the channel.
func (h *Hub) Subscribe(pipelineID uuid.UUID) (<-chan Message, func()) {
	c := &client{pipelineID: pipelineID, messages: make(chan Message, clientBuffer)}

	h.mu.Lock()
	if h.clients[pipelineID] == nil {
		h.clients[pipelineID] = make(map[*client]struct{})
	}
	h.clients[pipelineID][c] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return c.messages, func() {
		once.Do(func() { h.remove(c) })
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	viewers, ok := h.clients[c.pipelineID]
	if !ok {
		return
	}
	if _, ok := viewers[c]; !ok {
		return
	}
	delete(viewers, c)
	if len(viewers) == 0 {
		delete(h.clients, c.pipelineID)
	}
	close(c.messages)
}

// Broadcast delivers msg to every viewer of its pipeline. Slow viewers drop messages.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[msg.PipelineID] {
		select {
		case c.messages <- msg:
		default:
			h.log.Warn("board viewer buffer full", "pipelineId", msg.PipelineID, "type", msg.Type)
		}
	}
}

// Viewers returns the number of connected viewers of pipelineID.
func (h *Hub) Viewers(pipelineID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[pipelineID])
}

// Handler streams the board of the :pipelineId path parameter.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		pipelineID, err := uuid.Parse(c.Param("pipelineId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pipeline id"})
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		messages, unsubscribe := h.Subscribe(pipelineID)
		defer unsubscribe()

		c.SSEvent("connected", gin.H{"pipelineId": pipelineID})
		c.Writer.Flush()

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				return
			case <-heartbeat.C:
				c.SSEvent("ping", "")
				c.Writer.Flush()
			case msg, ok := <-messages:
				if !ok {
					return
				}
				c.SSEvent(msg.Type, msg)
				c.Writer.Flush()
			}
		}
	}
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, viewers := range h.clients {
		for c := range viewers {
			close(c.messages)
		}
	}
	h.clients = make(map[uuid.UUID]map[*client]struct{})
}
