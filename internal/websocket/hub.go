// Package websocket is a hub/client broadcaster: clients subscribe to a
// dataset uuid and receive every status transition the Conversion
// Dispatcher publishes for it.
package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type ProgressEvent struct {
	DatasetUUID uuid.UUID `json:"datasetUuid"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	At          time.Time `json:"at"`
}

type subscribeRequest struct {
	client      *Client
	datasetUUID uuid.UUID
}

// Hub fans out ProgressEvents to every client subscribed to the event's
// dataset. There is no per-subscription state beyond the subscriber set,
// so one hub goroutine is enough for the whole process.
type Hub struct {
	subscribers map[uuid.UUID]map[*Client]bool
	clients     map[*Client]bool
	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscribeRequest
	publish     chan ProgressEvent
	stop        chan struct{}
	done        chan struct{}
	log         *logrus.Logger
	mu          sync.RWMutex
}

func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		subscribers: make(map[uuid.UUID]map[*Client]bool),
		clients:     make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan subscribeRequest),
		publish:     make(chan ProgressEvent, 256),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		log:         log,
	}
}

func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
			}
			h.clients = make(map[*Client]bool)
			h.subscribers = make(map[uuid.UUID]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, client)
			for datasetUUID, subs := range h.subscribers {
				delete(subs, client)
				if len(subs) == 0 {
					delete(h.subscribers, datasetUUID)
				}
			}
			h.mu.Unlock()
			client.Close()

		case req := <-h.subscribe:
			h.mu.Lock()
			subs, ok := h.subscribers[req.datasetUUID]
			if !ok {
				subs = make(map[*Client]bool)
				h.subscribers[req.datasetUUID] = subs
			}
			subs[req.client] = true
			h.mu.Unlock()

		case event := <-h.publish:
			h.mu.RLock()
			subs := h.subscribers[event.DatasetUUID]
			payload, err := json.Marshal(event)
			if err != nil {
				h.mu.RUnlock()
				h.log.WithError(err).Error("failed to marshal progress event")
				continue
			}
			for client := range subs {
				client.Send(payload)
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) Stop() {
	close(h.stop)
	<-h.done
}

func (h *Hub) Register(client *Client)   { h.register <- client }
func (h *Hub) Unregister(client *Client) { h.unregister <- client }

func (h *Hub) Subscribe(client *Client, datasetUUID uuid.UUID) {
	h.subscribe <- subscribeRequest{client: client, datasetUUID: datasetUUID}
}

// Publish is called by the Conversion Dispatcher on every status
// transition. It never blocks the caller beyond the channel buffer.
func (h *Hub) Publish(event ProgressEvent) {
	select {
	case h.publish <- event:
	default:
		h.log.WithField("dataset_uuid", event.DatasetUUID).Warn("progress publish channel full, dropping event")
	}
}

// NotifyStatus satisfies dispatch.ProgressNotifier without the dispatch
// package needing to import this one.
func (h *Hub) NotifyStatus(datasetUUID uuid.UUID, status string, message string) {
	h.Publish(ProgressEvent{DatasetUUID: datasetUUID, Status: status, Message: message, At: time.Now()})
}
