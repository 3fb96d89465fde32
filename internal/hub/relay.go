package hub

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Tyrowin/pairchat/internal/attachment"
	"github.com/Tyrowin/pairchat/internal/store"
)

// handleInbound processes one frame read from c. It runs on c's process
// goroutine, so events from one connection are handled in arrival order.
func (h *Hub) handleInbound(c *Connection, raw []byte) {
	id, ok := c.Identity()
	if !ok {
		c.logger.Debug("dropping event from unauthenticated connection")
		h.metrics.EventsDropped.WithLabelValues(dropUnauthenticated).Inc()
		return
	}

	ev, err := DecodeInbound(raw)
	if err != nil {
		c.logger.Debug("dropping event", "error", err)
		h.metrics.EventsDropped.WithLabelValues(dropMalformed).Inc()
		return
	}

	draft := store.NewMessage{
		Sender:    id.UserID,
		Recipient: ev.Recipient,
		Text:      ev.Text,
	}
	if ev.File != nil {
		draft.File = h.offload(c, ev.File)
	}

	msg, err := h.messages.Create(h.ctx, draft)
	if err != nil {
		var werr *store.WriteError
		if !errors.As(err, &werr) {
			c.logger.Warn("message not created", "error", err)
			return
		}
		c.logger.Error("message not persisted, relaying anyway", "id", msg.ID, "error", err)
		h.metrics.StoreFailures.WithLabelValues("message").Inc()
	} else {
		h.metrics.MessagesPersisted.Inc()
	}

	h.relay(msg)
}

// offload starts the attachment write in the background and returns the
// name it is written under. A failed write is only logged; the message
// still references the name.
func (h *Hub) offload(c *Connection, f *FilePayload) string {
	if h.attachments == nil {
		c.logger.Warn("attachment store not configured, discarding file", "name", f.Name)
		return ""
	}
	name := h.attachments.Filename(f.Name)

	h.tasks.Add(1)
	go func() {
		defer h.tasks.Done()

		data, err := attachment.DecodeDataURL(f.Data)
		if err == nil {
			err = h.attachments.Save(context.Background(), name, data)
		}
		if err != nil {
			werr := &store.WriteError{Op: "attachment", Key: name, Err: err}
			c.logger.Error("attachment not saved", "error", werr)
			h.metrics.StoreFailures.WithLabelValues("attachment").Inc()
		}
	}()
	return name
}

// relay queues msg to every connection bound to its recipient. The sender
// gets no echo.
func (h *Hub) relay(msg store.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal message", "id", msg.ID, "error", err)
		return
	}

	for _, rc := range h.registry.ForIdentity(msg.Recipient) {
		if rc.trySend(payload) {
			h.metrics.MessagesRelayed.Inc()
			continue
		}
		rc.logger.Warn("message dropped, send buffer full or closed", "id", msg.ID)
		h.metrics.EventsDropped.WithLabelValues(dropBufferFull).Inc()
	}
}
