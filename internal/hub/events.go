package hub

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/Tyrowin/pairchat/internal/auth"
)

var (
	// ErrMalformedEvent is returned for inbound payloads that are not JSON or
	// fail validation. The event is dropped; the connection stays open.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrLivenessTimeout is logged when a peer misses its pong deadline.
	ErrLivenessTimeout = errors.New("liveness timeout")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// InboundEvent is a chat message sent by a client.
type InboundEvent struct {
	Recipient string       `json:"recipient" validate:"required"`
	Text      string       `json:"text" validate:"required_without=File"`
	File      *FilePayload `json:"file" validate:"required_without=Text"`
}

// FilePayload is an inline attachment: the original file name and its
// content as a base64 data URL.
type FilePayload struct {
	Name string `json:"name"`
	Data string `json:"data" validate:"required"`
}

// PresenceEvent lists the identities currently online.
type PresenceEvent struct {
	Online []auth.Identity `json:"online"`
}

// DecodeInbound parses and validates a raw inbound frame.
func DecodeInbound(raw []byte) (InboundEvent, error) {
	var ev InboundEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return InboundEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := validate.Struct(ev); err != nil {
		return InboundEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return ev, nil
}
