// Package protocol defines the realtime event envelope and the typed payload
// of every event. Frames are JSON text of the form {"type": ..., "data": ...};
// client payloads are decoded into concrete structs and validated before any
// business logic sees them.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/4xmen/medchat/internal/apperr"
	"github.com/4xmen/medchat/internal/models"
)

// Client -> server event types.
const (
	TypeJoinRoom    = "join_room"
	TypeLeaveRoom   = "leave_room"
	TypeMessageSend = "message_send"
	TypeMessageRead = "message_read"
)

// Server -> client event types. message_read is shared by both directions.
const (
	TypeJoinedRoom       = "joined_room"
	TypeMessageHistory   = "message_history"
	TypeMessageReceived  = "message_received"
	TypeMessageDelivered = "message_delivered"
	TypeError            = "error"
)

// MaxFrameBytes bounds a single inbound frame.
const MaxFrameBytes = 16 * 1024

// Envelope is the outer shape of every frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ---------------------------------------------------------------------------
// Client payloads
// ---------------------------------------------------------------------------

type JoinRoom struct {
	SubscriptionID string `json:"subscriptionId" validate:"required,max=64"`
}

type LeaveRoom struct {
	SubscriptionID string `json:"subscriptionId" validate:"required,max=64"`
}

// MessageSend carries raw content; trimming and length bounds are enforced by
// the chat engine so REST and realtime share one rule.
type MessageSend struct {
	SubscriptionID string `json:"subscriptionId" validate:"required,max=64"`
	Content        string `json:"content" validate:"max=8000"`
	MessageType    string `json:"messageType,omitempty" validate:"omitempty,oneof=text image file system"`
}

type MessageRead struct {
	MessageID string `json:"messageId" validate:"required,max=64"`
}

// ---------------------------------------------------------------------------
// Server payloads
// ---------------------------------------------------------------------------

type JoinedRoom struct {
	SubscriptionID string `json:"subscriptionId"`
}

type MessageHistory struct {
	SubscriptionID string            `json:"subscriptionId"`
	Messages       []*models.Message `json:"messages"`
}

type MessageDelivered struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

type MessageReadReceipt struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	ReadBy    string `json:"readBy"`
}

type Error struct {
	Message string `json:"message"`
}

// Event is an outbound frame.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func NewEvent(eventType string, data any) Event {
	return Event{Type: eventType, Data: data}
}

func ErrorEvent(message string) Event {
	return Event{Type: TypeError, Data: Error{Message: message}}
}

func Encode(ev Event) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", ev.Type, err)
	}
	return b, nil
}

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Parse decodes a frame into its typed payload: one of *JoinRoom, *LeaveRoom,
// *MessageSend or *MessageRead. Malformed frames yield an apperr Validation
// error; an unknown type is reported with ErrUnknownType wrapped inside.
func Parse(frame []byte) (string, any, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", nil, apperr.Wrap(apperr.Validation, "Invalid event format", err)
	}
	if env.Type == "" {
		return "", nil, apperr.New(apperr.Validation, "Event type is required")
	}

	var payload any
	switch env.Type {
	case TypeJoinRoom:
		payload = &JoinRoom{}
	case TypeLeaveRoom:
		payload = &LeaveRoom{}
	case TypeMessageSend:
		payload = &MessageSend{}
	case TypeMessageRead:
		payload = &MessageRead{}
	default:
		return env.Type, nil, apperr.Wrap(apperr.Validation, "Unknown event type: "+env.Type, ErrUnknownType)
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return env.Type, nil, apperr.New(apperr.Validation, "Event data is required")
	}
	if err := json.Unmarshal(env.Data, payload); err != nil {
		return env.Type, nil, apperr.Wrap(apperr.Validation, "Invalid event data", err)
	}
	if err := Validate(payload); err != nil {
		return env.Type, nil, err
	}
	return env.Type, payload, nil
}

var ErrUnknownType = errors.New("protocol: unknown event type")

// Validate checks a payload struct against its tags.
func Validate(payload any) error {
	err := validate.Struct(payload)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return apperr.Wrap(apperr.Validation, describe(verrs[0]), err)
	}
	return apperr.Wrap(apperr.Validation, "Invalid event data", err)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fe.Field() + " is too long"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}
