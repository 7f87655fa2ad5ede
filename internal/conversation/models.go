package conversation

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Conversation is the one-to-one thread shared by two users.
type Conversation struct {
	ID            string     `json:"id" db:"id"`
	ParticipantA  string     `json:"participant_a" db:"participant_a"`
	ParticipantB  string     `json:"participant_b" db:"participant_b"`
	LastMessage   string     `json:"last_message,omitempty" db:"last_message"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty" db:"last_message_at"`
}

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindSystem MessageKind = "system"
)

// SystemSender is the sender id of messages generated by the platform.
const SystemSender = "system"

type Message struct {
	ID             string      `json:"id" db:"id"`
	ConversationID string      `json:"conversation_id" db:"conversation_id"`
	SenderID       string      `json:"sender_id" db:"sender_id"`
	Kind           MessageKind `json:"kind" db:"kind"`
	Text           string      `json:"text" db:"text"`
	CallID         string      `json:"call_id,omitempty" db:"call_id"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

var (
	ErrNotFound       = errors.New("conversation: not found")
	ErrInvalidMessage = errors.New("conversation: invalid message")
)

var namespace = uuid.MustParse("6f1c7a52-8f4e-4d55-9a63-2f0de3b1c4a7")

// ID returns the deterministic conversation id of a user pair. Order does not matter.
func ID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return uuid.NewSHA1(namespace, []byte(strings.Join(pair, "\x00"))).String()
}

// noticeID is stable per call and outcome so a repeated notice is a no-op.
func noticeID(callID string, o Outcome) string {
	return uuid.NewSHA1(namespace, []byte("notice\x00"+callID+"\x00"+string(o))).String()
}
