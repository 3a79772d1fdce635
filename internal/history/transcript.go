// Package history keeps per-session conversation transcripts behind a process-local
// read-through cache with debounced write-behind persistence to a kv.Store.
package history

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxMessages caps a transcript; older messages are dropped from the front.
const MaxMessages = 20

const (
	RoleUser  = "user"
	RoleModel = "model"
)

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript is the persisted conversation state of one session.
// Revision increases each time a new state is scheduled for persistence.
type Transcript struct {
	SessionID   string    `json:"sessionId"`
	Messages    []Message `json:"messages"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
	Revision    int64     `json:"revision"`
}

func NewTranscript(sessionID string, now time.Time) *Transcript {
	return &Transcript{
		SessionID:   sessionID,
		Messages:    []Message{},
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// Clone returns a deep copy.
func (t *Transcript) Clone() *Transcript {
	if t == nil {
		return nil
	}
	out := *t
	out.Messages = append(make([]Message, 0, len(t.Messages)), t.Messages...)
	return &out
}

// Append pushes one user and one model message together, then truncates the
// front so at most MaxMessages remain. It does not persist.
func Append(t *Transcript, user, model Message) {
	if user.Role == "" {
		user.Role = RoleUser
	}
	if model.Role == "" {
		model.Role = RoleModel
	}
	t.Messages = append(t.Messages, user, model)
	if over := len(t.Messages) - MaxMessages; over > 0 {
		t.Messages = append([]Message(nil), t.Messages[over:]...)
	}
}

// StorageKey is the durable record key for a session.
func StorageKey(sessionID string) string {
	return "chat_" + sessionID
}

// NewSessionID mints an id shaped session_<unixMillis>_<random>.
func NewSessionID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return "session_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + random
}
