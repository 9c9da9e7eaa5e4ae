package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type SessionStatus string
type MessageRole string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusConcluded SessionStatus = "concluded"

	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Citation is one source reference attached to an assistant message.
type Citation struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	PageURL    string  `json:"page_url,omitempty"`
	Section    string  `json:"section,omitempty"`
	Score      float64 `json:"score"`
}

type Citations []Citation

func (c Citations) Value() (driver.Value, error) {
	if c == nil {
		return json.Marshal([]Citation{})
	}
	return json.Marshal(c)
}

func (c *Citations) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return json.Unmarshal([]byte(value.(string)), c)
	}

	return json.Unmarshal(bytes, c)
}

// ChatSession is one conversation. At most one session may be active at
// a time; starting a new one concludes the previous.
type ChatSession struct {
	ID           uuid.UUID     `json:"id" gorm:"type:uuid;primary_key"`
	Title        string        `json:"title"`
	Summary      string        `json:"summary" gorm:"type:text"`
	Status       SessionStatus `json:"status" gorm:"type:varchar(20);not null;default:'active';index"`
	MessageCount int           `json:"message_count" gorm:"default:0"`

	LastMessageAt *time.Time `json:"last_message_at"`
	ConcludedAt   *time.Time `json:"concluded_at"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

// ChatMessage is one turn in a session. Assistant turns carry the
// citations and the retrieved context that produced them.
type ChatMessage struct {
	ID           uuid.UUID   `json:"id" gorm:"type:uuid;primary_key"`
	SessionID    uuid.UUID   `json:"session_id" gorm:"type:uuid;index;not null"`
	MessageOrder int         `json:"message_order" gorm:"not null;default:0"`
	Role         MessageRole `json:"role" gorm:"type:varchar(20);not null"`
	Content      string      `json:"content" gorm:"type:text;not null"`

	Citations   Citations `json:"citations,omitempty" gorm:"type:jsonb"`
	ContextUsed string    `json:"-" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;index"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
