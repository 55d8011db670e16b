package models

import (
	"time"

	"gorm.io/gorm"
)

// PartyKind discriminates the polymorphic sender/receiver reference.
type PartyKind string

const (
	PartyUser     PartyKind = "User"
	PartyTextbook PartyKind = "Textbook"
)

// Valid reports whether k is one of the known party kinds.
func (k PartyKind) Valid() bool {
	return k == PartyUser || k == PartyTextbook
}

// MessageKind distinguishes conversational prose, file attachments and
// AI-supplied supporting excerpts.
type MessageKind string

const (
	KindText    MessageKind = "text"
	KindFile    MessageKind = "file"
	KindContext MessageKind = "context"
)

type Message struct {
	gorm.Model
	SenderID     uint        `gorm:"not null;index:idx_thread" json:"sender"`
	SenderKind   PartyKind   `gorm:"size:20;not null" json:"senderKind"`
	ReceiverID   uint        `gorm:"not null;index:idx_thread" json:"receiver"`
	ReceiverKind PartyKind   `gorm:"size:20;not null" json:"receiverKind"`
	IsAI         bool        `gorm:"not null" json:"isAI"`
	Kind         MessageKind `gorm:"size:20;not null" json:"messageType"`
	Content      string      `gorm:"type:text" json:"content,omitempty"`
	FilePath     string      `gorm:"size:500" json:"filePath,omitempty"`
	Timestamp    time.Time   `gorm:"index" json:"timeStamp"`
}

// TextbookID returns the textbook party of the message regardless of which
// side initiated the turn. ok is false when neither side is a textbook.
func (m *Message) TextbookID() (uint, bool) {
	switch {
	case m.SenderKind == PartyTextbook:
		return m.SenderID, true
	case m.ReceiverKind == PartyTextbook:
		return m.ReceiverID, true
	}
	return 0, false
}
