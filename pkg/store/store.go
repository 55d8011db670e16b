// Package store persists conversation messages and derives thread views.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"LimedAI/models"

	"gorm.io/gorm"
)

// ErrPersistence marks storage failures. The current turn is abandoned;
// nothing is retried.
var ErrPersistence = errors.New("persistence unavailable")

// ThreadSummary is one entry of the thread-list view: the textbook party of
// a thread and its most recent activity.
type ThreadSummary struct {
	TextbookID      uint      `json:"textbookId"`
	LastMessageTime time.Time `json:"lastMessageTime"`
}

// Conversations stores messages between users and textbook partners.
type Conversations struct {
	db *gorm.DB

	mu       sync.Mutex
	lastSeen map[[2]uint]time.Time
}

func New(db *gorm.DB) *Conversations {
	return &Conversations{db: db, lastSeen: make(map[[2]uint]time.Time)}
}

// Append assigns a timestamp if absent and writes the message durably.
// Timestamps are kept non-decreasing within a (user, textbook) thread even if
// the wall clock is coarse or steps backwards.
func (s *Conversations) Append(ctx context.Context, msg *models.Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if key, ok := threadKey(msg); ok {
		s.mu.Lock()
		if last, seen := s.lastSeen[key]; seen && msg.Timestamp.Before(last) {
			msg.Timestamp = last
		}
		s.lastSeen[key] = msg.Timestamp
		s.mu.Unlock()
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// History returns at most limit of the most recent messages of the
// (user, textbook) thread, oldest first. Messages are fetched newest-first
// and reversed for chronological presentation. By default Context messages
// are excluded; pass explicit kinds to exclude a different set (none to
// include everything).
func (s *Conversations) History(ctx context.Context, userID, textbookID uint, limit int, excludeKinds ...models.MessageKind) ([]models.Message, error) {
	if excludeKinds == nil {
		excludeKinds = []models.MessageKind{models.KindContext}
	}

	q := s.db.WithContext(ctx).
		Where(s.db.
			Where("sender_id = ? AND sender_kind = ? AND receiver_id = ? AND receiver_kind = ?",
				userID, models.PartyUser, textbookID, models.PartyTextbook).
			Or("sender_id = ? AND sender_kind = ? AND receiver_id = ? AND receiver_kind = ?",
				textbookID, models.PartyTextbook, userID, models.PartyUser))
	if len(excludeKinds) > 0 {
		q = q.Where("kind NOT IN ?", excludeKinds)
	}

	var msgs []models.Message
	err := q.Order("timestamp DESC").Order("id DESC").Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// reverse into chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Thread returns the full message history of a (user, textbook) pair,
// oldest first, Context messages included. This is the UI-facing view; the
// model-facing view is History.
func (s *Conversations) Thread(ctx context.Context, userID, textbookID uint) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where(s.db.
			Where("sender_id = ? AND sender_kind = ? AND receiver_id = ? AND receiver_kind = ?",
				userID, models.PartyUser, textbookID, models.PartyTextbook).
			Or("sender_id = ? AND sender_kind = ? AND receiver_id = ? AND receiver_kind = ?",
				textbookID, models.PartyTextbook, userID, models.PartyUser)).
		Order("timestamp ASC").Order("id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return msgs, nil
}

// ThreadSummaries returns one entry per textbook the user has exchanged
// messages with, most recent activity first. Sender/receiver polarity varies
// by turn, so grouping normalizes on the textbook party with a CASE
// expression rather than a fixed column.
func (s *Conversations) ThreadSummaries(ctx context.Context, userID uint) ([]ThreadSummary, error) {
	var out []ThreadSummary
	err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Select("CASE WHEN sender_kind = ? THEN sender_id ELSE receiver_id END AS textbook_id, MAX(timestamp) AS last_message_time",
			models.PartyTextbook).
		Where(s.db.
			Where("sender_id = ? AND sender_kind = ?", userID, models.PartyUser).
			Or("receiver_id = ? AND receiver_kind = ?", userID, models.PartyUser)).
		Group("textbook_id").
		Order("last_message_time DESC").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return out, nil
}

// GetTextbook looks up a catalog entry by id.
func (s *Conversations) GetTextbook(ctx context.Context, id uint) (*models.Textbook, error) {
	var tb models.Textbook
	if err := s.db.WithContext(ctx).First(&tb, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return &tb, nil
}

func threadKey(msg *models.Message) ([2]uint, bool) {
	tbID, ok := msg.TextbookID()
	if !ok {
		return [2]uint{}, false
	}
	var userID uint
	if msg.SenderKind == models.PartyUser {
		userID = msg.SenderID
	} else {
		userID = msg.ReceiverID
	}
	return [2]uint{userID, tbID}, true
}
