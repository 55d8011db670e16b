package services

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"LimedAI/models"
	"LimedAI/pkg/registry"
	"LimedAI/pkg/store"
	"LimedAI/pkg/textutil"
	"LimedAI/pkg/vector"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Inbound is the payload of a send-message transport event.
type Inbound struct {
	SenderID     uint               `json:"sender"`
	Content      string             `json:"content"`
	ReceiverID   uint               `json:"receiver"`
	ReceiverKind models.PartyKind   `json:"receiverKind"`
	IsAI         bool               `json:"isAI"`
	Kind         models.MessageKind `json:"messageType"`
}

// Emitter delivers one outbound message to a transport session.
// Delivery is at-most-once and best-effort.
type Emitter func(sessionID string, msg *models.Message)

// Options are the dispatcher tunables.
type Options struct {
	RetrievalK              int
	HistoryLimit            int
	MaxContextMessageLength int
	TurnTimeout             time.Duration
}

func (o *Options) fill() {
	if o.RetrievalK <= 0 {
		o.RetrievalK = 3
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 10
	}
	if o.MaxContextMessageLength <= 0 {
		o.MaxContextMessageLength = 1000
	}
	if o.TurnTimeout <= 0 {
		o.TurnTimeout = 75 * time.Second
	}
}

// Dispatcher orchestrates one turn per inbound message: persist, retrieve,
// rewrite, synthesize, chunk, deliver. All stage errors are caught here and
// logged; none escape to the transport loop or affect other users' turns.
type Dispatcher struct {
	store       *store.Conversations
	registry    *registry.Registry
	retrieval   *Retrieval
	rewriter    QueryRewriter
	synthesizer AnswerSynthesizer
	emit        Emitter
	queues      *threadQueues
	log         *zap.SugaredLogger
	opts        Options
}

func NewDispatcher(
	st *store.Conversations,
	reg *registry.Registry,
	ret *Retrieval,
	rw QueryRewriter,
	syn AnswerSynthesizer,
	emit Emitter,
	log *zap.SugaredLogger,
	opts Options,
) *Dispatcher {
	opts.fill()
	return &Dispatcher{
		store:       st,
		registry:    reg,
		retrieval:   ret,
		rewriter:    rw,
		synthesizer: syn,
		emit:        emit,
		queues:      newThreadQueues(),
		log:         log,
		opts:        opts,
	}
}

// Close drains the per-thread queues. In-flight turns finish first.
func (d *Dispatcher) Close() {
	d.queues.close()
}

// Dispatch validates the inbound event and schedules its turn on the
// (user, textbook) thread queue. Turns within one thread run in arrival
// order; different threads run concurrently. The call itself returns
// immediately so the transport read loop keeps serving.
func (d *Dispatcher) Dispatch(in Inbound) error {
	if in.SenderID == 0 || in.ReceiverID == 0 {
		return fmt.Errorf("sender and receiver are required")
	}
	if in.ReceiverKind != models.PartyTextbook {
		return fmt.Errorf("receiver must be a textbook")
	}
	if in.Kind != models.KindText || in.Content == "" {
		return fmt.Errorf("only non-empty text messages are accepted")
	}

	d.queues.submit(in.SenderID, in.ReceiverID, func() {
		// The turn deliberately does not inherit the connection context:
		// a disconnect mid-turn must not cancel generation, only skip
		// live delivery.
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.TurnTimeout)
		defer cancel()
		d.runTurn(ctx, in)
	})
	return nil
}

func (d *Dispatcher) runTurn(ctx context.Context, in Inbound) {
	userMsg := &models.Message{
		SenderID:     in.SenderID,
		SenderKind:   models.PartyUser,
		ReceiverID:   in.ReceiverID,
		ReceiverKind: models.PartyTextbook,
		IsAI:         in.IsAI,
		Kind:         in.Kind,
		Content:      in.Content,
	}
	if err := d.store.Append(ctx, userMsg); err != nil {
		// nothing to acknowledge; the message is dropped from the user's
		// perspective
		d.log.Errorw("persist user message failed", "user", in.SenderID, "textbook", in.ReceiverID, "err", err)
		return
	}
	d.deliver(in.SenderID, userMsg)

	tb, err := d.store.GetTextbook(ctx, in.ReceiverID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			d.log.Warnw("textbook not found", "textbook", in.ReceiverID)
		} else {
			d.log.Errorw("textbook lookup failed", "textbook", in.ReceiverID, "err", err)
		}
		return
	}

	index, err := d.retrieval.Load(ctx, tb)
	if err != nil {
		d.log.Errorw("index load failed", "textbook", tb.ID, "err", err)
		return
	}

	history, err := d.chatHistory(ctx, in.SenderID, tb.ID, userMsg.ID)
	if err != nil {
		d.log.Errorw("history load failed", "user", in.SenderID, "textbook", tb.ID, "err", err)
		return
	}

	query, err := d.rewriter.Rewrite(ctx, history, in.Content)
	if err != nil {
		d.log.Errorw("query rewrite failed", "user", in.SenderID, "textbook", tb.ID, "err", err)
		return
	}

	fragments, err := d.retrieval.Search(ctx, index, query, d.opts.RetrievalK)
	if err != nil {
		d.log.Errorw("search failed", "textbook", tb.ID, "err", err)
		return
	}

	answer, used, err := d.synthesizer.Synthesize(ctx, history, query, fragments)
	if err != nil {
		d.log.Errorw("answer synthesis failed", "user", in.SenderID, "textbook", tb.ID, "err", err)
		return
	}

	aiMsg := &models.Message{
		SenderID:     tb.ID,
		SenderKind:   models.PartyTextbook,
		ReceiverID:   in.SenderID,
		ReceiverKind: models.PartyUser,
		IsAI:         true,
		Kind:         models.KindText,
		Content:      answer,
	}
	if err := d.store.Append(ctx, aiMsg); err != nil {
		// known gap: the answer is logged and lost, not retried
		d.log.Errorw("persist answer failed, answer lost", "user", in.SenderID, "textbook", tb.ID, "answer", answer, "err", err)
		return
	}
	d.deliver(in.SenderID, aiMsg)

	d.deliverContext(ctx, tb.ID, in.SenderID, used)
}

// chatHistory returns recent turns of the thread as model roles, oldest
// first, with the just-persisted message (currentID) removed so the new
// utterance is not duplicated into its own history.
func (d *Dispatcher) chatHistory(ctx context.Context, userID, textbookID uint, currentID uint) ([]ChatMessage, error) {
	msgs, err := d.store.History(ctx, userID, textbookID, d.opts.HistoryLimit)
	if err != nil {
		return nil, err
	}
	history := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == currentID {
			continue
		}
		role := "model"
		if m.SenderKind == models.PartyUser {
			role = "user"
		}
		history = append(history, ChatMessage{Role: role, Text: m.Content})
	}
	return history, nil
}

// deliverContext persists and delivers the used fragments as bounded context
// messages, preserving retrieval order. The fragment header counts toward
// the first chunk's length budget.
func (d *Dispatcher) deliverContext(ctx context.Context, textbookID, userID uint, fragments []vector.Fragment) {
	for i, frag := range fragments {
		cleaned := textutil.Clean(frag.Text)
		if cleaned == "" {
			continue
		}
		header := textutil.FragmentHeader(i + 1)
		budget := d.opts.MaxContextMessageLength - utf8.RuneCountInString(header)
		chunks := textutil.Split(cleaned, budget)
		for j, chunk := range chunks {
			content := chunk
			if j == 0 {
				content = header + chunk
			}
			ctxMsg := &models.Message{
				SenderID:     textbookID,
				SenderKind:   models.PartyTextbook,
				ReceiverID:   userID,
				ReceiverKind: models.PartyUser,
				IsAI:         true,
				Kind:         models.KindContext,
				Content:      content,
			}
			if err := d.store.Append(ctx, ctxMsg); err != nil {
				d.log.Errorw("persist context chunk failed", "user", userID, "textbook", textbookID, "err", err)
				return
			}
			d.deliver(userID, ctxMsg)
		}
	}
}

// deliver emits msg to the user's currently bound session, if any. A missing
// binding is not an error; the message stays queryable via history.
func (d *Dispatcher) deliver(userID uint, msg *models.Message) {
	sessionID, ok := d.registry.SessionFor(userID)
	if !ok {
		return
	}
	d.emit(sessionID, msg)
}
