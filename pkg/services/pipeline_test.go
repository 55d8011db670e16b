package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"LimedAI/models"
	"LimedAI/pkg/cache"
	"LimedAI/pkg/embedding"
	"LimedAI/pkg/registry"
	"LimedAI/pkg/store"
	"LimedAI/pkg/vector"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type emitted struct {
	sessionID string
	msg       *models.Message
}

type capturingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (c *capturingEmitter) emit(sessionID string, msg *models.Message) {
	c.mu.Lock()
	c.events = append(c.events, emitted{sessionID: sessionID, msg: msg})
	c.mu.Unlock()
}

func (c *capturingEmitter) all() []emitted {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]emitted, len(c.events))
	copy(out, c.events)
	return out
}

type fixture struct {
	db        *gorm.DB
	store     *store.Conversations
	registry  *registry.Registry
	retrieval *Retrieval
	emitter   *capturingEmitter
	embedder  *embedding.MockEmbedder
	dir       string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Message{}, &models.Textbook{}, &models.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	emb := embedding.NewMockEmbedder(64)
	return &fixture{
		db:        db,
		store:     store.New(db),
		registry:  registry.New(),
		retrieval: NewRetrieval(emb, cache.New(0), zap.NewNop().Sugar()),
		emitter:   &capturingEmitter{},
		embedder:  emb,
		dir:       t.TempDir(),
	}
}

// addTextbook creates a catalog row with a real index built over the given
// fragments. With empty fragments the index path points at a missing file.
func (f *fixture) addTextbook(t *testing.T, title string, fragments []string) *models.Textbook {
	t.Helper()
	path := filepath.Join(f.dir, title+".index")
	if len(fragments) > 0 {
		x, err := vector.NewIndex(f.embedder.Dimensions())
		if err != nil {
			t.Fatal(err)
		}
		frags := make([]vector.Fragment, len(fragments))
		vecs, err := f.embedder.EmbedBatch(context.Background(), fragments)
		if err != nil {
			t.Fatal(err)
		}
		var off int64
		for i, txt := range fragments {
			frags[i] = vector.Fragment{Text: txt, SourceOffset: off}
			off += int64(len(txt))
		}
		if err := x.Add(frags, vecs); err != nil {
			t.Fatal(err)
		}
		if err := x.Save(path); err != nil {
			t.Fatal(err)
		}
	}
	tb := &models.Textbook{Title: title, Author: "t", VectorIndexPath: path}
	if err := f.db.Create(tb).Error; err != nil {
		t.Fatal(err)
	}
	return tb
}

func (f *fixture) dispatcher(rw QueryRewriter, syn AnswerSynthesizer) *Dispatcher {
	return NewDispatcher(f.store, f.registry, f.retrieval, rw, syn, f.emitter.emit, zap.NewNop().Sugar(), Options{})
}

func TestTurnPersistsUserAnswerAndContext(t *testing.T) {
	f := newFixture(t)
	tb := f.addTextbook(t, "bio", []string{"细胞分裂是生物体生长的基础。", "光合作用发生在叶绿体中。"})
	local := NewLocalProvider()
	d := f.dispatcher(local, local)

	f.registry.Bind(1, "s1")
	if err := d.Dispatch(Inbound{
		SenderID: 1, Content: "What is mitosis?", ReceiverID: tb.ID,
		ReceiverKind: models.PartyTextbook, Kind: models.KindText,
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	d.Close()

	thread, err := f.store.Thread(context.Background(), 1, tb.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(thread) < 2 {
		t.Fatalf("expected at least user message and answer, got %d", len(thread))
	}

	user := thread[0]
	if user.SenderID != 1 || user.SenderKind != models.PartyUser || user.IsAI || user.Kind != models.KindText {
		t.Fatalf("unexpected user message: %+v", user)
	}
	answer := thread[1]
	if answer.SenderID != tb.ID || answer.SenderKind != models.PartyTextbook || !answer.IsAI ||
		answer.Kind != models.KindText || answer.Content == "" {
		t.Fatalf("unexpected answer message: %+v", answer)
	}
	for _, m := range thread[2:] {
		if m.Kind != models.KindContext || !m.IsAI || m.SenderID != tb.ID {
			t.Fatalf("unexpected trailing message: %+v", m)
		}
	}

	events := f.emitter.all()
	if len(events) != len(thread) {
		t.Fatalf("expected every persisted message delivered, got %d of %d", len(events), len(thread))
	}
	for _, e := range events {
		if e.sessionID != "s1" {
			t.Fatalf("delivered to wrong session %q", e.sessionID)
		}
	}
	// first context chunk carries the fragment header
	if len(thread) > 2 {
		if got := thread[2].Content; len(got) == 0 || got[:3] != "【" {
			t.Fatalf("expected fragment header on first context chunk, got %q", got)
		}
	}
}

func TestRetrievalFailureKeepsUserMessage(t *testing.T) {
	f := newFixture(t)
	tb := f.addTextbook(t, "corrupt", nil) // index file missing
	local := NewLocalProvider()
	d := f.dispatcher(local, local)

	if err := d.Dispatch(Inbound{
		SenderID: 3, Content: "anyone there?", ReceiverID: tb.ID,
		ReceiverKind: models.PartyTextbook, Kind: models.KindText,
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	d.Close()

	thread, err := f.store.Thread(context.Background(), 3, tb.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(thread) != 1 {
		t.Fatalf("expected exactly the user message, got %d", len(thread))
	}
	if thread[0].IsAI {
		t.Fatal("expected no AI messages")
	}
}

func TestUnknownTextbookOnlyPersistsUserMessage(t *testing.T) {
	f := newFixture(t)
	local := NewLocalProvider()
	d := f.dispatcher(local, local)

	if err := d.Dispatch(Inbound{
		SenderID: 1, Content: "hello", ReceiverID: 999,
		ReceiverKind: models.PartyTextbook, Kind: models.KindText,
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	d.Close()

	thread, err := f.store.Thread(context.Background(), 1, 999)
	if err != nil {
		t.Fatal(err)
	}
	if len(thread) != 1 || thread[0].IsAI {
		t.Fatalf("expected only the persisted user message, got %#v", thread)
	}
}

// gatedSynthesizer blocks inside Synthesize until released, so tests can
// disconnect the user mid-turn.
type gatedSynthesizer struct {
	inner   AnswerSynthesizer
	started chan struct{}
	release chan struct{}
}

func (g *gatedSynthesizer) Synthesize(ctx context.Context, history []ChatMessage, query string, fragments []vector.Fragment) (string, []vector.Fragment, error) {
	close(g.started)
	<-g.release
	return g.inner.Synthesize(ctx, history, query, fragments)
}

func TestDisconnectMidTurnStillPersists(t *testing.T) {
	f := newFixture(t)
	tb := f.addTextbook(t, "bio", []string{"细胞分裂是生物体生长的基础。"})
	gate := &gatedSynthesizer{
		inner:   NewLocalProvider(),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	d := f.dispatcher(NewLocalProvider(), gate)

	f.registry.Bind(3, "s3")
	if err := d.Dispatch(Inbound{
		SenderID: 3, Content: "什么是细胞分裂？", ReceiverID: tb.ID,
		ReceiverKind: models.PartyTextbook, Kind: models.KindText,
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-gate.started:
	case <-time.After(5 * time.Second):
		t.Fatal("synthesis never started")
	}
	f.registry.Unbind("s3")
	close(gate.release)
	d.Close()

	history, err := f.store.History(context.Background(), 3, tb.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || !history[1].IsAI {
		t.Fatalf("expected persisted answer despite disconnect, got %#v", history)
	}

	// only the pre-disconnect ack was delivered
	for _, e := range f.emitter.all() {
		if e.msg.IsAI {
			t.Fatalf("AI message delivered after disconnect: %+v", e.msg)
		}
	}
}

func TestTurnsWithinThreadKeepArrivalOrder(t *testing.T) {
	f := newFixture(t)
	tb := f.addTextbook(t, "bio", []string{"细胞分裂是生物体生长的基础。"})
	local := NewLocalProvider()
	d := f.dispatcher(local, local)

	for i := 0; i < 5; i++ {
		if err := d.Dispatch(Inbound{
			SenderID: 9, Content: fmt.Sprintf("question %d", i), ReceiverID: tb.ID,
			ReceiverKind: models.PartyTextbook, Kind: models.KindText,
		}); err != nil {
			t.Fatal(err)
		}
	}
	d.Close()

	thread, err := f.store.Thread(context.Background(), 9, tb.ID)
	if err != nil {
		t.Fatal(err)
	}
	var questions []string
	for _, m := range thread {
		if !m.IsAI {
			questions = append(questions, m.Content)
		}
	}
	if len(questions) != 5 {
		t.Fatalf("expected 5 user messages, got %d", len(questions))
	}
	for i, q := range questions {
		if q != fmt.Sprintf("question %d", i) {
			t.Fatalf("arrival order lost at %d: %q", i, q)
		}
	}
	// each question is answered before the next question's answer
	var lastUserIdx = -1
	for idx, m := range thread {
		if !m.IsAI {
			if lastUserIdx >= 0 {
				answered := false
				for j := lastUserIdx + 1; j < idx; j++ {
					if thread[j].IsAI && thread[j].Kind == models.KindText {
						answered = true
					}
				}
				if !answered {
					t.Fatalf("question at %d was not answered before the next turn", lastUserIdx)
				}
			}
			lastUserIdx = idx
		}
	}
}

func TestDispatchRejectsInvalidPayloads(t *testing.T) {
	f := newFixture(t)
	local := NewLocalProvider()
	d := f.dispatcher(local, local)

	cases := []Inbound{
		{SenderID: 0, ReceiverID: 1, ReceiverKind: models.PartyTextbook, Kind: models.KindText, Content: "x"},
		{SenderID: 1, ReceiverID: 1, ReceiverKind: models.PartyUser, Kind: models.KindText, Content: "x"},
		{SenderID: 1, ReceiverID: 1, ReceiverKind: models.PartyTextbook, Kind: models.KindFile, Content: "x"},
		{SenderID: 1, ReceiverID: 1, ReceiverKind: models.PartyTextbook, Kind: models.KindText, Content: ""},
	}
	for i, in := range cases {
		if err := d.Dispatch(in); err == nil {
			t.Fatalf("case %d: expected rejection", i)
		}
	}
}

func TestRewriteReturnsSelfContainedQuestionUnchanged(t *testing.T) {
	providers := []QueryRewriter{
		NewLocalProvider(),
		// the Gemini provider short-circuits on empty history without a
		// network call
		NewGeminiProvider("", "gemini-2.0-flash", false),
	}
	for _, p := range providers {
		got, err := p.Rewrite(context.Background(), nil, "什么是有丝分裂？")
		if err != nil {
			t.Fatalf("rewrite: %v", err)
		}
		if got != "什么是有丝分裂？" {
			t.Fatalf("expected unchanged question, got %q", got)
		}
	}
}

func TestSynthesizeWithoutFragmentsReturnsBoundedUnknown(t *testing.T) {
	answer, used, err := NewLocalProvider().Synthesize(context.Background(), nil, "q", nil)
	if err != nil {
		t.Fatal(err)
	}
	if answer == "" || len(used) != 0 {
		t.Fatalf("expected bounded unknown answer and no fragments, got %q %v", answer, used)
	}
}
