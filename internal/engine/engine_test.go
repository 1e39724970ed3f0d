package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"mamabot/internal/domain"
	"mamabot/internal/reply"
)

// --- test fakes ---

type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]*domain.User
	log   []domain.ConversationRecord
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]*domain.User)}
}

func (f *fakeUserStore) GetByWhatsAppID(ctx context.Context, waID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[waID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserStore) Create(ctx context.Context, u domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID == "" {
		u.ID = "id-" + u.WhatsAppID
	}
	if u.EnrolledAt.IsZero() {
		u.EnrolledAt = time.Now()
	}
	cp := u
	f.users[u.WhatsAppID] = &cp
	return nil
}

func (f *fakeUserStore) Update(ctx context.Context, u domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[u.WhatsAppID]; !ok {
		return errors.New("no such user")
	}
	cp := u
	f.users[u.WhatsAppID] = &cp
	return nil
}

func (f *fakeUserStore) CountByStudyGroup(ctx context.Context, g domain.StudyGroup) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, u := range f.users {
		if u.StudyGroup == g && u.Active {
			n++
		}
	}
	return n, nil
}

func (f *fakeUserStore) LogMessage(ctx context.Context, rec domain.ConversationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, rec)
	return nil
}

func (f *fakeUserStore) Close() error { return nil }

func (f *fakeUserStore) get(waID string) *domain.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[waID]
}

// fakeGate claims each id exactly once, atomically.
type fakeGate struct {
	mu      sync.Mutex
	claimed map[string]bool
	err     error
}

func newFakeGate() *fakeGate { return &fakeGate{claimed: make(map[string]bool)} }

func (g *fakeGate) Claim(ctx context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	if g.claimed[id] {
		return false, nil
	}
	g.claimed[id] = true
	return true, nil
}

// captureBus records outbound messages and feeds inbound ones to Run.
type captureBus struct {
	mu      sync.Mutex
	sent    []domain.OutboundMessage
	inbound chan domain.InboundMessage
}

func (b *captureBus) Publish(msg domain.InboundMessage)               { b.inbound <- msg }
func (b *captureBus) Subscribe() <-chan domain.InboundMessage         { return b.inbound }
func (b *captureBus) OnOutbound(handler func(domain.OutboundMessage)) {}
func (b *captureBus) Close()                                          {}

func (b *captureBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, msg)
}

func (b *captureBus) messages() []domain.OutboundMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.OutboundMessage, len(b.sent))
	copy(out, b.sent)
	return out
}

type fakeDirectory struct{}

func (fakeDirectory) EmergencyContactsFor(ctx context.Context, county string) domain.FacilityResult {
	return domain.FacilityResult{
		Facilities: []domain.FacilityRecord{
			{Name: "Migori County Referral Hospital", ContactNumbers: []string{"0800 723 253"}},
			{Name: "Ombo Mission Hospital"},
		},
		Source: domain.SourcePrimary,
	}
}

type fakeGenerator struct {
	text     string
	fallback bool
}

func (f *fakeGenerator) Generate(ctx context.Context, user *domain.User, text string, danger bool) reply.Result {
	if f.fallback {
		return reply.Result{Text: reply.FallbackText(user.Language), Fallback: true}
	}
	return reply.Result{Text: f.text, Model: "fake"}
}

// panicGenerator panics on the trigger text and answers normally otherwise.
type panicGenerator struct {
	inner   fakeGenerator
	trigger string
}

func (g *panicGenerator) Generate(ctx context.Context, user *domain.User, text string, danger bool) reply.Result {
	if strings.Contains(text, g.trigger) {
		panic("generator blew up")
	}
	return g.inner.Generate(ctx, user, text, danger)
}

// blockingGenerator parks every call until release is closed.
type blockingGenerator struct {
	started chan struct{}
	release chan struct{}
}

func (g *blockingGenerator) Generate(ctx context.Context, user *domain.User, text string, danger bool) reply.Result {
	close(g.started)
	<-g.release
	return reply.Result{Text: "late answer"}
}

type fakeHistory struct {
	mu    sync.Mutex
	turns []domain.Turn
}

func (f *fakeHistory) AppendTurn(ctx context.Context, senderID, userText, replyText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, domain.Turn{User: userText, Assistant: replyText})
	return nil
}

func (f *fakeHistory) RecentTurns(ctx context.Context, senderID string) ([]domain.Turn, error) {
	return nil, nil
}

type testDeps struct {
	users *fakeUserStore
	gate  *fakeGate
	bus   *captureBus
	gen   *fakeGenerator
	hist  *fakeHistory
}

func newTestEngine(t *testing.T, mutate func(*Config)) (*Engine, *testDeps) {
	t.Helper()
	deps := &testDeps{
		users: newFakeUserStore(),
		gate:  newFakeGate(),
		bus:   &captureBus{inbound: make(chan domain.InboundMessage, 8)},
		gen:   &fakeGenerator{text: "Here is some educational information about nutrition during pregnancy."},
		hist:  &fakeHistory{},
	}
	cfg := Config{
		Users:     deps.users,
		Gate:      deps.gate,
		Bus:       deps.bus,
		Directory: fakeDirectory{},
		Generator: deps.gen,
		History:   deps.hist,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg), deps
}

func registeredUser(waID string) domain.User {
	now := time.Now()
	return domain.User{
		ID:                  "id-" + waID,
		WhatsAppID:          waID,
		Phase:               domain.PhaseComplete,
		Name:                "Mary",
		GestationalAgeWeeks: 20,
		Language:            "en",
		County:              "Migori",
		Active:              true,
		EnrolledAt:          now,
	}
}

func inbound(id, sender, text string) domain.InboundMessage {
	return domain.InboundMessage{
		MessageID: id,
		SenderID:  sender,
		Content:   text,
		Timestamp: time.Now(),
	}
}

// --- tests ---

func TestProcess_NewUserGetsWelcome(t *testing.T) {
	e, deps := newTestEngine(t, nil)

	e.Process(context.Background(), inbound("m1", "254711000001", "hi"))

	sent := deps.bus.messages()
	if len(sent) != 1 {
		t.Fatalf("expected 1 outbound, got %d", len(sent))
	}
	if !strings.Contains(sent[0].Content, "Do you consent") {
		t.Errorf("expected consent prompt, got %q", sent[0].Content)
	}
	u := deps.users.get("254711000001")
	if u == nil || u.Phase != domain.PhaseAwaitingConsent {
		t.Errorf("user = %+v", u)
	}
}

func TestProcess_DuplicateDeliverySuppressed(t *testing.T) {
	e, deps := newTestEngine(t, nil)
	deps.users.Create(context.Background(), registeredUser("s1"))

	e.Process(context.Background(), inbound("m1", "s1", "hello"))
	e.Process(context.Background(), inbound("m1", "s1", "hello"))

	if n := len(deps.bus.messages()); n != 1 {
		t.Errorf("expected 1 outbound for duplicate delivery, got %d", n)
	}
}

func TestProcess_ConcurrentDuplicateEmergency_OneAdvisory(t *testing.T) {
	e, deps := newTestEngine(t, nil)
	deps.users.Create(context.Background(), registeredUser("s1"))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Process(context.Background(), inbound("m1", "s1", "I have severe bleeding and fever"))
		}()
	}
	wg.Wait()

	advisories := 0
	for _, m := range deps.bus.messages() {
		if strings.Contains(m.Content, "URGENT") {
			advisories++
		}
	}
	if advisories != 1 {
		t.Errorf("expected exactly 1 emergency advisory, got %d", advisories)
	}
}

func TestProcess_DangerSigns_AdvisoryWithContactsThenAIFollowup(t *testing.T) {
	e, deps := newTestEngine(t, nil)
	deps.users.Create(context.Background(), registeredUser("s1"))

	e.Process(context.Background(), inbound("m1", "s1", "I am bleeding heavily"))

	sent := deps.bus.messages()
	if len(sent) != 2 {
		t.Fatalf("expected advisory + AI follow-up, got %d messages", len(sent))
	}
	advisory := sent[0].Content
	if !strings.Contains(advisory, "URGENT") {
		t.Error("advisory missing urgent preamble")
	}
	if !strings.Contains(advisory, "Migori County Referral Hospital: 0800 723 253") {
		t.Errorf("advisory missing facility contact line:\n%s", advisory)
	}
	if !strings.Contains(advisory, "not medical diagnosis") {
		t.Error("advisory missing disclaimer footer")
	}

	// Log rows: 1 incoming + 1 outgoing with danger flags.
	deps.users.mu.Lock()
	defer deps.users.mu.Unlock()
	if len(deps.users.log) != 2 {
		t.Fatalf("expected 2 log rows, got %d", len(deps.users.log))
	}
	out := deps.users.log[1]
	if !out.DangerSignDetected || !strings.Contains(out.DangerSignKeywords, "bleeding") {
		t.Errorf("outgoing log row = %+v", out)
	}
}

func TestProcess_DangerSigns_FallbackFollowupNotSent(t *testing.T) {
	e, deps := newTestEngine(t, nil)
	deps.gen.fallback = true
	deps.users.Create(context.Background(), registeredUser("s1"))

	e.Process(context.Background(), inbound("m1", "s1", "nina damu nyingi"))

	sent := deps.bus.messages()
	if len(sent) != 1 {
		t.Fatalf("expected only the advisory, got %d messages", len(sent))
	}
	if !strings.Contains(sent[0].Content, "URGENT") {
		t.Errorf("expected advisory, got %q", sent[0].Content)
	}
}

func TestProcess_NormalMessage_GeneratedReplyAndHistory(t *testing.T) {
	e, deps := newTestEngine(t, nil)
	deps.users.Create(context.Background(), registeredUser("s1"))

	e.Process(context.Background(), inbound("m1", "s1", "what should I eat?"))

	sent := deps.bus.messages()
	if len(sent) != 1 {
		t.Fatalf("expected 1 outbound, got %d", len(sent))
	}
	if sent[0].Content != deps.gen.text {
		t.Errorf("content = %q", sent[0].Content)
	}

	deps.hist.mu.Lock()
	defer deps.hist.mu.Unlock()
	if len(deps.hist.turns) != 1 || deps.hist.turns[0].User != "what should I eat?" {
		t.Errorf("history turns = %+v", deps.hist.turns)
	}
}

func TestProcess_InactiveUserIgnored(t *testing.T) {
	e, deps := newTestEngine(t, nil)
	u := registeredUser("s1")
	u.Active = false
	deps.users.Create(context.Background(), u)

	e.Process(context.Background(), inbound("m1", "s1", "hello"))

	if n := len(deps.bus.messages()); n != 0 {
		t.Errorf("expected silence for inactive user, got %d messages", n)
	}
}

func TestProcess_EmptyContentIgnored(t *testing.T) {
	e, deps := newTestEngine(t, nil)

	e.Process(context.Background(), inbound("m1", "s1", "   "))

	if n := len(deps.bus.messages()); n != 0 {
		t.Errorf("expected no outbound, got %d", n)
	}
	if deps.gate.claimed["m1"] {
		t.Error("empty message should not consume a dedup claim")
	}
}

func TestProcess_GateDown_FailOpenProcesses(t *testing.T) {
	e, deps := newTestEngine(t, nil)
	deps.gate.err = errors.New("redis down")
	deps.users.Create(context.Background(), registeredUser("s1"))

	e.Process(context.Background(), inbound("m1", "s1", "hello"))

	if n := len(deps.bus.messages()); n != 1 {
		t.Errorf("fail-open should process the message, got %d outbound", n)
	}
}

func TestProcess_GateDown_FailClosedDrops(t *testing.T) {
	e, deps := newTestEngine(t, func(cfg *Config) {
		cfg.DedupFailMode = "closed"
	})
	deps.gate.err = errors.New("redis down")
	deps.users.Create(context.Background(), registeredUser("s1"))

	e.Process(context.Background(), inbound("m1", "s1", "hello"))

	if n := len(deps.bus.messages()); n != 0 {
		t.Errorf("fail-closed should drop the message, got %d outbound", n)
	}
}

func TestProcess_GeneratorPanic_RecoversAndKeepsServing(t *testing.T) {
	e, deps := newTestEngine(t, func(cfg *Config) {
		cfg.Generator = &panicGenerator{
			inner:   fakeGenerator{text: "Eat plenty of greens, Mama."},
			trigger: "primigravida",
		}
	})
	ctx := context.Background()
	mary := registeredUser("s1")
	mary.Language = "sw"
	deps.users.Create(ctx, mary)
	deps.users.Create(ctx, registeredUser("s2"))

	e.Process(ctx, inbound("m1", "s1", "what does primigravida mean?"))

	sent := deps.bus.messages()
	if len(sent) != 1 {
		t.Fatalf("expected 1 fallback outbound, got %d", len(sent))
	}
	// The apology follows the stored language, not the channel hint.
	if sent[0].Content != reply.FallbackText("sw") || sent[0].Language != "sw" {
		t.Errorf("fallback = %+v, want the Swahili apology", sent[0])
	}

	e.Process(ctx, inbound("m2", "s2", "what should I eat?"))

	sent = deps.bus.messages()
	if len(sent) != 2 || sent[1].Content != "Eat plenty of greens, Mama." {
		t.Fatalf("next sender not served after panic, outbound = %+v", sent)
	}
}

func TestRun_StopsWhileWorkersBusy(t *testing.T) {
	gen := &blockingGenerator{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	e, deps := newTestEngine(t, func(cfg *Config) {
		cfg.Concurrency = 1
		cfg.Generator = gen
	})
	deps.users.Create(context.Background(), registeredUser("s1"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	// Occupy the only worker slot, then queue a second message so Run is
	// waiting on the slot when the context is cancelled.
	deps.bus.Publish(inbound("m1", "s1", "first"))
	<-gen.started
	deps.bus.Publish(inbound("m2", "s1", "second"))
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop while a worker was busy")
	}
	close(gen.release)
}
