// Package engine is the conversation orchestrator: it consumes inbound
// messages from the bus, suppresses duplicate webhook deliveries, advances
// the registration state machine, routes complete users through danger-sign
// triage, and dispatches the reply.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"mamabot/internal/domain"
	"mamabot/internal/metrics"
	"mamabot/internal/reply"
	"mamabot/internal/triage"
)

const (
	defaultConcurrency = 5
	defaultTimeout     = 25 * time.Second

	// An AI addition shorter than this adds nothing to the advisory.
	minSubstantiveAddition = 20
)

// FacilityDirectory resolves emergency contacts for a county. Never errors;
// degradation is reported through the result's Source tag.
type FacilityDirectory interface {
	EmergencyContactsFor(ctx context.Context, county string) domain.FacilityResult
}

// Generator produces the AI educational reply.
type Generator interface {
	Generate(ctx context.Context, user *domain.User, text string, danger bool) reply.Result
}

// Engine coordinates the full message flow.
type Engine struct {
	users       domain.UserStore
	gate        domain.DedupGate
	bus         domain.MessageBus
	directory   FacilityDirectory
	generator   Generator
	history     domain.HistoryStore
	logger      *slog.Logger
	locks       *senderLocks
	concurrency int
	timeout     time.Duration
	failClosed  bool
	county      string
	minWeeks    int
	maxWeeks    int
}

// Config holds the engine's dependencies and tuning parameters.
type Config struct {
	Users         domain.UserStore
	Gate          domain.DedupGate
	Bus           domain.MessageBus
	Directory     FacilityDirectory
	Generator     Generator
	History       domain.HistoryStore
	Logger        *slog.Logger
	Concurrency   int           // max parallel messages
	Timeout       time.Duration // per-message deadline
	DedupFailMode string        // "open" | "closed"
	DefaultCounty string
	MinWeeks      int
	MaxWeeks      int
}

func New(cfg Config) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MinWeeks <= 0 {
		cfg.MinWeeks = 1
	}
	if cfg.MaxWeeks <= 0 {
		cfg.MaxWeeks = 44
	}
	if cfg.DefaultCounty == "" {
		cfg.DefaultCounty = "Migori"
	}
	return &Engine{
		users:       cfg.Users,
		gate:        cfg.Gate,
		bus:         cfg.Bus,
		directory:   cfg.Directory,
		generator:   cfg.Generator,
		history:     cfg.History,
		logger:      cfg.Logger,
		locks:       newSenderLocks(),
		concurrency: cfg.Concurrency,
		timeout:     cfg.Timeout,
		failClosed:  cfg.DedupFailMode == "closed",
		county:      cfg.DefaultCounty,
		minWeeks:    cfg.MinWeeks,
		maxWeeks:    cfg.MaxWeeks,
	}
}

// Run consumes inbound messages and processes them with bounded concurrency.
// Blocks until ctx is cancelled or the bus closes.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("engine started", "concurrency", e.concurrency)

	sem := make(chan struct{}, e.concurrency)
	inbound := e.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				e.logger.Info("inbound channel closed, engine stopping")
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				e.logger.Info("engine stopping")
				return
			}
			go func(m domain.InboundMessage) {
				defer func() { <-sem }()
				e.Process(ctx, m)
			}(msg)
		}
	}
}

// Process handles a single inbound message end to end. Exported for
// synchronous use in tests and direct callers.
func (e *Engine) Process(ctx context.Context, msg domain.InboundMessage) {
	if strings.TrimSpace(msg.Content) == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()
	start := time.Now()
	defer func() {
		metrics.ResponseLatency.Observe(time.Since(start).Seconds())
	}()

	// Fallback replies use the channel's language hint until the user record
	// is loaded; after that the stored preference wins.
	language := msg.Language

	// A panic must not take down the process or other senders.
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while processing message",
				"sender", msg.SenderID, "panic", r)
			e.bus.SendOutbound(domain.OutboundMessage{
				RecipientID: msg.SenderID,
				Content:     reply.FallbackText(language),
				Language:    language,
			})
		}
	}()

	if !e.claim(ctx, msg) {
		return
	}
	metrics.MessagesTotal.Inc()

	release := e.locks.Acquire(msg.SenderID)
	defer release()

	user, err := e.users.GetByWhatsAppID(ctx, msg.SenderID)
	if err != nil {
		e.logger.Error("user lookup failed", "sender", msg.SenderID, "error", err)
		e.bus.SendOutbound(domain.OutboundMessage{
			RecipientID: msg.SenderID,
			Content:     reply.FallbackText(language),
			Language:    language,
		})
		return
	}

	if user == nil {
		e.welcomeNewUser(ctx, msg)
		return
	}
	language = user.Language
	if !user.Active {
		e.logger.Debug("ignoring message from inactive user", "sender", msg.SenderID)
		return
	}

	e.logMessage(ctx, user, domain.DirectionIncoming, msg.Content, triage.Result{}, 0, "")

	if user.Phase != domain.PhaseComplete {
		e.handleRegistration(ctx, user, msg.Content)
		return
	}

	e.handleConversation(ctx, user, msg.Content, start)
}

// claim consults the dedup gate. Returns true when processing should proceed.
func (e *Engine) claim(ctx context.Context, msg domain.InboundMessage) bool {
	first, err := e.gate.Claim(ctx, msg.MessageID)
	if err != nil {
		metrics.DedupFailures.Inc()
		if e.failClosed {
			e.logger.Warn("dedup gate unreachable, dropping message (fail-closed)",
				"message_id", msg.MessageID, "error", err)
			return false
		}
		e.logger.Warn("dedup gate unreachable, processing without protection (fail-open)",
			"message_id", msg.MessageID, "error", err)
		return true
	}
	if !first {
		metrics.DuplicatesTotal.Inc()
		e.logger.Debug("duplicate delivery suppressed", "message_id", msg.MessageID)
		return false
	}
	return true
}

func (e *Engine) welcomeNewUser(ctx context.Context, msg domain.InboundMessage) {
	language := msg.Language
	if language != "sw" {
		language = "en"
	}
	user := domain.User{
		WhatsAppID:  msg.SenderID,
		PhoneNumber: msg.PhoneNumber,
		Phase:       domain.PhaseAwaitingConsent,
		Language:    language,
		County:      e.county,
		Active:      true,
	}
	if err := e.users.Create(ctx, user); err != nil {
		e.logger.Error("cannot create user", "sender", msg.SenderID, "error", err)
		return
	}
	e.logger.Info("new user, starting registration", "sender", msg.SenderID)
	e.send(&user, welcomeText(language))
}

// handleConversation routes a registered user's message: danger signs get the
// facility advisory first, everything else goes straight to the generator.
func (e *Engine) handleConversation(ctx context.Context, user *domain.User, text string, start time.Time) {
	result := triage.Classify(text)

	var outbound string
	var model string

	if result.Detected() {
		metrics.DangerSignsTotal.Inc()
		e.logger.Warn("danger signs detected",
			"user", user.WhatsAppID,
			"categories", result.Categories,
		)

		advisory := e.buildAdvisory(ctx, user)
		e.send(user, advisory)
		outbound = advisory

		// An AI follow-up adds symptom-specific guidance when substantive.
		gen := e.generator.Generate(ctx, user, text, true)
		if !gen.Fallback && len(gen.Text) > minSubstantiveAddition {
			e.send(user, gen.Text)
			outbound += "\n\n" + gen.Text
			model = gen.Model
		}
	} else {
		gen := e.generator.Generate(ctx, user, text, false)
		if gen.Fallback {
			metrics.FallbackReplies.Inc()
		}
		e.send(user, gen.Text)
		outbound = gen.Text
		model = gen.Model
	}

	if err := e.history.AppendTurn(ctx, user.WhatsAppID, text, outbound); err != nil {
		e.logger.Warn("cannot append history turn", "user", user.WhatsAppID, "error", err)
	}

	e.logMessage(ctx, user, domain.DirectionOutgoing, outbound, result,
		time.Since(start).Milliseconds(), model)
}

func (e *Engine) buildAdvisory(ctx context.Context, user *domain.User) string {
	county := user.County
	if county == "" {
		county = e.county
	}
	result := e.directory.EmergencyContactsFor(ctx, county)
	if result.Source == domain.SourceFallback {
		metrics.FacilityFallbacks.Inc()
	}
	return advisoryText(user.Language, result.Facilities)
}

func (e *Engine) send(user *domain.User, text string) {
	e.bus.SendOutbound(domain.OutboundMessage{
		RecipientID: user.WhatsAppID,
		Content:     text,
		Language:    user.Language,
	})
}

// failSafe handles a persistence error mid-transition: the phase is not
// advanced, the user gets the fixed fallback instead of silence.
func (e *Engine) failSafe(ctx context.Context, user *domain.User, op string, err error) {
	e.logger.Error("registration step failed",
		"user", user.WhatsAppID, "op", op, "error", err)
	e.send(user, reply.FallbackText(user.Language))
}

func (e *Engine) logMessage(ctx context.Context, user *domain.User, dir domain.MessageDirection, text string, result triage.Result, elapsedMs int64, model string) {
	rec := domain.ConversationRecord{
		UserID:             user.ID,
		Direction:          dir,
		Text:               text,
		GestationalAge:     user.CurrentGestationalAge(time.Now()),
		DangerSignDetected: result.Detected(),
		DangerSignKeywords: strings.Join(result.Keywords, ", "),
	}
	if dir == domain.DirectionOutgoing {
		rec.ResponseTimeMs = elapsedMs
		rec.ModelUsed = model
	}
	if err := e.users.LogMessage(ctx, rec); err != nil {
		e.logger.Warn("cannot log message", "user", user.WhatsAppID, "error", err)
	}
}
