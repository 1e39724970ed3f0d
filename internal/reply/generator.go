package reply

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"mamabot/internal/domain"
)

const systemPrompt = `You are a maternal health education assistant serving pregnant women in rural Kenya. Your role is to provide accurate, culturally appropriate antenatal information based on WHO and Kenya Ministry of Health guidelines.

CRITICAL RULES:
1. If you detect ANY danger sign (bleeding, severe headache, reduced fetal movement, convulsions, high fever, severe abdominal pain, water breaking, swelling of face/hands), IMMEDIATELY advise seeking urgent medical care at the nearest health facility.
2. Never diagnose conditions or prescribe treatments.
3. Always encourage ANC (antenatal care) attendance and completing all recommended visits.
4. Keep responses under 200 words for readability on mobile phones.
5. Use simple, clear language appropriate for secondary school education level.
6. Be culturally sensitive to practices in rural Kenya while correcting harmful myths.
7. When unsure about medical specifics, advise consulting a healthcare provider.

CONTENT AREAS YOU CAN HELP WITH:
- Danger signs recognition and when to seek emergency care
- Nutrition and dietary guidance during pregnancy
- Physical activity recommendations
- Birth preparedness and complication readiness
- Common pregnancy discomforts and safe management
- ANC appointment importance and schedule
- Newborn care preparation
- Breastfeeding education

DISCLAIMER: Include this reminder periodically:
"This is educational information, not medical diagnosis. Always consult your healthcare provider for medical advice."

Respond in a warm, supportive tone. Address the user as "Mama" when appropriate. If the user writes in Swahili, respond in Swahili. If in English, respond in English.`

type trimesterGuidance struct {
	fromWeek, toWeek int
	text             string
}

var guidanceTable = []trimesterGuidance{
	{1, 12, "First trimester: Focus on nutrition (folate, iron), managing morning sickness, first ANC visit importance, and avoiding harmful substances."},
	{13, 26, "Second trimester: Focus on balanced diet, fetal movement awareness, anomaly screening, dental care, and preparing for birth."},
	{27, 44, "Third trimester: Focus on birth preparedness, recognizing labor signs, danger signs awareness, breastfeeding preparation, and newborn care."},
}

const (
	fallbackEN = "I am sorry, I am unable to help right now. Please try again later. If you have a medical emergency, please go to your nearest health facility immediately."
	fallbackSW = "Samahani, siwezi kukusaidia kwa wakati huu. Tafadhali jaribu tena baadaye. Ikiwa una dharura ya kimatibabu, tafadhali nenda hospitali iliyo karibu nawe mara moja."
)

// DefaultMaxLength bounds a single outbound WhatsApp text.
const DefaultMaxLength = 1200

// Result is the outcome of one generation attempt. Fallback marks responses
// replaced by the fixed apology text.
type Result struct {
	Text      string
	Model     string
	LatencyMs int64
	Fallback  bool
}

// Generator produces educational replies through the provider chain.
// Generate never returns an error; every failure degrades to the fixed
// bilingual fallback.
type Generator struct {
	provider  domain.Provider
	history   domain.HistoryStore
	logger    *slog.Logger
	maxLength int
}

func NewGenerator(p domain.Provider, history domain.HistoryStore, maxLength int, logger *slog.Logger) *Generator {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Generator{
		provider:  p,
		history:   history,
		logger:    logger,
		maxLength: maxLength,
	}
}

func (g *Generator) Generate(ctx context.Context, user *domain.User, text string, danger bool) Result {
	start := time.Now()

	msgs := []domain.Message{{Role: "system", Content: g.buildSystemPrompt(user, danger)}}

	turns, err := g.history.RecentTurns(ctx, user.WhatsAppID)
	if err != nil {
		// Degraded context, not a failure: answer without history.
		g.logger.Warn("history unavailable, generating without context",
			"user", user.WhatsAppID, "error", err)
	}
	for _, t := range turns {
		msgs = append(msgs,
			domain.Message{Role: "user", Content: t.User},
			domain.Message{Role: "assistant", Content: t.Assistant},
		)
	}
	msgs = append(msgs, domain.Message{Role: "user", Content: text})

	resp, err := g.provider.Chat(ctx, domain.ChatRequest{Messages: msgs})
	if err != nil {
		g.logger.Error("generation failed, using fallback",
			"user", user.WhatsAppID, "error", err)
		return Result{Text: FallbackText(user.Language), Fallback: true, LatencyMs: time.Since(start).Milliseconds()}
	}

	out := strings.TrimSpace(resp.Content)
	if out == "" {
		g.logger.Warn("empty generation, using fallback", "user", user.WhatsAppID)
		return Result{Text: FallbackText(user.Language), Fallback: true, LatencyMs: time.Since(start).Milliseconds()}
	}

	return Result{
		Text:      truncateAtWord(out, g.maxLength),
		Model:     g.provider.Name(),
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func (g *Generator) buildSystemPrompt(user *domain.User, danger bool) string {
	parts := []string{systemPrompt}

	var ctxLines []string
	if age := user.CurrentGestationalAge(time.Now()); age > 0 {
		ctxLines = append(ctxLines, fmt.Sprintf("User's current gestational age: %d weeks.", age))
		for _, gd := range guidanceTable {
			if age >= gd.fromWeek && age <= gd.toWeek {
				ctxLines = append(ctxLines, "Trimester guidance: "+gd.text)
				break
			}
		}
	}
	if user.Language == "sw" {
		ctxLines = append(ctxLines, "User prefers Swahili. Respond in Swahili.")
	}
	if danger {
		ctxLines = append(ctxLines, "ALERT: Danger sign keywords detected in the user's message. Prioritize advising immediate medical care before any other information.")
	}
	if len(ctxLines) > 0 {
		parts = append(parts, strings.Join(ctxLines, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

// FallbackText is the fixed apology used whenever generation cannot proceed.
func FallbackText(language string) string {
	if language == "sw" {
		return fallbackSW
	}
	return fallbackEN
}

// truncateAtWord cuts s to at most max bytes, backing up to the last space so
// no word is split mid-way. The cut never lands inside a multibyte rune.
func truncateAtWord(s string, max int) string {
	if len(s) <= max {
		return s
	}
	end := max
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	cut := s[:end]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " \n")
}
