package engine

import (
	"context"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"mamabot/internal/domain"
	"mamabot/internal/metrics"
	"mamabot/internal/reply"
)

// handleRegistration advances the registration state machine by one step.
// Phases only move forward; invalid input re-prompts without a transition.
// Called with the sender lock held.
func (e *Engine) handleRegistration(ctx context.Context, user *domain.User, text string) {
	switch user.Phase {
	case domain.PhaseUnstarted:
		user.Phase = domain.PhaseAwaitingConsent
		if err := e.users.Update(ctx, *user); err != nil {
			e.failSafe(ctx, user, "start registration", err)
			return
		}
		e.send(user, welcomeText(user.Language))

	case domain.PhaseAwaitingConsent:
		e.handleConsent(ctx, user, text)

	case domain.PhaseAwaitingName:
		name := strings.TrimSpace(text)
		if name == "" {
			e.send(user, consentThanksText(user.Language))
			return
		}
		user.Name = name
		user.Phase = domain.PhaseAwaitingGestationalAge
		if err := e.users.Update(ctx, *user); err != nil {
			e.failSafe(ctx, user, "store name", err)
			return
		}
		e.send(user, namePromptText(user.Language, name))

	case domain.PhaseAwaitingGestationalAge:
		e.handleGestationalAge(ctx, user, text)

	default:
		// Unrecognized phase: fatal for this request only.
		e.logger.Error("unknown registration phase",
			"user", user.WhatsAppID, "phase", user.Phase)
		e.send(user, reply.FallbackText(user.Language))
	}
}

func (e *Engine) handleConsent(ctx context.Context, user *domain.User, text string) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "yes", "ndiyo", "ndio":
		// A Swahili consent word seeds the language preference.
		word := strings.ToLower(strings.TrimSpace(text))
		if word == "ndiyo" || word == "ndio" {
			user.Language = "sw"
		}
		now := time.Now()
		user.ConsentAt = &now
		user.Phase = domain.PhaseAwaitingName
		if err := e.users.Update(ctx, *user); err != nil {
			e.failSafe(ctx, user, "record consent", err)
			return
		}
		e.send(user, consentThanksText(user.Language))

	case "no", "hapana":
		if strings.EqualFold(strings.TrimSpace(text), "hapana") {
			user.Language = "sw"
		}
		user.Active = false
		if err := e.users.Update(ctx, *user); err != nil {
			e.failSafe(ctx, user, "record declined consent", err)
			return
		}
		e.send(user, consentDeclinedText(user.Language))
		e.logger.Info("user declined consent", "user", user.WhatsAppID)

	default:
		e.send(user, consentRepromptText(user.Language))
	}
}

func (e *Engine) handleGestationalAge(ctx context.Context, user *domain.User, text string) {
	weeks, ok := parseWeeks(text)
	if !ok || weeks < e.minWeeks || weeks > e.maxWeeks {
		e.send(user, weeksRepromptText(user.Language, e.minWeeks, e.maxWeeks))
		return
	}

	now := time.Now()
	edd := now.AddDate(0, 0, (40-weeks)*7)
	user.GestationalAgeWeeks = weeks
	user.ExpectedDeliveryDate = &edd
	user.StudyGroup = e.assignStudyGroup(ctx)
	user.Phase = domain.PhaseComplete
	if err := e.users.Update(ctx, *user); err != nil {
		e.failSafe(ctx, user, "complete registration", err)
		return
	}

	metrics.RegistrationsTotal.Inc()
	e.logger.Info("registration complete",
		"user", user.WhatsAppID,
		"weeks", weeks,
		"group", user.StudyGroup,
	)
	e.send(user, registeredText(user.Language, weeks, edd))
}

// parseWeeks reads the leading integer of the reply ("20", "20 weeks", "wiki 20").
func parseWeeks(text string) (int, bool) {
	for _, field := range strings.Fields(strings.TrimSpace(text)) {
		if n, err := strconv.Atoi(field); err == nil {
			return n, true
		}
	}
	return 0, false
}

// assignStudyGroup keeps the two arms balanced: the smaller arm wins, ties
// are a coin flip. A count failure falls back to pure random assignment.
func (e *Engine) assignStudyGroup(ctx context.Context) domain.StudyGroup {
	ni, errI := e.users.CountByStudyGroup(ctx, domain.GroupIntervention)
	nc, errC := e.users.CountByStudyGroup(ctx, domain.GroupControl)
	if errI != nil || errC != nil {
		e.logger.Warn("study group counts unavailable, assigning randomly",
			"error_intervention", errI, "error_control", errC)
		ni, nc = 0, 0
	}
	switch {
	case ni < nc:
		return domain.GroupIntervention
	case nc < ni:
		return domain.GroupControl
	default:
		if rand.IntN(2) == 0 {
			return domain.GroupIntervention
		}
		return domain.GroupControl
	}
}
