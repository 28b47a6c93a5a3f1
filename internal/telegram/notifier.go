package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ykvlv/fin-assistant-bot/internal/scheduler"
)

// ReminderDue sends a pay-day reminder and waits for the saved amount as the next message.
func (r *Router) ReminderDue(_ context.Context, ev scheduler.ReminderDue) error {
	if _, err := r.bot.Send(tgbotapi.NewMessage(ev.UserID, formatReminder(ev))); err != nil {
		return deliveryError(err)
	}
	// Do not clobber a wizard in progress.
	if s := r.getSession(ev.UserID); s == nil || s.draft == nil {
		r.setSession(ev.UserID, &session{step: stepContribution, source: string(ev.Kind)})
	}
	return nil
}

// DigestReady sends a scheduled digest.
func (r *Router) DigestReady(_ context.Context, ev scheduler.DigestReady) error {
	tz := r.defaultTZ
	if ev.Profile != nil {
		tz = ev.Profile.TZ
	}
	if _, err := r.bot.Send(tgbotapi.NewMessage(ev.UserID, formatDigest(ev.Digest, tz))); err != nil {
		return deliveryError(err)
	}
	return nil
}

// deliveryError marks API answers that will not change on retry: the bot was
// blocked, the user is deactivated or the chat is gone.
func deliveryError(err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	gone := apiErr.Code == http.StatusForbidden ||
		(apiErr.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.Message), "chat not found"))
	if gone {
		return fmt.Errorf("%w: %v", scheduler.ErrRecipientGone, err)
	}
	return err
}
