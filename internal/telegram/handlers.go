package telegram

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ykvlv/fin-assistant-bot/internal/domain"
	"github.com/ykvlv/fin-assistant-bot/internal/store"
)

const (
	fallbackTZ       = "Europe/Moscow"
	defaultDigestAtM = 10 * 60 // 10:00
	sourceManual     = "manual"
)

// ensureProfile loads the user's profile, creating one with defaults on first contact.
func (r *Router) ensureProfile(ctx context.Context, chatID int64) (*domain.UserSchedule, error) {
	u, err := r.repo.LoadProfile(ctx, chatID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	u = &domain.UserSchedule{
		UserID:          chatID,
		TZ:              r.defaultTZ,
		DigestAtM:       defaultDigestAtM,
		DigestEnabled:   true,
		MinContribution: decimal.Zero,
		MaxContribution: decimal.Zero,
		Risk:            domain.RiskBalanced,
		CreatedAt:       r.now().UTC(),
	}
	if err := r.repo.UpsertProfile(ctx, u); err != nil {
		return nil, err
	}
	if err := r.planner.Arm(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// saveProfile persists a changed profile and re-arms its triggers.
func (r *Router) saveProfile(ctx context.Context, u *domain.UserSchedule) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if err := r.repo.UpsertProfile(ctx, u); err != nil {
		return err
	}
	return r.planner.Arm(ctx, u)
}

func (r *Router) sendText(chatID int64, text string) {
	if _, err := r.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		r.log.Warn("send failed", zap.Error(err), zap.Int64("chatID", chatID))
	}
}

func (r *Router) sendWithMarkup(chatID int64, text string, markup interface{}) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	if _, err := r.bot.Send(msg); err != nil {
		r.log.Warn("send failed", zap.Error(err), zap.Int64("chatID", chatID))
	}
}

func (r *Router) answerCallback(id, text string) error {
	_, err := r.bot.Request(tgbotapi.NewCallback(id, text))
	return err
}

// --- Core commands ---

func (r *Router) handleStart(ctx context.Context, chatID int64) {
	u, err := r.ensureProfile(ctx, chatID)
	if err != nil {
		r.log.Error("ensureProfile failed", zap.Error(err))
		r.sendText(chatID, "Profile initialization error. Please try again later.")
		return
	}
	r.sendWithMarkup(chatID, startText, mainMenuKeyboard(u.DigestEnabled))
}

func (r *Router) handleStatus(ctx context.Context, chatID int64) {
	u, err := r.ensureProfile(ctx, chatID)
	if err != nil {
		r.log.Error("ensureProfile failed", zap.Error(err))
		r.sendText(chatID, "Error reading your settings.")
		return
	}
	total, count, err := r.repo.SumContributions(ctx, chatID)
	if err != nil {
		r.log.Error("SumContributions failed", zap.Error(err))
		r.sendText(chatID, "Error reading your contributions.")
		return
	}
	triggers, err := r.repo.LoadTriggerStates(ctx, chatID)
	if err != nil {
		r.log.Error("LoadTriggerStates failed", zap.Error(err))
		r.sendText(chatID, "Error reading your schedule.")
		return
	}
	text := formatStatus(u, total, count, triggers)
	if rec, err := r.repo.LastDigest(ctx, chatID); err == nil {
		if when, err := domain.LocalizeTime(rec.SentAt, u.TZ); err == nil {
			text += "\n📬 Last digest: " + when + "\n"
		}
	}
	r.sendWithMarkup(chatID, text, mainMenuKeyboard(u.DigestEnabled))
}

// --- Setup wizard ---

func (r *Router) handleSetup(ctx context.Context, chatID int64) {
	u, err := r.ensureProfile(ctx, chatID)
	if err != nil {
		r.log.Error("ensureProfile failed", zap.Error(err))
		r.sendText(chatID, "Error opening settings.")
		return
	}
	draft := *u
	r.setSession(chatID, &session{step: stepAdvance, draft: &draft})
	r.sendText(chatID, askAdvanceText)
}

// isSkip reports whether the user declined an optional answer.
func isSkip(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "-", "no", "none", "skip":
		return true
	}
	return false
}

func (r *Router) wizardStep(ctx context.Context, chatID int64, s *session, text string) {
	d := s.draft
	switch s.step {
	case stepAdvance:
		if isSkip(text) {
			d.AdvanceDay = nil
		} else {
			day, err := domain.ParseDay(text)
			if err != nil {
				r.sendText(chatID, "Enter a day from 1 to 31, or - to skip.")
				return
			}
			d.AdvanceDay = domain.IntPtr(day)
		}
		s.step = stepSalary
		r.setSession(chatID, s)
		r.sendText(chatID, askSalaryText)

	case stepSalary:
		if isSkip(text) {
			d.SalaryDay = nil
		} else {
			day, err := domain.ParseDay(text)
			if err != nil {
				r.sendText(chatID, "Enter a day from 1 to 31, or - to skip.")
				return
			}
			if d.AdvanceDay != nil && *d.AdvanceDay == day {
				r.sendText(chatID, "Salary and advance cannot fall on the same day. Enter another day.")
				return
			}
			d.SalaryDay = domain.IntPtr(day)
		}
		s.step = stepMin
		r.setSession(chatID, s)
		r.sendText(chatID, askMinText)

	case stepMin:
		amount, err := domain.ParseAmount(text)
		if err != nil {
			r.sendText(chatID, "Enter an amount, e.g. 10000.")
			return
		}
		d.MinContribution = amount
		s.step = stepMax
		r.setSession(chatID, s)
		r.sendText(chatID, askMaxText)

	case stepMax:
		amount, err := domain.ParseAmount(text)
		if err != nil {
			r.sendText(chatID, "Enter an amount, e.g. 40000.")
			return
		}
		if amount.LessThan(d.MinContribution) {
			r.sendText(chatID, "The maximum must not be below the minimum ("+formatMoney(d.MinContribution)+"). Enter it again.")
			return
		}
		d.MaxContribution = amount
		s.step = stepRisk
		r.setSession(chatID, s)
		r.sendWithMarkup(chatID, askRiskText, riskKeyboard())

	case stepRisk:
		r.handleRiskCallback(ctx, chatID, text)

	case stepTZ:
		r.handleTZ(ctx, chatID, text)
	}
}

// finishSetup validates and stores the wizard draft.
func (r *Router) finishSetup(ctx context.Context, chatID int64, d *domain.UserSchedule) {
	r.clearSession(chatID)
	if err := r.saveProfile(ctx, d); err != nil {
		if errors.Is(err, domain.ErrInvalidSchedule) {
			r.sendText(chatID, "These settings do not work together: "+err.Error()+"\nRun /setup again.")
			return
		}
		r.log.Error("saveProfile failed", zap.Error(err))
		r.sendText(chatID, "Could not save settings.")
		return
	}
	r.sendWithMarkup(chatID, "Settings saved ✅\n\n"+formatProfile(d), mainMenuKeyboard(d.DigestEnabled))
}

// --- Risk ---

func (r *Router) handleRisk(ctx context.Context, chatID int64) {
	if _, err := r.ensureProfile(ctx, chatID); err != nil {
		r.log.Error("ensureProfile failed", zap.Error(err))
		r.sendText(chatID, "Error reading your settings.")
		return
	}
	r.setSession(chatID, &session{step: stepRisk})
	r.sendWithMarkup(chatID, askRiskText, riskKeyboard())
}

func (r *Router) handleRiskCallback(ctx context.Context, chatID int64, value string) {
	risk, err := domain.ParseRisk(value)
	if err != nil {
		r.sendText(chatID, "Choose one of: conservative, balanced, aggressive.")
		return
	}
	s := r.getSession(chatID)
	if s != nil && s.draft != nil {
		s.draft.Risk = risk
		s.step = stepTZ
		r.setSession(chatID, s)
		r.sendWithMarkup(chatID, askTZText, tzPresetsKeyboard())
		return
	}
	r.clearSession(chatID)

	u, err := r.ensureProfile(ctx, chatID)
	if err != nil {
		r.log.Error("ensureProfile failed", zap.Error(err))
		r.sendText(chatID, "Could not save risk profile.")
		return
	}
	u.Risk = risk
	if err := r.saveProfile(ctx, u); err != nil {
		r.log.Error("saveProfile failed", zap.Error(err))
		r.sendText(chatID, "Could not save risk profile.")
		return
	}
	r.sendText(chatID, "Risk profile updated: "+string(risk)+"\n\n"+formatAllocationPlan(risk))
}

// --- Timezone ---

func (r *Router) askCustomTZ(chatID int64) {
	s := r.getSession(chatID)
	if s == nil {
		s = &session{}
	}
	s.step = stepTZ
	r.setSession(chatID, s)
	r.sendText(chatID, "Enter timezone (e.g., Europe/Moscow):")
}

func (r *Router) handleTZ(ctx context.Context, chatID int64, value string) {
	tz, err := domain.ValidateTZ(value)
	if err != nil {
		r.sendText(chatID, "Invalid timezone. Example: Europe/Moscow")
		return
	}
	if s := r.getSession(chatID); s != nil && s.draft != nil {
		s.draft.TZ = tz
		r.finishSetup(ctx, chatID, s.draft)
		return
	}
	r.clearSession(chatID)

	u, err := r.ensureProfile(ctx, chatID)
	if err != nil {
		r.log.Error("ensureProfile failed", zap.Error(err))
		r.sendText(chatID, "Could not save timezone.")
		return
	}
	u.TZ = tz
	if err := r.saveProfile(ctx, u); err != nil {
		r.log.Error("saveProfile failed", zap.Error(err))
		r.sendText(chatID, "Could not save timezone.")
		return
	}
	r.sendText(chatID, "Timezone updated: "+tz)
}

// --- Digest time ---

func (r *Router) handleDigestTime(ctx context.Context, chatID int64, arg string) {
	if arg == "" {
		r.setSession(chatID, &session{step: stepDigestTime})
		r.sendText(chatID, "At what local time should the digest arrive? Enter HH:MM, e.g. 10:00")
		return
	}
	r.clearSession(chatID)
	mins, err := domain.ParseClock(arg)
	if err != nil {
		r.sendText(chatID, "Invalid time. Example: 10:00")
		return
	}
	u, err := r.ensureProfile(ctx, chatID)
	if err != nil {
		r.log.Error("ensureProfile failed", zap.Error(err))
		r.sendText(chatID, "Could not save digest time.")
		return
	}
	u.DigestAtM = mins
	if err := r.saveProfile(ctx, u); err != nil {
		r.log.Error("saveProfile failed", zap.Error(err))
		r.sendText(chatID, "Could not save digest time.")
		return
	}
	r.sendText(chatID, "Digest time updated: "+domain.FormatMinutes(mins))
}

// --- Contributions ---

func (r *Router) handleAdd(ctx context.Context, chatID int64, arg string) {
	if arg == "" {
		r.setSession(chatID, &session{step: stepContribution, source: sourceManual})
		r.sendText(chatID, "How much did you put aside? Enter an amount, e.g. 15000.")
		return
	}
	r.clearSession(chatID)
	r.recordContribution(ctx, chatID, arg, sourceManual)
}

func (r *Router) recordContribution(ctx context.Context, chatID int64, text, source string) {
	amount, err := domain.ParseAmount(text)
	if err != nil || amount.IsZero() {
		r.sendText(chatID, "Invalid amount. Example: 15000 or 1500,50")
		return
	}
	u, err := r.ensureProfile(ctx, chatID)
	if err != nil {
		r.log.Error("ensureProfile failed", zap.Error(err))
		r.sendText(chatID, "Could not save the contribution.")
		return
	}
	c := domain.Contribution{
		ID:        uuid.New(),
		UserID:    chatID,
		Amount:    amount,
		Source:    source,
		CreatedAt: r.now().UTC(),
	}
	if err := r.repo.RecordContribution(ctx, c); err != nil {
		r.log.Error("RecordContribution failed", zap.Error(err))
		r.sendText(chatID, "Could not save the contribution.")
		return
	}
	total, count, err := r.repo.SumContributions(ctx, chatID)
	if err != nil {
		r.log.Warn("SumContributions failed", zap.Error(err))
	}
	r.sendText(chatID, formatContribution(u, amount, total, count, domain.ProposeAllocation(amount, u.Risk)))
}

// --- Ideas ---

func (r *Router) handleIdeas(ctx context.Context, chatID int64) {
	u, err := r.ensureProfile(ctx, chatID)
	if err != nil {
		r.log.Error("ensureProfile failed", zap.Error(err))
		r.sendText(chatID, "Error reading your settings.")
		return
	}
	if !r.claimBuild(chatID) {
		r.sendText(chatID, buildRunningText)
		return
	}
	select {
	case r.builds <- struct{}{}:
	default:
		r.releaseBuild(chatID)
		r.sendText(chatID, buildBusyText)
		return
	}
	r.sendText(chatID, "Collecting market data…")

	// The build runs off the update loop so other chats keep being served.
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			<-r.builds
			r.releaseBuild(chatID)
		}()
		d := r.ideas.BuildFor(ctx, u.Risk)
		r.sendText(chatID, formatDigest(d, u.TZ))
	}()
}

// claimBuild marks a build in flight for the chat; false when one is already running.
func (r *Router) claimBuild(chatID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.building[chatID] {
		return false
	}
	r.building[chatID] = true
	return true
}

func (r *Router) releaseBuild(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.building, chatID)
}

// --- Free-form dispatcher ---

func (r *Router) handleFreeForm(ctx context.Context, chatID int64, text string) {
	s := r.getSession(chatID)
	if s == nil {
		return
	}
	switch s.step {
	case stepContribution:
		r.clearSession(chatID)
		r.recordContribution(ctx, chatID, text, s.source)
	case stepDigestTime:
		r.handleDigestTime(ctx, chatID, text)
	default:
		r.wizardStep(ctx, chatID, s, text)
	}
}

// --- Pause / Resume ---

func (r *Router) setDigestEnabled(ctx context.Context, chatID int64, enabled bool) error {
	u, err := r.ensureProfile(ctx, chatID)
	if err != nil {
		return err
	}
	u.DigestEnabled = enabled
	return r.saveProfile(ctx, u)
}

func (r *Router) handlePause(ctx context.Context, chatID int64) {
	if err := r.setDigestEnabled(ctx, chatID, false); err != nil {
		r.log.Error("pause failed", zap.Error(err))
		r.sendText(chatID, "Failed to pause.")
		return
	}
	r.sendWithMarkup(chatID, "Digest paused ⏸ Pay-day reminders keep coming.", mainMenuKeyboard(false))
}

func (r *Router) handleResume(ctx context.Context, chatID int64) {
	if err := r.setDigestEnabled(ctx, chatID, true); err != nil {
		r.log.Error("resume failed", zap.Error(err))
		r.sendText(chatID, "Failed to resume.")
		return
	}
	r.sendWithMarkup(chatID, "Digest resumed ✅", mainMenuKeyboard(true))
}
