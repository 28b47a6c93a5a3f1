package telegram

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/ykvlv/fin-assistant-bot/internal/domain"
	"github.com/ykvlv/fin-assistant-bot/internal/ideas"
	"github.com/ykvlv/fin-assistant-bot/internal/scheduler"
)

// UI texts in English
const (
	startText = "👋 I am your savings assistant.\n\n" +
		"Tell me your pay days and how much you plan to put aside. On each pay day I remind you, " +
		"and every morning I send a short list of investment ideas for your risk profile.\n\n" +
		"Run /setup to begin."
	helpText = "/setup - pay days, amounts, risk and timezone\n" +
		"/status - settings, schedule and savings\n" +
		"/add <amount> - record a contribution\n" +
		"/risk - change risk profile\n" +
		"/ideas - ideas right now\n" +
		"/digest <HH:MM> - digest time\n" +
		"/pause, /resume - stop or restart the daily digest\n" +
		"/cancel - abort the current dialog"

	askAdvanceText = "On which day of the month do you receive your advance? Enter 1–31, or - if you don't get one."
	askSalaryText  = "On which day of the month do you receive your salary? Enter 1–31, or - to skip."
	askMinText     = "What is the minimum you want to put aside each pay day?"
	askMaxText     = "And the maximum?"
	askRiskText    = "Choose your risk profile:"
	askTZText      = "Choose your timezone or enter your own (Region/City):"

	buildRunningText = "Still collecting your ideas, the list is on its way."
	buildBusyText    = "Too many requests right now, try /ideas again in a minute."

	disclaimer = "Not investment advice."
)

// mainMenuKeyboard builds a reply keyboard whose toggle button depends on the digest state.
func mainMenuKeyboard(digestEnabled bool) tgbotapi.ReplyKeyboardMarkup {
	toggle := "/pause"
	if !digestEnabled {
		toggle = "/resume"
	}
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/status"),
			tgbotapi.NewKeyboardButton("/ideas"),
			tgbotapi.NewKeyboardButton("/add"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/setup"),
			tgbotapi.NewKeyboardButton(toggle),
		),
	)
}

func riskKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🛡 Conservative", "risk:"+string(domain.RiskConservative)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⚖️ Balanced", "risk:"+string(domain.RiskBalanced)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🚀 Aggressive", "risk:"+string(domain.RiskAggressive)),
		),
	)
}

func tzPresetsKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Europe/Moscow", "tz:Europe/Moscow"),
			tgbotapi.NewInlineKeyboardButtonData("Asia/Yekaterinburg", "tz:Asia/Yekaterinburg"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Asia/Novosibirsk", "tz:Asia/Novosibirsk"),
			tgbotapi.NewInlineKeyboardButtonData("UTC", "tz:UTC"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✍️ Custom…", "tz:custom"),
		),
	)
}

// formatMoney groups thousands with spaces, e.g. "40 000" or "1 500.5".
func formatMoney(d decimal.Decimal) string {
	s := d.Round(2).String()
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	for i, ch := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(ch)
	}
	out := sign + b.String()
	if hasFrac {
		out += "." + frac
	}
	return out
}

func formatDay(d *int) string {
	if d == nil {
		return "not set"
	}
	return fmt.Sprintf("%d", *d)
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Hour:
		return "<1h"
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func formatProfile(u *domain.UserSchedule) string {
	digest := domain.FormatMinutes(u.DigestAtM)
	if !u.DigestEnabled {
		digest += " (paused)"
	}
	return fmt.Sprintf("• Advance day: %s\n• Salary day: %s\n• Contribution: %s–%s\n• Risk: %s\n• TZ: %s\n• Digest: %s\n",
		formatDay(u.AdvanceDay),
		formatDay(u.SalaryDay),
		formatMoney(u.MinContribution), formatMoney(u.MaxContribution),
		u.Risk,
		u.TZ,
		digest,
	)
}

func formatStatus(u *domain.UserSchedule, total decimal.Decimal, count int, triggers []domain.TriggerState) string {
	var b strings.Builder
	b.WriteString("🧾 Your current settings:\n\n")
	b.WriteString(formatProfile(u))
	fmt.Fprintf(&b, "\n💰 Saved so far: %s (%d contributions)\n", formatMoney(total), count)

	var enabled []domain.TriggerState
	for _, st := range triggers {
		if st.Enabled {
			enabled = append(enabled, st)
		}
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].NextDueAt.Before(enabled[j].NextDueAt) })
	if len(enabled) > 0 {
		b.WriteString("\n⏭ Next:\n")
		for _, st := range enabled {
			when, err := domain.LocalizeTime(st.NextDueAt, u.TZ)
			if err != nil {
				when = st.NextDueAt.Format(time.RFC3339)
			}
			fmt.Fprintf(&b, "• %s: %s\n", st.Kind, when)
		}
	}
	return b.String()
}

func formatAllocation(a domain.Allocation) string {
	var b strings.Builder
	for _, l := range a.Lines {
		fmt.Fprintf(&b, "• %s: %s (%s%%)\n", l.Label, formatMoney(l.Amount), l.Weight.Mul(decimal.NewFromInt(100)).String())
	}
	return b.String()
}

// formatAllocationPlan lists the bucket weights of a risk profile.
func formatAllocationPlan(risk domain.Risk) string {
	a := domain.ProposeAllocation(decimal.NewFromInt(100), risk)
	var b strings.Builder
	fmt.Fprintf(&b, "Target: %s\n", a.Target)
	for _, l := range a.Lines {
		fmt.Fprintf(&b, "• %s: %s%%\n", l.Label, l.Weight.Mul(decimal.NewFromInt(100)).String())
	}
	return b.String()
}

func formatContribution(u *domain.UserSchedule, amount, total decimal.Decimal, count int, a domain.Allocation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recorded %s ✅\nSaved so far: %s (%d contributions)\n", formatMoney(amount), formatMoney(total), count)
	switch {
	case u.MinContribution.IsPositive() && amount.LessThan(u.MinContribution):
		fmt.Fprintf(&b, "That is below your planned minimum of %s.\n", formatMoney(u.MinContribution))
	case u.MaxContribution.IsPositive() && amount.GreaterThan(u.MaxContribution):
		fmt.Fprintf(&b, "That is above your planned maximum of %s. Nice!\n", formatMoney(u.MaxContribution))
	}
	fmt.Fprintf(&b, "\nSuggested split (%s, %s):\n", u.Risk, a.Target)
	b.WriteString(formatAllocation(a))
	return b.String()
}

func formatReminder(ev scheduler.ReminderDue) string {
	var b strings.Builder
	switch ev.Kind {
	case domain.EventAdvance:
		b.WriteString("💸 Advance day!")
	default:
		b.WriteString("💰 Salary day!")
	}
	if ev.CatchUp {
		b.WriteString(" (delivered late)")
	}
	b.WriteString("\n")
	if u := ev.Profile; u != nil && u.MaxContribution.IsPositive() {
		fmt.Fprintf(&b, "Plan: put aside %s–%s.\n", formatMoney(u.MinContribution), formatMoney(u.MaxContribution))
	}
	b.WriteString("Reply with the amount you saved, or use /add <amount> later.")
	return b.String()
}

func formatDigest(d ideas.Digest, tz string) string {
	var b strings.Builder
	title := "📈 Investment ideas"
	if !d.BuiltAt.IsZero() {
		if when, err := domain.LocalizeTime(d.BuiltAt, tz); err == nil {
			title += " · " + when
		}
	}
	b.WriteString(title + "\n\n")

	if len(d.Ideas) == 0 {
		b.WriteString("Nothing passed the filters today: not enough fresh, corroborated data.\n")
	}
	for i, c := range d.Ideas {
		fmt.Fprintf(&b, "%d. %s", i+1, c.Instrument.ID)
		if c.Instrument.Tag != "" {
			fmt.Fprintf(&b, " [%s]", c.Instrument.Tag)
		}
		fmt.Fprintf(&b, " · score %.2f\n", c.Score)
		if p, ok := c.Price(); ok {
			fmt.Fprintf(&b, "   price %.2f", p)
		} else {
			b.WriteString("   price n/a")
		}
		fmt.Fprintf(&b, " · %s · data age %s\n", strings.Join(c.Sources(), ", "), formatAge(c.MaxFactAge))
	}
	if d.Partial {
		b.WriteString("\n⚠️ Some sources were slow, the list may be incomplete.\n")
	}
	b.WriteString("\n" + disclaimer)
	return b.String()
}
