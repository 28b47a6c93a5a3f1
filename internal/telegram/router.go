package telegram

import (
	"context"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ykvlv/fin-assistant-bot/internal/domain"
	"github.com/ykvlv/fin-assistant-bot/internal/ideas"
	"github.com/ykvlv/fin-assistant-bot/internal/store"
)

// Conversation steps awaiting free-form text.
const (
	stepAdvance      = "await_advance_day"
	stepSalary       = "await_salary_day"
	stepMin          = "await_min_amount"
	stepMax          = "await_max_amount"
	stepRisk         = "await_risk"
	stepTZ           = "await_tz_text"
	stepContribution = "await_contribution"
	stepDigestTime   = "await_digest_time"
)

// Bot is the part of *tgbotapi.BotAPI the router uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Armer re-arms the triggers of a changed profile. *scheduler.Planner implements it.
type Armer interface {
	Arm(ctx context.Context, u *domain.UserSchedule) error
}

// IdeasBuilder builds an on-demand digest. *ideas.Service implements it.
type IdeasBuilder interface {
	BuildFor(ctx context.Context, risk domain.Risk) ideas.Digest
}

// maxBuilds bounds the on-demand digest builds running at once.
const maxBuilds = 4

// session is the in-memory conversation state of one chat.
type session struct {
	step   string
	draft  *domain.UserSchedule // /setup wizard
	source string               // contribution source while awaiting an amount
}

// Router wires Telegram updates to handlers and holds minimal in-memory state.
type Router struct {
	bot       Bot
	log       *zap.Logger
	repo      store.Repo
	planner   Armer
	ideas     IdeasBuilder
	defaultTZ string
	sessions  map[int64]*session // chatID -> pending conversation
	building  map[int64]bool     // chats with an /ideas build in flight
	mu        sync.Mutex
	builds    chan struct{} // build slots
	wg        sync.WaitGroup
	now       func() time.Time
}

// NewRouter creates a new Telegram router.
func NewRouter(bot Bot, log *zap.Logger, repo store.Repo, planner Armer, builder IdeasBuilder, defaultTZ string) *Router {
	if defaultTZ == "" {
		defaultTZ = fallbackTZ
	}
	return &Router{
		bot:       bot,
		log:       log,
		repo:      repo,
		planner:   planner,
		ideas:     builder,
		defaultTZ: defaultTZ,
		sessions:  make(map[int64]*session),
		building:  make(map[int64]bool),
		builds:    make(chan struct{}, maxBuilds),
		now:       time.Now,
	}
}

// Wait blocks until the /ideas builds already started have replied.
func (r *Router) Wait() {
	r.wg.Wait()
}

func (r *Router) setSession(chatID int64, s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[chatID] = s
}

// getSession returns a copy of the chat's session, or nil.
func (r *Router) getSession(chatID int64) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (r *Router) clearSession(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, chatID)
}

// HandleUpdate routes a single update to appropriate handler.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil && upd.Message.Chat != nil {
		msg := upd.Message
		chatID := msg.Chat.ID
		text := strings.TrimSpace(msg.Text)
		cmd, arg := splitCommand(text)

		switch cmd {
		case "/start":
			r.handleStart(ctx, chatID)
		case "/setup":
			r.handleSetup(ctx, chatID)
		case "/status":
			r.handleStatus(ctx, chatID)
		case "/add":
			r.handleAdd(ctx, chatID, arg)
		case "/risk":
			r.handleRisk(ctx, chatID)
		case "/ideas":
			r.handleIdeas(ctx, chatID)
		case "/digest":
			r.handleDigestTime(ctx, chatID, arg)
		case "/pause":
			r.handlePause(ctx, chatID)
		case "/resume":
			r.handleResume(ctx, chatID)
		case "/cancel":
			r.clearSession(chatID)
			r.sendText(chatID, "Cancelled.")
		case "/help":
			r.sendText(chatID, helpText)
		default:
			r.handleFreeForm(ctx, chatID, text)
		}
		return
	}

	if upd.CallbackQuery != nil && upd.CallbackQuery.Message != nil {
		cb := upd.CallbackQuery
		data := cb.Data
		chatID := cb.Message.Chat.ID
		_ = r.answerCallback(cb.ID, "")

		switch {
		case strings.HasPrefix(data, "risk:"):
			r.handleRiskCallback(ctx, chatID, strings.TrimPrefix(data, "risk:"))
		case data == "tz:custom":
			r.askCustomTZ(chatID)
		case strings.HasPrefix(data, "tz:"):
			r.handleTZ(ctx, chatID, strings.TrimPrefix(data, "tz:"))
		default:
			// Unknown callback, ignore.
		}
	}
}

// splitCommand separates "/cmd@bot arg" into "/cmd" and "arg". Plain text yields an empty command.
func splitCommand(text string) (string, string) {
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	cmd, arg, _ := strings.Cut(text, " ")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

// SendMessage sends a plain text message to the given chat.
func (r *Router) SendMessage(chatID int64, text string) error {
	_, err := r.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}
