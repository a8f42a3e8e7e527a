package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"sigverify/api/internal/backend"
	"sigverify/api/internal/dashboard"
	"sigverify/api/internal/session"
	"sigverify/api/internal/store"
	"sigverify/api/internal/uploader"
)

// Sender is the part of *tgbotapi.BotAPI the router uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Backend is the verification service as the bot sees it.
type Backend interface {
	uploader.API
	dashboard.API
}

// History is the optional analysis log.
type History interface {
	Insert(ctx context.Context, a *store.Analysis) error
	Recent(ctx context.Context, sessionID string, limit int) ([]store.Analysis, error)
	FindByResultID(ctx context.Context, resultID string) (*store.Analysis, error)
}

type Router struct {
	Bot      Sender
	Backend  Backend
	Sessions *session.Registry
	// History is nil when DATABASE_URL is not set.
	History History

	MaxUploadBytes int64
	DashboardPath  string

	// Fetch downloads a Telegram file; nil means plain HTTP GET.
	Fetch func(ctx context.Context, url string) ([]byte, error)

	chats sync.Map // chatID -> *chatState
}

const helpText = "Send a photo or an image file of a signature and I will check it.\n" +
	"Images must be under 5MB.\n\n" +
	"Commands:\n" +
	"/health - check the verification service\n" +
	"/dashboard - show the last analysis\n" +
	"/export json|csv|pdf - download the last analysis\n" +
	"/dashboard <id> - reopen an analysis from /history\n" +
	"/history - your recent analyses\n" +
	"/reset - start over"

func (r *Router) HandleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	switch msg.Command() {
	case "start", "help":
		r.send(cid, helpText)
	case "health":
		text, _ := r.chat(cid).up.TestConnection(ctx)
		r.send(cid, text)
	case "reset":
		r.chat(cid).up.Reset()
		r.send(cid, "Cleared. Send a new signature image.")
	case "dashboard":
		if id := strings.TrimSpace(msg.CommandArguments()); id != "" {
			r.reopen(ctx, cid, id)
			return
		}
		r.showDashboard(cid, r.chat(cid).getTarget())
	case "export":
		arg := strings.ToLower(strings.TrimSpace(msg.CommandArguments()))
		if arg == "" {
			r.send(cid, "Usage: /export json|csv|pdf")
			return
		}
		f, err := backend.ParseFormat(arg)
		if err != nil {
			r.send(cid, "Unknown format. Use json, csv or pdf.")
			return
		}
		r.export(ctx, cid, f)
	case "history":
		r.showHistory(ctx, cid)
	default:
		r.send(cid, "Unknown command. /help lists what I can do.")
	}
}

func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	// callback-кнопки
	if upd.CallbackQuery != nil {
		r.handleCallback(ctx, *upd.CallbackQuery)
		return
	}
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	switch {
	case msg.IsCommand():
		r.HandleCommand(ctx, msg)
	case len(msg.Photo) > 0:
		r.acceptPhoto(ctx, msg)
	case msg.Document != nil:
		r.acceptDocument(ctx, msg)
	default:
		r.send(msg.Chat.ID, helpText)
	}
}

// лимит Telegram 4096 символов, оставляем запас
const maxMessageBytes = 3900

// clip cuts text to at most n bytes on a rune boundary and marks the cut.
func clip(text string, n int) string {
	if len(text) <= n {
		return text
	}
	i := n
	for i > 0 && !utf8.RuneStart(text[i]) {
		i--
	}
	return text[:i] + "…"
}

func (r *Router) send(chatID int64, text string) {
	r.sendWith(chatID, text, nil)
}

func (r *Router) sendWith(chatID int64, text string, markup any) {
	text = clip(text, maxMessageBytes)
	msg := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := r.Bot.Send(msg); err != nil {
		log.Printf("telegram: send to %d: %v", chatID, err)
	}
}

// showDashboard is the bot's dashboard page: it loads the chat's analysis and
// renders it with the export buttons.
func (r *Router) showDashboard(chatID int64, target string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d := r.dashboardFor(chatID, target)
	if _, err := d.Load(ctx); err != nil {
		log.Printf("telegram: dashboard for %d: %v", chatID, err)
		r.send(chatID, dashboard.Message(err))
		return
	}
	v, err := d.Render()
	if err != nil {
		r.send(chatID, dashboard.Message(err))
		return
	}
	msg := tgbotapi.NewMessage(chatID, "```\n"+v.Text()+"```")
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = makeExportKeyboard()
	if _, err := r.Bot.Send(msg); err != nil {
		log.Printf("telegram: send dashboard to %d: %v", chatID, err)
	}
}

func (r *Router) dashboardFor(chatID int64, target string) *dashboard.Dashboard {
	return dashboard.New(r.Backend, r.Sessions.For(sessionKey(chatID)),
		chatSink{r: r, chatID: chatID}, chatOpener{r: r, chatID: chatID},
		dashboard.ParseHint(target))
}

func (r *Router) export(ctx context.Context, chatID int64, f backend.Format) {
	d := r.dashboardFor(chatID, r.chat(chatID).getTarget())
	dl, err := d.Export(ctx, f)
	if err != nil {
		log.Printf("telegram: export %s for %d: %v", f, chatID, err)
		r.send(chatID, dashboard.Message(err))
		return
	}
	log.Printf("telegram: exported %s to %d (%d bytes)", dl.Name, chatID, len(dl.Body))
}

// reopen points the chat's session at an analysis from the history and
// shows its dashboard. Only the chat's own analyses are visible.
func (r *Router) reopen(ctx context.Context, chatID int64, resultID string) {
	if r.History == nil {
		r.send(chatID, "History is not enabled on this bot.")
		return
	}
	a, err := r.History.FindByResultID(ctx, resultID)
	if err == nil && a.SessionID != sessionKey(chatID) {
		err = store.ErrNotFound
	}
	if errors.Is(err, store.ErrNotFound) {
		r.send(chatID, "No analysis "+resultID+" in your history.")
		return
	}
	if err != nil {
		log.Printf("telegram: history lookup %s for %d: %v", resultID, chatID, err)
		r.send(chatID, "Could not read the history. Please try again later.")
		return
	}

	sess := r.Sessions.For(sessionKey(chatID))
	sess.Set(session.KeyResultID, a.ResultID)
	// без полных данных дашборд дочитает их по result_id
	if raw, err := json.Marshal(a.Data); err == nil && a.Data.Validate() == nil {
		sess.Set(session.KeyDashboardData, string(raw))
	} else {
		sess.Delete(session.KeyDashboardData)
	}
	target := uploader.DashboardTarget(r.DashboardPath, backend.ValidationResult{IsValid: a.Valid, Confidence: a.Confidence})
	st := r.chat(chatID)
	st.setTarget(target)
	r.showDashboard(chatID, target)
}

func (r *Router) showHistory(ctx context.Context, chatID int64) {
	if r.History == nil {
		r.send(chatID, "History is not enabled on this bot.")
		return
	}
	items, err := r.History.Recent(ctx, sessionKey(chatID), 10)
	if err != nil {
		log.Printf("telegram: history for %d: %v", chatID, err)
		r.send(chatID, "Could not read the history. Please try again later.")
		return
	}
	if len(items) == 0 {
		r.send(chatID, "No analyses yet. Send a signature image to start.")
		return
	}
	var b strings.Builder
	b.WriteString("Recent analyses:\n")
	for _, a := range items {
		status := "Invalid"
		if a.Valid {
			status = "Verified"
		}
		fmt.Fprintf(&b, "%s  %-8s %5.1f%%  %s", a.CreatedAt.Local().Format("2006-01-02 15:04"), status, a.Confidence, a.FileName)
		if a.ResultID != "" {
			fmt.Fprintf(&b, "  (%s)", a.ResultID)
		}
		b.WriteString("\n")
	}
	r.send(chatID, b.String())
}
