package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"sigverify/api/internal/backend"
	"sigverify/api/internal/config"
	"sigverify/api/internal/httpserver"
	"sigverify/api/internal/session"
	"sigverify/api/internal/store"
	"sigverify/api/internal/telegram"
)

// historyRetention is how long analyses are kept in the history table.
const historyRetention = 90 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.RequireTelegram(); err != nil {
		log.Fatal(err)
	}
	// Prefer platform PORT env var; fallback to cfg.Port; then to 8080
	if p := strings.TrimSpace(os.Getenv("PORT")); p != "" {
		cfg.Port = p
	} else if cfg.Port == "" {
		cfg.Port = "8080"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := backend.New(cfg.BackendURL,
		backend.WithUploadTimeout(cfg.UploadTimeout),
		backend.WithHealthTimeout(cfg.HealthTimeout),
		backend.WithUploadFields(cfg.UploadFields...),
	)

	r := &telegram.Router{
		Backend:        client,
		Sessions:       session.NewRegistry(),
		MaxUploadBytes: cfg.MaxUploadBytes,
		DashboardPath:  cfg.DashboardPath,
	}

	checks := []httpserver.Check{{
		Name: "backend",
		Fn: func(ctx context.Context) error {
			_, err := client.Health(ctx)
			return err
		},
	}}

	// --- History (optional) ---
	if cfg.DatabaseURL != "" {
		db, history := openHistory(ctx, cfg.DatabaseURL)
		defer db.Close()
		r.History = history
		checks = append(checks, httpserver.Check{Name: "db", Fn: db.PingContext})
		go purgeLoop(ctx, history)
	} else {
		log.Printf("history disabled: DATABASE_URL is not set")
	}

	// --- Telegram bot ---
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Fatal(err)
	}
	bot.Debug = false
	r.Bot = bot
	log.Printf("bot @%s, backend %s", bot.Self.UserName, client.BaseURL())

	addr := "0.0.0.0:" + cfg.Port

	// --- Choose mode: Webhook vs Polling ---
	if webhookURL := strings.TrimSpace(cfg.WebhookURL); webhookURL != "" {
		startWebhookMode(ctx, addr, bot, r, webhookURL, checks)
	} else {
		startPollingMode(ctx, addr, bot, r, checks)
	}
}

func openHistory(ctx context.Context, dsn string) (*sql.DB, *store.HistoryRepo) {
	db, dialect, err := store.Open(ctx, dsn)
	if err != nil {
		log.Fatalf("history db: %v", err)
	}
	log.Printf("db connected: %s", store.SafeDSNSummary(dsn))

	history := store.NewHistoryRepo(db, dialect)
	if err := history.EnsureSchema(ctx); err != nil {
		log.Fatalf("history schema: %v", err)
	}
	return db, history
}

func purgeLoop(ctx context.Context, h *store.HistoryRepo) {
	t := time.NewTicker(24 * time.Hour)
	defer t.Stop()
	for {
		if n, err := h.PurgeOlderThan(ctx, historyRetention); err != nil {
			log.Printf("history purge: %v", err)
		} else if n > 0 {
			log.Printf("history purge: removed %d rows", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// ---------------- Modes -----------------

func startWebhookMode(ctx context.Context, addr string, bot *tgbotapi.BotAPI, r *telegram.Router, baseURL string, checks []httpserver.Check) {
	// секретный путь вебхука
	path := "/webhook/" + shortHash(bot.Token)
	public := strings.TrimRight(baseURL, "/") + path

	wh, err := tgbotapi.NewWebhook(public)
	if err != nil {
		log.Fatal(err)
	}
	wh.DropPendingUpdates = true
	if _, err := bot.Request(wh); err != nil {
		log.Fatal(err)
	}

	// tgbotapi.ListenForWebhook регистрирует обработчик на DefaultServeMux
	updates := bot.ListenForWebhook(path)

	go func() {
		for upd := range updates {
			go r.HandleUpdate(ctx, upd)
		}
		log.Printf("webhook updates channel closed")
	}()

	log.Printf("webhook listening on %s%s", addr, path)
	if err := httpserver.StartHTTP(addr, checks...); err != nil {
		log.Fatal(err)
	}
}

func startPollingMode(ctx context.Context, addr string, bot *tgbotapi.BotAPI, r *telegram.Router, checks []httpserver.Check) {
	// Запускаем HTTP server (healthz), хотя для polling он не обязателен
	go func() {
		if err := httpserver.StartHTTP(addr, checks...); err != nil {
			log.Fatal(err)
		}
	}()

	// Устойчивый поллинг с backoff без log.Fatal/os.Exit
	runPolling(ctx, bot, func(upd tgbotapi.Update) {
		// загрузка может идти до 15 секунд, не держим остальные чаты
		go r.HandleUpdate(ctx, upd)
	})
}

// ---------------- Polling loop -----------------

var reRetryAfter = regexp.MustCompile(`(?i)retry after\s+(\d+)`)

func retryDelayFromError(err error) time.Duration {
	if err == nil {
		return 0
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "too many requests") { // HTTP 429 от Telegram
		if m := reRetryAfter.FindStringSubmatch(s); len(m) == 2 {
			if n, _ := strconv.Atoi(m[1]); n > 0 {
				return time.Duration(n) * time.Second
			}
		}
		return 3 * time.Second
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return 2 * time.Second
		}
	}
	return 1 * time.Second
}

// updateSource is the part of *tgbotapi.BotAPI the polling loop needs.
type updateSource interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

func runPolling(ctx context.Context, bot updateSource, handle func(tgbotapi.Update)) {
	offset := 0
	baseDelay := 1 * time.Second
	maxDelay := 15 * time.Second

	for {
		select {
		case <-ctx.Done():
			log.Printf("polling: context cancelled")
			return
		default:
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = 30 // long polling timeout (sec)

		updates, err := bot.GetUpdates(u)
		if err != nil {
			d := retryDelayFromError(err)
			if d < baseDelay {
				d = baseDelay
			}
			if d > maxDelay {
				d = maxDelay
			}
			log.Printf("polling error: %v; retry in %v", err, d)
			sleep(ctx, d)
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			handle(upd)
		}

		if len(updates) == 0 {
			sleep(ctx, 200*time.Millisecond)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// ---------------- Helpers -----------------

func shortHash(s string) string {
	// лёгкий хэш для пути вебхука (не крипто, но стабильно для токена)
	h := uint64(1469598103934665603)
	const prime = 1099511628211
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	// 16-символный hex
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		out[i] = hexdigits[h&0xF]
		h >>= 4
	}
	return string(out)
}
