package telegram

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"sigverify/api/internal/uploader"
	"sigverify/api/internal/util"
)

// Telegram не отдаёт ботам файлы больше 20MB.
const maxTelegramFile = 20 << 20

func (r *Router) acceptPhoto(ctx context.Context, msg *tgbotapi.Message) {
	ph := msg.Photo[len(msg.Photo)-1] // самое большое превью
	name := fmt.Sprintf("photo_%d.jpg", msg.MessageID)
	r.acceptFile(ctx, msg.Chat.ID, ph.FileID, name, "image/jpeg", ph.FileSize)
}

func (r *Router) acceptDocument(ctx context.Context, msg *tgbotapi.Message) {
	doc := msg.Document
	r.acceptFile(ctx, msg.Chat.ID, doc.FileID, doc.FileName, doc.MimeType, doc.FileSize)
}

func (r *Router) acceptFile(ctx context.Context, chatID int64, fileID, name, mimeType string, size int) {
	st := r.chat(chatID)

	var data []byte
	// не скачиваем то, что всё равно будет отклонено
	if probe := (uploader.Candidate{Name: name, MediaType: mimeType}); mimeType == "" || probe.Check(uploader.MaxFileSize) == nil {
		if size > maxTelegramFile {
			r.send(chatID, "This file is too large for the bot to download. Files must be under 5MB.")
			return
		}
		b, err := r.download(ctx, fileID)
		if err != nil {
			log.Printf("telegram: download %s for %d: %v", fileID, chatID, err)
			r.send(chatID, "Could not download the file from Telegram. Please send it again.")
			return
		}
		data = b
	}

	c := uploader.NewCandidate(name, mimeType, data)
	if err := st.up.SelectFile(c); err != nil {
		if errors.Is(err, uploader.ErrBusy) {
			r.send(chatID, "An upload is already in progress. Please wait for the result.")
			return
		}
		r.send(chatID, st.up.Snapshot().Message)
		return
	}
	st.setFile(c.Name, util.SHA256Hex(c.Data))

	r.sendWith(chatID,
		fmt.Sprintf("Signature received: %s (%s). Press Verify to check it.", c.Name, humanBytes(c.Size())),
		makeVerifyKeyboard())
}

func (r *Router) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := r.Bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, errors.Wrap(err, "get file url")
	}
	if r.Fetch != nil {
		return r.Fetch(ctx, url)
	}
	return download(ctx, url)
}

func download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxTelegramFile+1))
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
