package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"sigverify/api/internal/backend"
	"sigverify/api/internal/dashboard"
	"sigverify/api/internal/session"
	"sigverify/api/internal/store"
	"sigverify/api/internal/uploader"
	"sigverify/api/internal/util"
)

func (r *Router) handleCallback(ctx context.Context, cb tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	cid := cb.Message.Chat.ID
	if _, err := r.Bot.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil { // ack
		log.Printf("telegram: callback ack: %v", err)
	}

	switch data := cb.Data; {
	case data == cbVerify:
		r.onVerify(ctx, cid, cb.Message.MessageID)
	case data == cbReset:
		r.onReset(cid, cb.Message.MessageID)
	case strings.HasPrefix(data, "export_"):
		f, err := backend.ParseFormat(strings.TrimPrefix(data, "export_"))
		if err != nil {
			r.send(cid, "Unknown export format.")
			return
		}
		r.export(ctx, cid, f)
	}
}

func (r *Router) clearKeyboard(chatID int64, msgID int) {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, msgID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})
	if _, err := r.Bot.Request(edit); err != nil {
		log.Printf("telegram: clear keyboard: %v", err)
	}
}

func (r *Router) onVerify(ctx context.Context, chatID int64, msgID int) {
	st := r.chat(chatID)
	state, err := st.up.Submit(ctx)
	switch {
	case errors.Is(err, uploader.ErrBusy):
		r.send(chatID, "An upload is already in progress. Please wait for the result.")
		return
	case errors.Is(err, uploader.ErrNoFile):
		r.send(chatID, "Send a signature image first.")
		return
	case errors.Is(err, uploader.ErrDiscarded):
		return
	}
	r.clearKeyboard(chatID, msgID)

	snap := st.up.Snapshot()
	switch state {
	case uploader.StateSuccess:
		// дашборд уже показан навигатором
		r.record(ctx, chatID, st, snap)
	case uploader.StateInvalid:
		r.record(ctx, chatID, st, snap)
		r.sendInvalid(chatID, snap)
	default:
		r.sendWith(chatID, snap.Message, makeVerifyKeyboard())
	}
}

func (r *Router) sendInvalid(chatID int64, snap uploader.Snapshot) {
	text := snap.Message
	if snap.Result != nil {
		text += fmt.Sprintf("\nConfidence: %s", strings.TrimSuffix(fmt.Sprintf("%.1f", snap.Result.Confidence), ".0")+"%")
	}
	text += "\nThe analysis is still available with /dashboard or the buttons below."

	if img, _, err := util.DecodeBase64MaybeDataURL(snap.Preview); err == nil && len(img) > 0 {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: snap.FileName, Bytes: img})
		photo.Caption = text
		photo.ReplyMarkup = makeExportKeyboard()
		_, err := r.Bot.Send(photo)
		if err == nil {
			return
		}
		log.Printf("telegram: send preview to %d: %v", chatID, err)
	}
	r.sendWith(chatID, text, makeExportKeyboard())
}

func (r *Router) onReset(chatID int64, msgID int) {
	r.chat(chatID).up.Reset()
	r.clearKeyboard(chatID, msgID)
	r.send(chatID, "Cleared. Send a new signature image.")
}

// record пишет проверку в историю, если она включена.
func (r *Router) record(ctx context.Context, chatID int64, st *chatState, snap uploader.Snapshot) {
	if r.History == nil || snap.Result == nil {
		return
	}
	sess := r.Sessions.For(sessionKey(chatID))
	// голый invalid-вердикт приходит без данных дашборда
	var data backend.DashboardData
	if raw, ok := sess.Get(session.KeyDashboardData); ok {
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			log.Printf("telegram: history for %d: %v", chatID, err)
			return
		}
	}
	resultID, _ := sess.Get(session.KeyResultID)
	name, hash := st.file()

	a := &store.Analysis{
		ResultID:   resultID,
		SessionID:  sessionKey(chatID),
		ImageHash:  hash,
		FileName:   name,
		Valid:      snap.Result.IsValid,
		Confidence: snap.Result.Confidence,
		Data:       data,
	}
	if err := r.History.Insert(ctx, a); err != nil {
		log.Printf("telegram: history insert for %d: %v", chatID, err)
	}
}

// chatSink delivers exports as documents.
type chatSink struct {
	r      *Router
	chatID int64
}

func (s chatSink) Save(_ context.Context, d dashboard.Download) error {
	doc := tgbotapi.NewDocument(s.chatID, tgbotapi.FileBytes{Name: d.Name, Bytes: d.Body})
	_, err := s.r.Bot.Send(doc)
	return err
}

// chatOpener sends the printable report instead of opening a window.
type chatOpener struct {
	r      *Router
	chatID int64
}

func (o chatOpener) Open(_ context.Context, d dashboard.Download) error {
	doc := tgbotapi.NewDocument(o.chatID, tgbotapi.FileBytes{Name: d.Name, Bytes: d.Body})
	doc.Caption = "The service could not produce a PDF. Open this report in a browser; it prints itself."
	_, err := o.r.Bot.Send(doc)
	return err
}
