package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cbVerify     = "verify"
	cbReset      = "reset"
	cbExportJSON = "export_json"
	cbExportCSV  = "export_csv"
	cbExportPDF  = "export_pdf"
)

// Кнопки после выбора файла
func makeVerifyKeyboard() tgbotapi.InlineKeyboardMarkup {
	verify := tgbotapi.NewInlineKeyboardButtonData("Verify signature", cbVerify)
	reset := tgbotapi.NewInlineKeyboardButtonData("Reset", cbReset)
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(verify, reset))
}

// Экспорт отчёта
func makeExportKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("JSON", cbExportJSON),
			tgbotapi.NewInlineKeyboardButtonData("CSV", cbExportCSV),
			tgbotapi.NewInlineKeyboardButtonData("PDF", cbExportPDF),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("New signature", cbReset),
		),
	)
}
