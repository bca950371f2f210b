// Package notify posts invoices and payment outcomes to Telegram: a
// shared invoice channel that gets edited as invoices resolve, direct
// replies to participants, and an operator event feed.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"

	"github.com/saulteafarmer/orangemart/internal/config"
	"github.com/saulteafarmer/orangemart/internal/domain"
)

type Board struct {
	bot *bot.Bot
	cfg *config.Config
}

func NewBoard(b *bot.Bot, cfg *config.Config) *Board {
	return &Board{bot: b, cfg: cfg}
}

// PostInvoice publishes a payable invoice to the invoice channel: a QR
// code of the payment request with the details in the caption. Returns
// the message id so the post can be edited once the invoice resolves.
func (bd *Board) PostInvoice(ctx context.Context, inv *domain.Invoice, payRequest string) (int, error) {
	qr := fmt.Sprintf("%s?data=%s&size=%s", config.QRCodeURL, url.QueryEscape(payRequest), config.QRCodeSize)

	msg, err := bd.bot.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:    bd.cfg.InvoiceChannelID,
		Photo:     &models.InputFileString{Data: qr},
		Caption:   invoiceCaption(inv, payRequest, ""),
		ParseMode: models.ParseModeMarkdownV1,
	})
	if err != nil {
		return 0, fmt.Errorf("post invoice: %w", err)
	}
	return msg.ID, nil
}

// EditInvoice rewrites a posted invoice's caption with its outcome.
func (bd *Board) EditInvoice(ctx context.Context, messageID int, inv *domain.Invoice, outcome string) error {
	_, err := bd.bot.EditMessageCaption(ctx, &bot.EditMessageCaptionParams{
		ChatID:    bd.cfg.InvoiceChannelID,
		MessageID: messageID,
		Caption:   invoiceCaption(inv, "", outcome),
		ParseMode: models.ParseModeMarkdownV1,
	})
	if err != nil {
		return fmt.Errorf("edit invoice caption: %w", err)
	}
	return nil
}

// Notify sends a direct reply to the participant. Best effort: delivery
// failures are logged, never propagated into the payment flow.
func (bd *Board) Notify(ctx context.Context, p domain.Participant, text string) {
	if p.ChatID == 0 {
		return
	}
	bd.send(ctx, p.ChatID, text)
}

// Event reports an operational incident to the admin chat. Safe to call
// from any goroutine; a zero admin chat id disables the feed.
func (bd *Board) Event(text string) {
	if bd.cfg.AdminChatID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	bd.send(ctx, bd.cfg.AdminChatID, text)
}

// send delivers one message, falling back to plain text if Telegram
// rejects the markdown.
func (bd *Board) send(ctx context.Context, chatID int64, text string) {
	if len([]rune(text)) > config.MaxTelegramMessageLen {
		text = string([]rune(text)[:config.MaxTelegramMessageLen-3]) + "..."
	}
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeMarkdownV1,
	}
	if _, err := bd.bot.SendMessage(ctx, params); err != nil {
		slog.Warn("markdown send failed, falling back to plain text", "error", err)
		params.ParseMode = ""
		if _, err := bd.bot.SendMessage(ctx, params); err != nil {
			slog.Error("telegram send failed", "chat_id", chatID, "error", err)
		}
	}
}

func invoiceCaption(inv *domain.Invoice, payRequest, outcome string) string {
	btc := decimal.NewFromInt(inv.AmountSats).Div(decimal.NewFromInt(config.SatsPerBTC))

	caption := fmt.Sprintf("⚡ *%s*\n\nAmount: *%d sats* (%s BTC)\nFrom: %s",
		inv.Memo, inv.AmountSats, btc.StringFixed(8), inv.Participant.Name)
	switch outcome {
	case "paid":
		caption += "\n\n✅ *Paid*"
	case "expired":
		caption += "\n\n⌛ *Expired*"
	default:
		if payRequest != "" {
			caption += fmt.Sprintf("\n\nPay with Lightning:\n`%s`", payRequest)
		}
	}
	return caption
}
