package handler

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/saulteafarmer/orangemart/internal/market"
)

func (h *Handler) handleVIP(ctx context.Context, b *bot.Bot, update *models.Update) {
	p, ok := h.participant(ctx, update)
	if !ok {
		return
	}

	if _, err := h.market.BuyVIP(ctx, p); err != nil {
		if text, known := h.guardReply(err); known {
			h.reply(ctx, update, text)
		} else {
			h.reply(ctx, update, market.Msg(market.MsgInvoiceFailed))
		}
		return
	}
	h.reply(ctx, update, market.Msg(market.MsgInvoiceCreated))
}
