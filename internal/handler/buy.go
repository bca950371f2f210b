package handler

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/saulteafarmer/orangemart/internal/market"
)

func (h *Handler) handleBuy(ctx context.Context, b *bot.Bot, update *models.Update) {
	p, ok := h.participant(ctx, update)
	if !ok {
		return
	}

	a := args(update)
	if len(a) != 1 {
		h.reply(ctx, update, market.Msg(market.MsgUsageBuy, h.cfg.BuyCommand))
		return
	}
	units, err := parseUnits(a[0])
	if err != nil {
		h.reply(ctx, update, market.Msg(market.MsgBadAmount))
		return
	}

	if _, err := h.market.BuyCurrency(ctx, p, units); err != nil {
		if text, known := h.guardReply(err); known {
			h.reply(ctx, update, text)
		} else {
			h.reply(ctx, update, market.Msg(market.MsgInvoiceFailed))
		}
		return
	}
	h.reply(ctx, update, market.Msg(market.MsgInvoiceCreated))
}
