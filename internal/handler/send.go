package handler

import (
	"context"
	"errors"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/saulteafarmer/orangemart/internal/domain"
	"github.com/saulteafarmer/orangemart/internal/market"
)

func (h *Handler) handleSend(ctx context.Context, b *bot.Bot, update *models.Update) {
	p, ok := h.participant(ctx, update)
	if !ok {
		return
	}

	a := args(update)
	if len(a) != 2 {
		h.reply(ctx, update, market.Msg(market.MsgUsageSend, h.cfg.SendCommand))
		return
	}
	units, err := parseUnits(a[0])
	if err != nil {
		h.reply(ctx, update, market.Msg(market.MsgBadAmount))
		return
	}
	address := a[1]

	if err := h.market.SendCurrency(ctx, p, units, address); err != nil {
		switch {
		case errors.Is(err, domain.ErrAddressNotAllowed):
			h.reply(ctx, update, badDomainReply(address))
		default:
			if text, known := h.guardReply(err); known {
				h.reply(ctx, update, text)
			}
			// Gateway failures are reported to the player by the market
			// core alongside the refund; no second reply here.
		}
		return
	}
	h.reply(ctx, update, market.Msg(market.MsgPaymentProcessing))
}
