package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/saulteafarmer/orangemart/internal/config"
	"github.com/saulteafarmer/orangemart/internal/domain"
	"github.com/saulteafarmer/orangemart/internal/market"
)

// Handler holds all dependencies needed by command handlers.
type Handler struct {
	bot    *bot.Bot
	cfg    *config.Config
	market *market.Service
}

// Deps contains all dependencies required to construct a Handler.
type Deps struct {
	Bot    *bot.Bot
	Cfg    *config.Config
	Market *market.Service
}

// New creates a new Handler from the provided dependencies.
func New(deps Deps) *Handler {
	return &Handler{
		bot:    deps.Bot,
		cfg:    deps.Cfg,
		market: deps.Market,
	}
}

// Register wires the market commands. Command names come from config so
// operators can rename them without code changes.
func (h *Handler) Register() {
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/"+h.cfg.BuyCommand, bot.MatchTypePrefix, h.handleBuy)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/"+h.cfg.SendCommand, bot.MatchTypePrefix, h.handleSend)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/"+h.cfg.VIPCommand, bot.MatchTypePrefix, h.handleVIP)
}

// participant extracts the acting player from an update, or replies with
// a permission error and returns false.
func (h *Handler) participant(ctx context.Context, update *models.Update) (domain.Participant, bool) {
	if update.Message == nil || update.Message.From == nil {
		return domain.Participant{}, false
	}
	from := update.Message.From
	if !h.cfg.IsAllowed(from.ID) {
		h.reply(ctx, update, market.Msg(market.MsgNoPermission))
		return domain.Participant{}, false
	}
	name := from.FirstName
	if from.Username != "" {
		name = "@" + from.Username
	}
	return domain.Participant{
		ID:     strconv.FormatInt(from.ID, 10),
		ChatID: update.Message.Chat.ID,
		Name:   name,
	}, true
}

// args returns the command arguments, stripped of the command itself.
func args(update *models.Update) []string {
	fields := strings.Fields(update.Message.Text)
	if len(fields) == 0 {
		return nil
	}
	return fields[1:]
}

func (h *Handler) reply(ctx context.Context, update *models.Update, text string) {
	_, err := h.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   text,
		ReplyParameters: &models.ReplyParameters{
			MessageID: update.Message.ID,
		},
	})
	if err != nil {
		slog.Error("reply failed", "chat_id", update.Message.Chat.ID, "error", err)
	}
}

// guardReply maps an admission error to its catalog message, or returns
// false for errors the market core reports to the player itself.
func (h *Handler) guardReply(err error) (string, bool) {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		return market.Msg(market.MsgBadAmount), true
	case errors.Is(err, domain.ErrAmountTooLarge), errors.Is(err, domain.ErrAmountOverflow):
		return market.Msg(market.MsgAmountTooLarge), true
	case errors.Is(err, domain.ErrCooldown):
		return market.Msg(market.MsgCooldown), true
	case errors.Is(err, domain.ErrTooManyPending):
		return market.Msg(market.MsgTooManyPending), true
	case errors.Is(err, domain.ErrInsufficientFunds):
		return market.Msg(market.MsgNeedMoreCurrency, h.cfg.CurrencyName), true
	case errors.Is(err, domain.ErrInvalidAddress):
		return market.Msg(market.MsgBadAddress), true
	case errors.Is(err, domain.ErrShuttingDown):
		return market.Msg(market.MsgTryLater), true
	}
	return "", false
}

func badDomainReply(address string) string {
	if _, dom, ok := strings.Cut(address, "@"); ok {
		return market.Msg(market.MsgBadDomain, dom)
	}
	return market.Msg(market.MsgBadAddress)
}

func parseUnits(s string) (int64, error) {
	units, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, domain.ErrInvalidAmount)
	}
	return units, nil
}
