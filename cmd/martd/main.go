package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-telegram/bot"

	"github.com/saulteafarmer/orangemart/internal/config"
	"github.com/saulteafarmer/orangemart/internal/gameserver"
	"github.com/saulteafarmer/orangemart/internal/gateway/lnbits"
	"github.com/saulteafarmer/orangemart/internal/handler"
	"github.com/saulteafarmer/orangemart/internal/ledger"
	"github.com/saulteafarmer/orangemart/internal/market"
	"github.com/saulteafarmer/orangemart/internal/middleware"
	"github.com/saulteafarmer/orangemart/internal/notify"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open the transaction ledger
	store, err := ledger.NewStore(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open ledger", "error", err)
		os.Exit(1)
	}

	// Lightning gateway and game-server bridge
	gw := lnbits.New(cfg.LNbitsURL, cfg.LNbitsAPIKey)
	bridge := gameserver.New(cfg)

	// Create bot
	opts := []bot.Option{
		bot.WithMiddlewares(
			middleware.Recover(),
			middleware.Logging(),
		),
	}
	b, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		slog.Error("failed to create bot", "error", err)
		os.Exit(1)
	}

	me, err := b.GetMe(ctx)
	if err != nil {
		slog.Error("failed to get bot info", "error", err)
		os.Exit(1)
	}
	slog.Info("bot info retrieved", "id", me.ID, "username", me.Username)

	board := notify.NewBoard(b, cfg)

	// Market core
	svc := market.NewService(cfg, store, gw, board, bridge, bridge)

	// Resolve transactions left open by a previous run before taking
	// new commands.
	svc.Recover(ctx)

	go svc.Run(ctx)

	// Command handlers
	h := handler.New(handler.Deps{
		Bot:    b,
		Cfg:    cfg,
		Market: svc,
	})
	h.Register()

	slog.Info("starting bot", "username", me.Username, "id", me.ID,
		"currency", cfg.CurrencyName, "invoice_channel", cfg.InvoiceChannelID)
	b.Start(ctx)

	slog.Info("bot stopped gracefully")
}
