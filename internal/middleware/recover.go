// Package middleware holds the bot-level update middlewares.
package middleware

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Recover returns middleware that recovers from handler panics. A panic
// in one command must never take down the reconciliation loop running in
// the same process.
func Recover() bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			defer func() {
				if r := recover(); r != nil {
					var chatID int64
					if update.Message != nil {
						chatID = update.Message.Chat.ID
					}
					slog.Error("panic recovered in handler",
						"panic", r,
						"chat_id", chatID,
						"stack", string(debug.Stack()),
					)
				}
			}()
			next(ctx, b, update)
		}
	}
}
