package middleware

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Logging returns middleware that logs command processing time. Message
// text is reduced to the command word: amounts and lightning addresses
// stay out of the logs.
func Logging() bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			start := time.Now()

			var chatID, userID int64
			command := ""
			if update.Message != nil {
				chatID = update.Message.Chat.ID
				if update.Message.From != nil {
					userID = update.Message.From.ID
				}
				if strings.HasPrefix(update.Message.Text, "/") {
					command, _, _ = strings.Cut(update.Message.Text, " ")
				}
			}

			next(ctx, b, update)

			slog.Debug("update processed",
				"command", command,
				"chat_id", chatID,
				"user_id", userID,
				"duration", time.Since(start),
			)
		}
	}
}
