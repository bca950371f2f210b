package config

import "time"

const (
	// HTTP client timeouts
	GatewayTimeout = 30 * time.Second
	BridgeTimeout  = 10 * time.Second

	// Cooldown bookkeeping older than this is pruned
	CooldownRetention = 1 * time.Hour

	// Telegram limits
	MaxTelegramMessageLen = 4096

	// QR code rendering for invoice posts
	QRCodeURL  = "https://api.qrserver.com/v1/create-qr-code/"
	QRCodeSize = "200x200"

	// Satoshis per bitcoin, for display conversion
	SatsPerBTC = 100_000_000
)
