package market

import "fmt"

// Reply catalog for user-facing messages. Handlers and the market core
// share it so the same event always reads the same way.
const (
	MsgUsageBuy          = "UsageBuy"
	MsgUsageSend         = "UsageSend"
	MsgNoPermission      = "NoPermission"
	MsgNeedMoreCurrency  = "NeedMoreCurrency"
	MsgInvoiceCreated    = "InvoiceCreated"
	MsgInvoiceFailed     = "InvoiceFailed"
	MsgPaymentFailed     = "PaymentFailed"
	MsgPaymentProcessing = "PaymentProcessing"
	MsgPurchaseSuccess   = "PurchaseSuccess"
	MsgVIPSuccess        = "VIPSuccess"
	MsgSendSuccess       = "SendSuccess"
	MsgInvoiceExpired    = "InvoiceExpired"
	MsgSendExpired       = "SendExpired"
	MsgBadDomain         = "BadDomain"
	MsgBadAddress        = "BadAddress"
	MsgTooManyPending    = "TooManyPending"
	MsgCooldown          = "Cooldown"
	MsgBadAmount         = "BadAmount"
	MsgAmountTooLarge    = "AmountTooLarge"
	MsgTryLater          = "TryLater"
)

var messages = map[string]string{
	MsgUsageBuy:          "Usage: /%s <amount>",
	MsgUsageSend:         "Usage: /%s <amount> <lightning_address>",
	MsgNoPermission:      "You do not have permission to use this command.",
	MsgNeedMoreCurrency:  "You need more %s to send that much.",
	MsgInvoiceCreated:    "Invoice created! Check the invoice channel to complete your payment.",
	MsgInvoiceFailed:     "Failed to create an invoice. Please try again later.",
	MsgPaymentFailed:     "Failed to process payment. Your %s has been returned.",
	MsgPaymentProcessing: "Your payment is being processed. You will receive a confirmation once it completes.",
	MsgPurchaseSuccess:   "You have successfully purchased %d %s!",
	MsgVIPSuccess:        "You have successfully purchased VIP status!",
	MsgSendSuccess:       "You have successfully sent %d %s!",
	MsgInvoiceExpired:    "Your invoice for %d sats has expired. Please try again.",
	MsgSendExpired:       "Your payment of %d sats did not go through. Your %s has been returned.",
	MsgBadDomain:         "The domain '%s' is not allowed. Please use a different lightning address.",
	MsgBadAddress:        "That lightning address is invalid or cannot be resolved.",
	MsgTooManyPending:    "You already have unpaid invoices. Pay or wait for them to expire first.",
	MsgCooldown:          "Slow down. Please wait before using this command again.",
	MsgBadAmount:         "Please provide a positive whole amount.",
	MsgAmountTooLarge:    "That amount is above the configured limit.",
	MsgTryLater:          "Something went wrong. Please try again later.",
}

// Msg formats a catalog entry.
func Msg(key string, args ...any) string {
	format, ok := messages[key]
	if !ok {
		return key
	}
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
