package transport

import (
	"context"
	"errors"
)

// ChatTarget addresses one delivery recipient.
type ChatTarget struct {
	ChatID int64
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// ErrRecipientGone marks a permanent delivery failure: the recipient can
// never be reached again (blocked the bot, deactivated the account).
// Callers react by unsubscribing the recipient. Every other send error is
// considered transient.
var ErrRecipientGone = errors.New("recipient unreachable")

// Adapter is the outbound delivery transport.
type Adapter interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
	Stop(ctx context.Context) error
}

// IsPermanent reports whether a send error should trigger unsubscription.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrRecipientGone)
}
