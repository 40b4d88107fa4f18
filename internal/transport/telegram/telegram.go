package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"digestbot/internal/transport"
	"digestbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter delivers messages through the Telegram Bot API via telebot.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if opt == nil {
		opt = &transport.SendOptions{}
	}
	sendOpts := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}

	_, err := a.bot.Send(tele.ChatID(to.ChatID), text, sendOpts)
	if err == nil {
		return nil
	}
	if isPermanentTelebotErr(err) {
		return fmt.Errorf("%w: chat %d: %v", transport.ErrRecipientGone, to.ChatID, err)
	}
	return err
}

func (a *Adapter) Stop(ctx context.Context) error {
	_ = ctx
	if a.bot != nil {
		a.bot.Stop()
	}
	return nil
}

// isPermanentTelebotErr detects "this recipient can never be reached again"
// conditions: the user blocked the bot, deactivated their account, or the
// chat no longer exists.
func isPermanentTelebotErr(err error) bool {
	if errors.Is(err, tele.ErrBlockedByUser) ||
		errors.Is(err, tele.ErrUserIsDeactivated) ||
		errors.Is(err, tele.ErrChatNotFound) {
		return true
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code == 403 {
		return true
	}
	return false
}
