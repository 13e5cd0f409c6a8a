// File: internal/telegram/bot.go

// Package telegram is the chat front-end. It translates bot commands and
// plain-text replies into session inputs, and session events back into chat
// messages. One chat maps to one identity.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vouch-cli/api/schemas"
	"github.com/xkilldash9x/vouch-cli/internal/config"
	"github.com/xkilldash9x/vouch-cli/internal/session"
)

// Bot bridges Telegram updates and the session registry.
type Bot struct {
	api      *tgbotapi.BotAPI
	registry *session.Registry
	logger   *zap.Logger
}

// New authenticates against the Telegram Bot API.
func New(cfg config.TelegramConfig, registry *session.Registry, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate bot: %w", err)
	}
	api.Debug = cfg.Debug
	logger.Info("Telegram bot authenticated.", zap.String("username", api.Self.UserName))
	return &Bot{api: api, registry: registry, logger: logger.Named("telegram")}, nil
}

// Run consumes updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := b.api.GetUpdatesChan(cfg)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	identity := strconv.FormatInt(msg.Chat.ID, 10)

	if msg.IsCommand() {
		b.handleCommand(ctx, identity, msg)
		return
	}
	b.routeText(identity, msg.Text)
}

func (b *Bot) handleCommand(ctx context.Context, identity string, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.send(identity, "Hi! Use /vote to start a verification session, /cancel to abort one.")
	case "vote":
		if _, err := b.registry.Create(ctx, identity); err != nil {
			if errors.Is(err, schemas.ErrDuplicateSession) {
				b.send(identity, "You already have a session in progress. Use /cancel to abort it first.")
				return
			}
			b.logger.Error("Failed to create session.", zap.String("identity", identity), zap.Error(err))
			b.send(identity, "Could not start a session right now, please try again later.")
		}
	case "cancel":
		if err := b.registry.Cancel(identity); err != nil {
			b.send(identity, "No session to cancel.")
		}
	default:
		b.send(identity, "Unknown command. Use /vote or /cancel.")
	}
}

// routeText maps a plain-text reply to the input kind the session currently
// expects. The session itself rejects anything out of order.
func (b *Bot) routeText(identity, text string) {
	s, ok := b.registry.Get(identity)
	if !ok {
		b.send(identity, "No active session. Use /vote to start one.")
		return
	}

	var kind schemas.InputKind
	switch s.State() {
	case schemas.StateCreated:
		kind = schemas.InputSubmitEmail
	case schemas.StateOTPPending:
		kind = schemas.InputSubmitOTP
	case schemas.StateTwoFactorPending:
		kind = schemas.InputSubmitTwoFactor
	default:
		b.send(identity, "Still working, hold on...")
		return
	}

	if err := b.registry.Submit(identity, schemas.Input{Kind: kind, Text: text}); err != nil {
		b.logger.Warn("Input not accepted.", zap.String("identity", identity), zap.Error(err))
		b.send(identity, "That wasn't accepted right now, please wait a moment and try again.")
	}
}

// Notify implements schemas.Notifier. It is called from session worker
// goroutines.
func (b *Bot) Notify(ev schemas.Event) {
	text := FormatEvent(ev)
	if text != "" {
		b.send(ev.Identity, text)
	}

	if ev.State == schemas.StateCompleted && ev.Result != nil && ev.Result.ArtifactRef != "" {
		b.sendArtifact(ev.Identity, ev.Result.ArtifactRef)
	}
}

func (b *Bot) send(identity, text string) {
	chatID, err := strconv.ParseInt(identity, 10, 64)
	if err != nil {
		b.logger.Error("Invalid chat identity.", zap.String("identity", identity))
		return
	}
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Warn("Failed to send message.", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) sendArtifact(identity, path string) {
	chatID, err := strconv.ParseInt(identity, 10, 64)
	if err != nil {
		return
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))
	photo.Caption = "Proof of completion."
	if _, err := b.api.Send(photo); err != nil {
		b.logger.Warn("Failed to send proof artifact.", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// FormatEvent renders a session event as a user-facing message. An empty
// string means nothing should be sent.
func FormatEvent(ev schemas.Event) string {
	if ev.Rejected {
		return "That input isn't expected right now."
	}
	switch ev.State {
	case schemas.StateCreated:
		return "Session started. Please send the email address to verify."
	case schemas.StateEmailSubmitted:
		return "Email received, signing in..."
	case schemas.StateChallengePending:
		return "Solving the site's bot check, hang tight..."
	case schemas.StateOTPPending:
		return "Check your inbox and send me the one-time code."
	case schemas.StateTwoFactorPending:
		return "Now send your two-factor authentication code."
	case schemas.StateActionPending:
		return "Verified! Performing the action..."
	case schemas.StateCompleted:
		if ev.Result != nil && ev.Result.Message != "" {
			return ev.Result.Message
		}
		return "All done!"
	case schemas.StateFailed:
		if ev.Reason != "" {
			return fmt.Sprintf("Session failed: %s. Use /vote to try again.", ev.Reason)
		}
		return "Session failed. Use /vote to try again."
	case schemas.StateExpired:
		return "Session expired after inactivity. Use /vote to start over."
	default:
		return ""
	}
}
