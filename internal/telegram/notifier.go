// Package telegram pushes match alerts to users who are not connected and
// runs the bot they use to link their chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spark/backend/internal/localization"
	"spark/backend/internal/logging"
	"spark/backend/internal/matchmaking"
	"spark/backend/internal/models"
	"spark/backend/internal/profiles"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Sender це частина tgbotapi.BotAPI, потрібна нотифікатору.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// BreakerSettings controls when pushes stop hitting the Bot API.
type BreakerSettings struct {
	FailureThreshold uint32
	Timeout          time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{FailureThreshold: 5, Timeout: 30 * time.Second}
}

// Notifier sends offline pushes through the bot. It implements
// chathub.OfflineNotifier.
type Notifier struct {
	Sender    Sender
	Profiles  profiles.Provider
	Localizer *localization.Localizer
	Language  string

	breaker *gobreaker.CircuitBreaker[tgbotapi.Message]
}

func NewNotifier(sender Sender, prof profiles.Provider, loc *localization.Localizer, bs BreakerSettings) *Notifier {
	n := &Notifier{
		Sender:    sender,
		Profiles:  prof,
		Localizer: loc,
		Language:  localization.DefaultLanguage,
	}
	n.breaker = gobreaker.NewCircuitBreaker[tgbotapi.Message](gobreaker.Settings{
		Name:        "telegram-push",
		MaxRequests: 1,
		Timeout:     bs.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bs.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return n
}

// NotifyOffline pushes the event to the user's linked chat. Users without a
// linked chat are skipped.
func (n *Notifier) NotifyOffline(ctx context.Context, uid, event string, payload any) {
	if err := n.push(ctx, uid, event, payload); err != nil {
		logging.Warn().Err(err).Str("uid", uid).Str("event", event).Msg("telegram push failed")
	}
}

func (n *Notifier) push(ctx context.Context, uid, event string, payload any) error {
	profile, err := n.Profiles.GetProfile(ctx, uid)
	if err != nil {
		return fmt.Errorf("failed to load profile: %w", err)
	}
	if profile.TelegramChatID == nil || *profile.TelegramChatID == 0 {
		return nil
	}

	text, ok := n.text(ctx, event, payload)
	if !ok {
		return nil
	}

	msg := tgbotapi.NewMessage(*profile.TelegramChatID, text)
	_, err = n.breaker.Execute(func() (tgbotapi.Message, error) {
		return n.Sender.Send(msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("push suppressed: %w", err)
	}
	return err
}

func (n *Notifier) text(ctx context.Context, event string, payload any) (string, bool) {
	switch event {
	case models.EventMatchFound:
		return n.Localizer.GetString(n.Language, localization.KeyPushMatchFound), true
	case models.EventMutualMatch:
		name := n.Localizer.GetString(n.Language, localization.KeySomeone)
		if p, ok := payload.(matchmaking.MutualMatchPayload); ok {
			if partner, err := n.Profiles.GetProfile(ctx, p.PartnerUID); err == nil && partner.DisplayName != "" {
				name = partner.DisplayName
			}
		}
		return n.Localizer.Format(n.Language, localization.KeyPushMutualMatch, name), true
	}
	return "", false
}
