package telegram

import (
	"context"
	"fmt"

	"spark/backend/internal/localization"
	"spark/backend/internal/logging"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotService answers /start with the chat id users copy into their profile.
type BotService struct {
	BotAPI    *tgbotapi.BotAPI
	Localizer *localization.Localizer
}

func NewBotService(token string, loc *localization.Localizer) (*BotService, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize bot: %w", err)
	}
	bot.Debug = false
	logging.Info().Str("account", bot.Self.UserName).Msg("telegram bot authorized")

	return &BotService{BotAPI: bot, Localizer: loc}, nil
}

// Serve читає оновлення, доки ctx не скасовано.
func (s *BotService) Serve(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.BotAPI.GetUpdatesChan(u)
	defer s.BotAPI.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("telegram update channel closed")
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.Command() == "start" {
				s.handleStart(update.Message)
			}
		}
	}
}

func (s *BotService) handleStart(msg *tgbotapi.Message) {
	lang := localization.DefaultLanguage
	if msg.From != nil && msg.From.LanguageCode == "uk" {
		lang = "uk"
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, s.Localizer.Format(lang, localization.KeyBotStart, msg.Chat.ID))
	if _, err := s.BotAPI.Send(reply); err != nil {
		logging.Warn().Err(err).Int64("chat_id", msg.Chat.ID).Msg("failed to answer /start")
	}
}

func (s *BotService) String() string { return "telegram-bot" }
