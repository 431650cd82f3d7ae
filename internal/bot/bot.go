package bot

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"linksave/internal/config"
	"linksave/internal/resolver"
	"linksave/internal/storage"
)

// Resolver — обработка текста со ссылками (*resolver.Manager).
type Resolver interface {
	HandleText(ctx context.Context, chatID int64, text string) []resolver.Outcome
	Stats() []storage.Stats
}

// Bot — основная структура бота.
type Bot struct {
	api      *tgbotapi.BotAPI
	cfg      *config.Config
	log      *zap.Logger
	sender   *Sender
	resolver Resolver

	wg sync.WaitGroup
}

// New создаёт экземпляр бота. sender должен быть тем же транспортом, что отдан менеджеру.
func New(api *tgbotapi.BotAPI, cfg *config.Config, sender *Sender, r Resolver, log *zap.Logger) *Bot {
	return &Bot{
		api:      api,
		cfg:      cfg,
		log:      log,
		sender:   sender,
		resolver: r,
	}
}

// Run запускает long-polling обработку обновлений.
// Каждое обновление обрабатывается в своей горутине. Блокирует до отмены ctx
// и ждёт завершения начатых обработок.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	b.log.Info("bot started, waiting for updates...")
	for {
		select {
		case <-ctx.Done():
			b.log.Info("shutting down gracefully")
			b.api.StopReceivingUpdates()
			b.wg.Wait()
			return
		case upd := <-updates:
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handleUpdate(ctx, upd)
			}()
		}
	}
}

// handleUpdate обрабатывает одно обновление (сообщение пользователя).
func (b *Bot) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message == nil || upd.Message.Chat == nil {
		return
	}

	msg := upd.Message
	chatID := msg.Chat.ID

	if !b.cfg.ChatAllowed(chatID) {
		b.log.Debug("chat not allowed", zap.Int64("chat_id", chatID))
		return
	}

	// Защита от паники в хендлерах
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic in handler", zap.Any("recover", r), zap.Int64("chat_id", chatID))
			b.sender.Text(chatID, "❌ Внутренняя ошибка. Попробуйте позже.")
		}
	}()

	// Команды
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}

	outcomes := b.resolver.HandleText(ctx, chatID, text)
	if len(outcomes) == 0 {
		if msg.Chat.IsPrivate() {
			b.sender.Text(chatID, "Пришли ссылку текстом.")
		}
		return
	}
	b.logOutcomes(chatID, outcomes)
}

func (b *Bot) logOutcomes(chatID int64, outcomes []resolver.Outcome) {
	for _, o := range outcomes {
		fields := []zap.Field{
			zap.Int64("chat_id", chatID),
			zap.String("url", o.URL),
			zap.String("platform", string(o.Platform)),
			zap.String("stage", string(o.Stage)),
			zap.Int("messages", len(o.Locators)),
		}
		switch {
		case o.Err != nil:
			b.log.Info("link failed", append(fields, zap.Error(o.Err))...)
		case o.Degraded:
			b.log.Info("link delivered as text", fields...)
		default:
			b.log.Info("link delivered", fields...)
		}
	}
}
