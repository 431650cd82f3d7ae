package bot

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// --- Команды ---

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "start":
		b.sender.Text(chatID,
			"👋 Привет! Отправь мне ссылку на пост из X/Twitter, TikTok, Instagram, Bluesky или YouTube Shorts, "+
				"и я пришлю медиа прямо в чат.",
		)
	case "help":
		b.sender.Text(chatID, b.helpText())
	case "stats":
		if !b.isAdmin(ctx, msg) {
			b.sender.Text(chatID, "⛔ Команда доступна только администраторам.")
			return
		}
		b.sender.Text(chatID, b.statsText())
	default:
		b.sender.Text(chatID, "Неизвестная команда. Попробуй /help")
	}
}

func (b *Bot) helpText() string {
	var sb strings.Builder
	sb.WriteString("📖 Поддерживаемые платформы:\n" +
		"• X/Twitter — x.com/user/status/123\n" +
		"• TikTok — tiktok.com/@user/video/123\n" +
		"• Instagram — instagram.com/p/ABC или /reel/ABC\n" +
		"• Bluesky — bsky.app/profile/user/post/abc\n" +
		"• YouTube — youtube.com/shorts/ID\n")
	if b.cfg.GenericDownloader {
		sb.WriteString(fmt.Sprintf("\nОстальные ссылки скачиваются универсальным загрузчиком "+
			"(до %d МБ и %d мин).\n", b.cfg.MaxDownloadBytes>>20, int(b.cfg.MaxDuration.Minutes())))
	}
	sb.WriteString("\nМожно прислать несколько ссылок в одном сообщении.")
	return sb.String()
}

func (b *Bot) statsText() string {
	stats := b.resolver.Stats()
	if len(stats) == 0 {
		return "📊 Кэш отключён."
	}
	var sb strings.Builder
	sb.WriteString("📊 Кэш:\n")
	for _, s := range stats {
		sb.WriteString(fmt.Sprintf("• %s: %d записей, попаданий %d, промахов %d (%.0f%%)\n",
			s.Kind, s.Entries, s.Hits, s.Misses, s.HitRate*100))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// isAdmin — пользователь из ADMIN_IDS либо администратор группы.
func (b *Bot) isAdmin(ctx context.Context, msg *tgbotapi.Message) bool {
	if msg.From == nil {
		return false
	}
	if b.cfg.IsAdmin(msg.From.ID) {
		return true
	}
	if msg.Chat.IsPrivate() {
		return false
	}
	status, err := b.sender.MemberStatus(ctx, msg.Chat.ID, msg.From.ID)
	if err != nil {
		b.log.Warn("chat member lookup failed", zap.Error(err), zap.Int64("chat_id", msg.Chat.ID))
		return false
	}
	return status == "creator" || status == "administrator"
}
