package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"linksave/internal/post"
	"linksave/internal/resolver"
)

// botAPI — используемая часть *tgbotapi.BotAPI.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	SendMediaGroup(c tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
	CopyMessage(c tgbotapi.CopyMessageConfig) (tgbotapi.MessageID, error)
	GetChatMember(c tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// Sender — транспорт Telegram для менеджера разрешения, с обработкой rate-limit (429).
type Sender struct {
	api botAPI
	log *zap.Logger

	// sleep подменяется в тестах
	sleep func(ctx context.Context, d time.Duration) error
}

var _ resolver.Transport = (*Sender)(nil)

func NewSender(api botAPI, log *zap.Logger) *Sender {
	return &Sender{api: api, log: log, sleep: sleepContext}
}

// maxRetries — сколько раз повторяем при 429.
const maxRetries = 3

// maxRetryWait — retry_after длиннее этого не ждём, возвращаем ошибку сразу.
const maxRetryWait = 30 * time.Second

// retry повторяет op, пока Telegram отвечает 429. Остальные ошибки возвращаются сразу.
func (s *Sender) retry(ctx context.Context, op string, f func() error) error {
	for attempt := 1; ; attempt++ {
		err := f()
		if err == nil {
			return nil
		}
		if !isRateLimited(err) || attempt >= maxRetries {
			return err
		}

		wait := retryAfter(err, attempt)
		if wait > maxRetryWait {
			s.log.Warn("rate limit wait too long, giving up",
				zap.String("op", op),
				zap.Duration("retry_after", wait),
			)
			return err
		}
		s.log.Warn("rate limited by Telegram, waiting",
			zap.String("op", op),
			zap.Duration("wait", wait),
			zap.Int("attempt", attempt),
		)
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Sender) send(ctx context.Context, op string, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	var msg tgbotapi.Message
	err := s.retry(ctx, op, func() error {
		var err error
		msg, err = s.api.Send(c)
		return err
	})
	return msg, err
}

func (s *Sender) SendText(ctx context.Context, chatID int64, text string) (resolver.Locator, error) {
	cfg := tgbotapi.NewMessage(chatID, text)
	cfg.DisableWebPagePreview = true
	msg, err := s.send(ctx, "text", cfg)
	if err != nil {
		return resolver.Locator{}, err
	}
	return locator(chatID, msg.MessageID), nil
}

// Text — отправка текста без результата, ошибка только логируется.
func (s *Sender) Text(chatID int64, text string) {
	if _, err := s.SendText(context.Background(), chatID, text); err != nil {
		s.log.Warn("failed to send text message",
			zap.Error(err),
			zap.Int64("chat_id", chatID),
		)
	}
}

func (s *Sender) SendMedia(ctx context.Context, chatID int64, m resolver.Media) (resolver.Locator, error) {
	file, err := fileData(m)
	if err != nil {
		return resolver.Locator{}, err
	}

	var c tgbotapi.Chattable
	switch m.Kind {
	case post.KindImage:
		photo := tgbotapi.NewPhoto(chatID, file)
		photo.Caption = m.Caption
		c = photo
	case post.KindAnimatedImage:
		anim := tgbotapi.NewAnimation(chatID, file)
		anim.Caption = m.Caption
		anim.Duration = m.Duration
		c = anim
	default:
		video := tgbotapi.NewVideo(chatID, file)
		video.Caption = m.Caption
		video.Duration = m.Duration
		video.SupportsStreaming = true
		if m.Thumb != "" && m.URL != "" {
			video.Thumb = tgbotapi.FileURL(m.Thumb)
		}
		c = video
	}

	msg, err := s.send(ctx, string(m.Kind), c)
	if err != nil {
		return resolver.Locator{}, err
	}
	return locator(chatID, msg.MessageID), nil
}

// SendGroup — альбом. Анимации в альбоме Telegram принимает только как видео.
func (s *Sender) SendGroup(ctx context.Context, chatID int64, items []resolver.Media) ([]resolver.Locator, error) {
	group := make([]interface{}, 0, len(items))
	for _, m := range items {
		file, err := fileData(m)
		if err != nil {
			return nil, err
		}
		if m.Kind == post.KindImage {
			photo := tgbotapi.NewInputMediaPhoto(file)
			photo.Caption = m.Caption
			group = append(group, photo)
			continue
		}
		video := tgbotapi.NewInputMediaVideo(file)
		video.Caption = m.Caption
		video.Duration = m.Duration
		video.SupportsStreaming = true
		group = append(group, video)
	}

	var msgs []tgbotapi.Message
	err := s.retry(ctx, "media_group", func() error {
		var err error
		msgs, err = s.api.SendMediaGroup(tgbotapi.NewMediaGroup(chatID, group))
		return err
	})
	if err != nil {
		return nil, err
	}
	locs := make([]resolver.Locator, 0, len(msgs))
	for _, msg := range msgs {
		locs = append(locs, locator(chatID, msg.MessageID))
	}
	return locs, nil
}

// Copy пересылает ранее отправленное сообщение без пометки «переслано».
func (s *Sender) Copy(ctx context.Context, from resolver.Locator, chatID int64) (resolver.Locator, error) {
	var id tgbotapi.MessageID
	err := s.retry(ctx, "copy", func() error {
		var err error
		id, err = s.api.CopyMessage(tgbotapi.NewCopyMessage(chatID, from.ChatID, from.MessageID))
		return err
	})
	if err != nil {
		return resolver.Locator{}, err
	}
	return locator(chatID, id.MessageID), nil
}

func (s *Sender) Edit(ctx context.Context, at resolver.Locator, text string) error {
	return s.retry(ctx, "edit", func() error {
		_, err := s.api.Request(tgbotapi.NewEditMessageText(at.ChatID, at.MessageID, text))
		return err
	})
}

func (s *Sender) Delete(ctx context.Context, at resolver.Locator) error {
	return s.retry(ctx, "delete", func() error {
		_, err := s.api.Request(tgbotapi.NewDeleteMessage(at.ChatID, at.MessageID))
		return err
	})
}

// MemberStatus — creator, administrator, member, restricted, left или kicked.
func (s *Sender) MemberStatus(ctx context.Context, chatID, userID int64) (string, error) {
	var member tgbotapi.ChatMember
	err := s.retry(ctx, "chat_member", func() error {
		var err error
		member, err = s.api.GetChatMember(tgbotapi.GetChatMemberConfig{
			ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return member.Status, nil
}

var errNoFile = errors.New("media has neither url nor path")

func fileData(m resolver.Media) (tgbotapi.RequestFileData, error) {
	switch {
	case m.Path != "":
		return tgbotapi.FilePath(m.Path), nil
	case m.URL != "":
		return tgbotapi.FileURL(m.URL), nil
	default:
		return nil, fmt.Errorf("%w (%s)", errNoFile, m.Kind)
	}
}

func locator(chatID int64, messageID int) resolver.Locator {
	return resolver.Locator{ChatID: chatID, MessageID: messageID}
}

// isRateLimited проверяет, является ли ошибка 429 (Too Many Requests).
func isRateLimited(err error) bool {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return tgErr.Code == 429 || tgErr.RetryAfter > 0
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "Too Many Requests") || strings.Contains(msg, "retry after")
}

// retryAfter — пауза из retry_after ответа, а если его нет, нарастающий backoff.
func retryAfter(err error, attempt int) time.Duration {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.RetryAfter > 0 {
		return time.Duration(tgErr.RetryAfter) * time.Second
	}
	switch attempt {
	case 1:
		return 3 * time.Second
	case 2:
		return 10 * time.Second
	default:
		return 30 * time.Second
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
