package resolver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"linksave/internal/post"
)

var ErrBadLocator = errors.New("malformed delivery locator")

// Locator — координата сообщения в чате.
type Locator struct {
	ChatID    int64
	MessageID int
}

func (l Locator) String() string {
	return fmt.Sprintf("%d:%d", l.ChatID, l.MessageID)
}

func ParseLocator(s string) (Locator, error) {
	chat, msg, ok := strings.Cut(s, ":")
	if !ok {
		return Locator{}, fmt.Errorf("%w: %q", ErrBadLocator, s)
	}
	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return Locator{}, fmt.Errorf("%w: %q", ErrBadLocator, s)
	}
	msgID, err := strconv.Atoi(msg)
	if err != nil || msgID <= 0 {
		return Locator{}, fmt.Errorf("%w: %q", ErrBadLocator, s)
	}
	return Locator{ChatID: chatID, MessageID: msgID}, nil
}

// Media — одно вложение. Заполняется либо URL (транспорт качает сам), либо Path.
type Media struct {
	Kind     post.MediaKind
	URL      string
	Path     string
	Thumb    string
	Caption  string
	Duration int
}

// Transport — транспорт чата. Доставка считается успешной только при возвращённом локаторе.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) (Locator, error)
	SendMedia(ctx context.Context, chatID int64, m Media) (Locator, error)
	SendGroup(ctx context.Context, chatID int64, items []Media) ([]Locator, error)
	Copy(ctx context.Context, from Locator, chatID int64) (Locator, error)
	Edit(ctx context.Context, at Locator, text string) error
	Delete(ctx context.Context, at Locator) error
	MemberStatus(ctx context.Context, chatID, userID int64) (string, error)
}
