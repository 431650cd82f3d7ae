package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"linksave/internal/config"
	"linksave/internal/post"
	"linksave/internal/resolver"
	"linksave/internal/storage"
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	groups   []tgbotapi.MediaGroupConfig
	copies   []tgbotapi.CopyMessageConfig
	status   string

	// sendErrs возвращаются по очереди первыми вызовами Send
	sendErrs []error
	nextID   int
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		return tgbotapi.Message{}, err
	}
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) SendMediaGroup(c tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, c)
	msgs := make([]tgbotapi.Message, len(c.Media))
	for i := range msgs {
		f.nextID++
		msgs[i].MessageID = f.nextID
	}
	return msgs, nil
}

func (f *fakeAPI) CopyMessage(c tgbotapi.CopyMessageConfig) (tgbotapi.MessageID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies = append(f.copies, c)
	f.nextID++
	return tgbotapi.MessageID{MessageID: f.nextID}, nil
}

func (f *fakeAPI) GetChatMember(tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	if f.status == "" {
		return tgbotapi.ChatMember{}, errors.New("Bad Request: user not found")
	}
	return tgbotapi.ChatMember{Status: f.status}, nil
}

func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func newTestSender(api botAPI) (*Sender, *[]time.Duration) {
	var waits []time.Duration
	s := NewSender(api, zap.NewNop())
	s.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return s, &waits
}

func TestSendVideoByURL(t *testing.T) {
	api := &fakeAPI{}
	s, _ := newTestSender(api)

	loc, err := s.SendMedia(context.Background(), 7, resolver.Media{
		Kind:     post.KindVideo,
		URL:      "https://cdn.example.com/v.mp4",
		Thumb:    "https://cdn.example.com/t.jpg",
		Caption:  "caption",
		Duration: 15,
	})
	require.NoError(t, err)
	assert.Equal(t, resolver.Locator{ChatID: 7, MessageID: 1}, loc)

	require.Len(t, api.sent, 1)
	video, ok := api.sent[0].(tgbotapi.VideoConfig)
	require.True(t, ok)
	assert.Equal(t, tgbotapi.FileURL("https://cdn.example.com/v.mp4"), video.File)
	assert.Equal(t, tgbotapi.FileURL("https://cdn.example.com/t.jpg"), video.Thumb)
	assert.Equal(t, 15, video.Duration)
	assert.True(t, video.SupportsStreaming)
}

func TestSendPhotoFromPath(t *testing.T) {
	api := &fakeAPI{}
	s, _ := newTestSender(api)

	_, err := s.SendMedia(context.Background(), 7, resolver.Media{Kind: post.KindImage, Path: "/tmp/a.jpg"})
	require.NoError(t, err)
	photo, ok := api.sent[0].(tgbotapi.PhotoConfig)
	require.True(t, ok)
	assert.Equal(t, tgbotapi.FilePath("/tmp/a.jpg"), photo.File)

	_, err = s.SendMedia(context.Background(), 7, resolver.Media{Kind: post.KindImage})
	assert.ErrorIs(t, err, errNoFile)
}

func TestRateLimitRetried(t *testing.T) {
	api := &fakeAPI{sendErrs: []error{
		&tgbotapi.Error{Code: 429, Message: "Too Many Requests: retry after 2",
			ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 2}},
	}}
	s, waits := newTestSender(api)

	loc, err := s.SendText(context.Background(), 7, "hi")
	require.NoError(t, err)
	assert.Equal(t, 1, loc.MessageID)
	assert.Equal(t, []time.Duration{2 * time.Second}, *waits)
}

func TestRateLimitGivesUp(t *testing.T) {
	limited := &tgbotapi.Error{Code: 429, Message: "Too Many Requests"}
	api := &fakeAPI{sendErrs: []error{limited, limited, limited, limited}}
	s, waits := newTestSender(api)

	_, err := s.SendText(context.Background(), 7, "hi")
	require.Error(t, err)
	assert.Equal(t, []time.Duration{3 * time.Second, 10 * time.Second}, *waits)
}

func TestLongRetryAfterNotAwaited(t *testing.T) {
	api := &fakeAPI{sendErrs: []error{
		&tgbotapi.Error{Code: 429, Message: "Too Many Requests: retry after 86400",
			ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 86400}},
	}}
	s, waits := newTestSender(api)

	_, err := s.SendText(context.Background(), 7, "hi")
	require.Error(t, err)
	assert.Empty(t, *waits)
	assert.Empty(t, api.sent)
}

func TestOtherErrorsNotRetried(t *testing.T) {
	api := &fakeAPI{sendErrs: []error{&tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}}}
	s, waits := newTestSender(api)

	_, err := s.SendText(context.Background(), 7, "hi")
	require.Error(t, err)
	assert.Empty(t, *waits)
}

func TestSendGroup(t *testing.T) {
	api := &fakeAPI{}
	s, _ := newTestSender(api)

	locs, err := s.SendGroup(context.Background(), 7, []resolver.Media{
		{Kind: post.KindImage, Path: "/tmp/1.jpg", Caption: "album"},
		{Kind: post.KindVideo, URL: "https://cdn.example.com/2.mp4"},
		{Kind: post.KindAnimatedImage, URL: "https://cdn.example.com/3.mp4"},
	})
	require.NoError(t, err)
	assert.Len(t, locs, 3)

	require.Len(t, api.groups, 1)
	media := api.groups[0].Media
	require.Len(t, media, 3)
	photo, ok := media[0].(tgbotapi.InputMediaPhoto)
	require.True(t, ok)
	assert.Equal(t, "album", photo.Caption)
	_, ok = media[2].(tgbotapi.InputMediaVideo)
	assert.True(t, ok)
}

func TestCopyEditDelete(t *testing.T) {
	api := &fakeAPI{}
	s, _ := newTestSender(api)
	ctx := context.Background()

	loc, err := s.Copy(ctx, resolver.Locator{ChatID: -100, MessageID: 5}, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), loc.ChatID)
	require.Len(t, api.copies, 1)
	assert.Equal(t, int64(-100), api.copies[0].FromChatID)
	assert.Equal(t, 5, api.copies[0].MessageID)

	require.NoError(t, s.Edit(ctx, loc, "⏳ 2/3"))
	require.NoError(t, s.Delete(ctx, loc))
	require.Len(t, api.requests, 2)
	_, ok := api.requests[0].(tgbotapi.EditMessageTextConfig)
	assert.True(t, ok)
	_, ok = api.requests[1].(tgbotapi.DeleteMessageConfig)
	assert.True(t, ok)
}

type fakeResolver struct {
	mu    sync.Mutex
	texts []string
	panic bool
	outs  []resolver.Outcome
}

func (r *fakeResolver) HandleText(_ context.Context, _ int64, text string) []resolver.Outcome {
	if r.panic {
		panic("boom")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return r.outs
}

func (r *fakeResolver) Stats() []storage.Stats {
	return []storage.Stats{{Kind: storage.KindVideo, Entries: 3, Hits: 3, Misses: 1, HitRate: 0.75}}
}

func newTestBot(cfg *config.Config, r Resolver) (*Bot, *fakeAPI) {
	api := &fakeAPI{}
	s, _ := newTestSender(api)
	return New(nil, cfg, s, r, zap.NewNop()), api
}

func message(chatID int64, chatType, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		Chat:      &tgbotapi.Chat{ID: chatID, Type: chatType},
		From:      &tgbotapi.User{ID: 42},
		Text:      text,
	}
	if len(text) > 0 && text[0] == '/' {
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}}
	}
	return tgbotapi.Update{Message: msg}
}

func TestLinksPassedToResolver(t *testing.T) {
	r := &fakeResolver{outs: []resolver.Outcome{{URL: "https://x.com/a/status/1"}}}
	b, api := newTestBot(config.Defaults(), r)

	b.handleUpdate(context.Background(), message(7, "private", "https://x.com/a/status/1"))
	assert.Equal(t, []string{"https://x.com/a/status/1"}, r.texts)
	assert.Empty(t, api.texts())
}

func TestPrivateChatWithoutLinkGetsHint(t *testing.T) {
	r := &fakeResolver{}
	b, api := newTestBot(config.Defaults(), r)

	b.handleUpdate(context.Background(), message(7, "private", "hello"))
	assert.Equal(t, []string{"Пришли ссылку текстом."}, api.texts())

	b.handleUpdate(context.Background(), message(-100, "supergroup", "hello"))
	assert.Len(t, api.texts(), 1, "groups stay quiet")
}

func TestDisallowedChatIgnored(t *testing.T) {
	cfg := config.Defaults()
	cfg.AllowedChats = map[int64]struct{}{-100: {}}
	r := &fakeResolver{}
	b, api := newTestBot(cfg, r)

	b.handleUpdate(context.Background(), message(7, "private", "https://x.com/a/status/1"))
	assert.Empty(t, r.texts)
	assert.Empty(t, api.texts())
}

func TestPanicRecovered(t *testing.T) {
	b, api := newTestBot(config.Defaults(), &fakeResolver{panic: true})

	assert.NotPanics(t, func() {
		b.handleUpdate(context.Background(), message(7, "private", "https://x.com/a/status/1"))
	})
	assert.Equal(t, []string{"❌ Внутренняя ошибка. Попробуйте позже."}, api.texts())
}

func TestStatsCommand(t *testing.T) {
	cfg := config.Defaults()
	b, api := newTestBot(cfg, &fakeResolver{})

	b.handleUpdate(context.Background(), message(7, "private", "/stats"))
	require.Len(t, api.texts(), 1)
	assert.Contains(t, api.texts()[0], "только администраторам")

	cfg.AdminIDs = map[int64]struct{}{42: {}}
	b.handleUpdate(context.Background(), message(7, "private", "/stats"))
	require.Len(t, api.texts(), 2)
	assert.Contains(t, api.texts()[1], "video: 3 записей")
	assert.Contains(t, api.texts()[1], "75%")
}

func TestStatsForGroupAdmin(t *testing.T) {
	b, api := newTestBot(config.Defaults(), &fakeResolver{})
	b.sender.api.(*fakeAPI).status = "administrator"

	b.handleUpdate(context.Background(), message(-100, "supergroup", "/stats"))
	require.Len(t, api.texts(), 1)
	assert.Contains(t, api.texts()[0], "📊")
}

func TestHelpMentionsGenericLimits(t *testing.T) {
	b, api := newTestBot(config.Defaults(), &fakeResolver{})

	b.handleUpdate(context.Background(), message(7, "private", "/help"))
	require.Len(t, api.texts(), 1)
	assert.Contains(t, api.texts()[0], "50 МБ")
	assert.Contains(t, api.texts()[0], "10 мин")
}
