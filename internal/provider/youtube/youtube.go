// Package youtube — Shorts и обычные ролики YouTube через github.com/kkdai/youtube/v2.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"
	"go.uber.org/zap"

	"linksave/internal/apperr"
	"linksave/internal/link"
	"linksave/internal/post"
	"linksave/internal/provider"
)

// MaxHeight — потолок качества: выше 720p ролик почти всегда не влезает в лимит отправки.
const MaxHeight = 720

var ErrNoVideoID = errors.New("no video id in url")

// Fetcher — часть *youtube.Client, которой пользуется провайдер.
type Fetcher interface {
	GetVideoContext(ctx context.Context, url string) (*youtube.Video, error)
	GetStreamURLContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (string, error)
}

type Provider struct {
	yt    Fetcher
	chain provider.Chain
	now   func() time.Time
}

func New(client *provider.Client, log *zap.Logger) *Provider {
	p := &Provider{
		yt:  &youtube.Client{HTTPClient: client.HTTP()},
		now: time.Now,
	}
	p.chain = provider.Chain{
		Platform: post.PlatformYouTube,
		APIs:     []provider.API{{Name: "innertube", Fetch: p.fetch}},
		Log:      log,
	}
	return p
}

func (p *Provider) Platform() post.Platform { return post.PlatformYouTube }

// CanHandle — любая ссылка YouTube. Ссылка без ID видео отклоняется в Resolve.
func (p *Provider) CanHandle(rawURL string) bool {
	return link.Matches(rawURL, post.PlatformYouTube)
}

func (p *Provider) Resolve(ctx context.Context, rawURL string) (*post.Post, error) {
	if _, err := videoID(rawURL); err != nil {
		return nil, apperr.NewResolution(string(post.PlatformYouTube), apperr.ReasonParse, err)
	}
	return p.chain.Resolve(ctx, rawURL)
}

func (p *Provider) Canonicalize(rawURL string) string {
	id, err := videoID(rawURL)
	if err != nil {
		return rawURL
	}
	return "https://www.youtube.com/shorts/" + id
}

func (p *Provider) fetch(ctx context.Context, rawURL string) (*post.Post, error) {
	id, err := videoID(rawURL)
	if err != nil {
		return nil, err
	}
	video, err := p.yt.GetVideoContext(ctx, "https://www.youtube.com/watch?v="+id)
	if err != nil {
		return nil, classify(err)
	}

	format := pickFormat(video.Formats)
	if format == nil {
		return nil, apperr.NewResolution(string(post.PlatformYouTube), apperr.ReasonParse, provider.ErrNoPlayableMedia)
	}
	streamURL, err := p.yt.GetStreamURLContext(ctx, video, format)
	if err != nil {
		return nil, classify(err)
	}

	author := video.Author
	if author == "" {
		author = post.UnknownAuthor
	}
	item := post.MediaItem{
		Kind:            post.KindVideo,
		URL:             streamURL,
		DurationSeconds: post.Seconds(video.Duration.Seconds()),
	}
	if n := len(video.Thumbnails); n > 0 {
		item.ThumbnailURL = video.Thumbnails[n-1].URL
	}

	out := &post.Post{
		ID:          video.ID,
		Platform:    post.PlatformYouTube,
		SourceURL:   "https://www.youtube.com/shorts/" + video.ID,
		Author:      author,
		TextContent: video.Title,
		MediaItems:  []post.MediaItem{item},
		CapturedAt:  p.now().UTC(),
	}
	if out.ID == "" {
		out.ID = id
		out.SourceURL = "https://www.youtube.com/shorts/" + id
	}
	if !video.PublishDate.IsZero() {
		out.CapturedAt = video.PublishDate.UTC()
	}
	return out, nil
}

// pickFormat: mp4 со звуком, самый высокий не выше MaxHeight;
// если такого нет — любой формат со звуком.
func pickFormat(formats youtube.FormatList) *youtube.Format {
	withAudio := formats.WithAudioChannels()
	var best *youtube.Format
	for i := range withAudio {
		f := &withAudio[i]
		if !strings.HasPrefix(f.MimeType, "video/mp4") || f.Height > MaxHeight {
			continue
		}
		if best == nil || f.Height > best.Height {
			best = f
		}
	}
	if best == nil && len(withAudio) > 0 {
		best = &withAudio[0]
	}
	return best
}

func classify(err error) error {
	switch {
	case errors.Is(err, youtube.ErrVideoPrivate), errors.Is(err, youtube.ErrLoginRequired):
		return apperr.NewResolution(string(post.PlatformYouTube), apperr.ReasonForbidden, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperr.NewResolution(string(post.PlatformYouTube), apperr.ReasonNetwork, err)
	case strings.Contains(strings.ToLower(err.Error()), "unavailable"):
		return apperr.NewResolution(string(post.PlatformYouTube), apperr.ReasonNotFound, err)
	default:
		return apperr.NewResolution(string(post.PlatformYouTube), apperr.ReasonNetwork, fmt.Errorf("youtube: %w", err))
	}
}

// videoID достаёт ID из ссылок вида:
//
//	https://www.youtube.com/shorts/{id}
//	https://www.youtube.com/watch?v={id}
//	https://www.youtube.com/(v|embed|live)/{id}
//	https://youtu.be/{id}
func videoID(rawURL string) (string, error) {
	u, err := link.Parse(rawURL)
	if err != nil {
		return "", err
	}
	var id string
	switch link.Hostname(u) {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	default:
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		switch {
		case u.Path == "/watch":
			id = u.Query().Get("v")
		case len(parts) >= 2 && (parts[0] == "shorts" || parts[0] == "v" || parts[0] == "embed" || parts[0] == "live"):
			id = parts[1]
		}
	}
	if !validID(id) {
		return "", ErrNoVideoID
	}
	return id, nil
}

func validID(id string) bool {
	if len(id) != 11 {
		return false
	}
	for _, r := range id {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}
