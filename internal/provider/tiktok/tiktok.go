// Package tiktok — видео и фото-карусели TikTok через tikwm-совместимые API.
package tiktok

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"linksave/internal/apperr"
	"linksave/internal/link"
	"linksave/internal/post"
	"linksave/internal/provider"
)

var reVideo = regexp.MustCompile(`^/@([^/]+)/(?:video|photo)/(\d+)`)

var videoSchema = provider.Schema{
	"id":       {Paths: []string{"data.id", "data.aweme_id", "aweme_id"}, Required: true},
	"author":   {Paths: []string{"data.author.unique_id", "data.author.nickname", "author.unique_id"}, Default: post.UnknownAuthor},
	"title":    {Paths: []string{"data.title", "data.desc", "desc"}},
	"play":     {Paths: []string{"data.hdplay", "data.play", "data.video.play_addr.url_list.0"}},
	"cover":    {Paths: []string{"data.cover", "data.origin_cover", "data.video.cover"}},
	"duration": {Paths: []string{"data.duration", "data.video.duration"}},
	"images":   {Paths: []string{"data.images", "data.image_post_info.images"}},
	"created":  {Paths: []string{"data.create_time", "create_time"}},
}

var (
	likePaths    = []string{"data.digg_count", "data.statistics.digg_count"}
	sharePaths   = []string{"data.share_count", "data.statistics.share_count"}
	commentPaths = []string{"data.comment_count", "data.statistics.comment_count"}
)

type Provider struct {
	client *provider.Client
	chain  provider.Chain
	now    func() time.Time
}

// New — apis: базовые URL tikwm-совместимых API, принимающих ?url=.
func New(client *provider.Client, apis []string, log *zap.Logger) *Provider {
	p := &Provider{client: client.For(string(post.PlatformTikTok)), now: time.Now}
	p.chain = provider.Chain{Platform: post.PlatformTikTok, Log: log}
	for _, base := range apis {
		p.chain.APIs = append(p.chain.APIs, provider.API{Name: base, Fetch: p.fetchFrom(base)})
	}
	return p
}

func (p *Provider) Platform() post.Platform { return post.PlatformTikTok }

func (p *Provider) CanHandle(rawURL string) bool {
	return link.Matches(rawURL, post.PlatformTikTok)
}

func (p *Provider) Resolve(ctx context.Context, rawURL string) (*post.Post, error) {
	return p.chain.Resolve(ctx, rawURL)
}

// Canonicalize меняет хост на tnktok, сохраняя путь. Короткие ссылки vm./vt. остаются короткими.
func (p *Provider) Canonicalize(rawURL string) string {
	u, err := link.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	switch host := link.Hostname(u); host {
	case "vm.tiktok.com", "vt.tiktok.com":
		return "https://" + strings.TrimSuffix(host, "tiktok.com") + "tnktok.com" + strings.TrimRight(u.Path, "/") + "/"
	}
	if m := reVideo.FindStringSubmatch(u.Path); len(m) == 3 {
		return fmt.Sprintf("https://www.tnktok.com/@%s/video/%s", m[1], m[2])
	}
	return "https://www.tnktok.com" + u.Path
}

func (p *Provider) fetchFrom(base string) provider.FetchFunc {
	return func(ctx context.Context, rawURL string) (*post.Post, error) {
		q := url.Values{}
		q.Set("url", rawURL)
		q.Set("hd", "1")
		endpoint := base
		if strings.Contains(endpoint, "?") {
			endpoint += "&" + q.Encode()
		} else {
			endpoint += "?" + q.Encode()
		}

		var doc map[string]any
		if err := p.client.GetJSON(ctx, endpoint, nil, &doc); err != nil {
			return nil, err
		}
		if code := provider.FirstString(doc, "code"); code != "" && code != "0" {
			reason := apperr.ReasonParse
			msg := strings.ToLower(provider.FirstString(doc, "msg"))
			switch {
			case strings.Contains(msg, "limit"):
				reason = apperr.ReasonRateLimited
			case strings.Contains(msg, "not found"), strings.Contains(msg, "deleted"), strings.Contains(msg, "private"):
				reason = apperr.ReasonNotFound
			}
			return nil, apperr.NewResolution(string(post.PlatformTikTok), reason, fmt.Errorf("api code %s: %s", code, msg))
		}
		return p.parse(doc, base)
	}
}

func (p *Provider) parse(doc map[string]any, base string) (*post.Post, error) {
	v, err := videoSchema.Apply(doc)
	if err != nil {
		return nil, apperr.NewResolution(string(post.PlatformTikTok), apperr.ReasonParse, err)
	}

	out := &post.Post{
		ID:          v.String("id"),
		Platform:    post.PlatformTikTok,
		Author:      v.String("author"),
		TextContent: v.String("title"),
		Engagement:  provider.Counts(doc, likePaths, sharePaths, commentPaths),
		CapturedAt:  p.now().UTC(),
	}
	out.SourceURL = fmt.Sprintf("https://www.tiktok.com/@%s/video/%s", out.Author, out.ID)
	if t, ok := v.Time("created"); ok {
		out.CapturedAt = t
	}

	// Карусель фото: видео-дорожка у неё — только музыка, важны картинки.
	if images := v.List("images"); len(images) > 0 {
		for _, img := range images {
			u := provider.AbsoluteURL(base, provider.FirstString(img, "url", "display_image.url_list.0", ""))
			if u == "" {
				continue
			}
			out.MediaItems = append(out.MediaItems, post.MediaItem{Kind: post.KindImage, URL: u})
		}
		if len(out.MediaItems) == 0 {
			return nil, apperr.NewResolution(string(post.PlatformTikTok), apperr.ReasonParse, provider.ErrNoPlayableMedia)
		}
		return out, nil
	}

	play := provider.AbsoluteURL(base, v.String("play"))
	if play == "" {
		return nil, apperr.NewResolution(string(post.PlatformTikTok), apperr.ReasonParse, provider.ErrNoPlayableMedia)
	}
	item := post.MediaItem{Kind: post.KindVideo, URL: play, ThumbnailURL: provider.AbsoluteURL(base, v.String("cover"))}
	if d, ok := v.Float("duration"); ok {
		item.DurationSeconds = post.Seconds(d)
	}
	out.MediaItems = []post.MediaItem{item}
	return out, nil
}
