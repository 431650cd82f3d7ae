// Package instagram — посты и reels Instagram через цепочку сторонних JSON-зеркал.
// Зеркала часто меняют формат, поэтому поля ищутся по нескольким путям.
package instagram

import (
	"context"
	"errors"
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

var ErrNoShortcode = errors.New("no shortcode in url")

var rePost = regexp.MustCompile(`^/(?:[^/]+/)?(p|reels?|tv)/([A-Za-z0-9_-]+)`)

var postSchema = provider.Schema{
	"id": {Paths: []string{
		"data.shortcode", "data.code", "shortcode", "code", "items.0.code", "id",
	}, Required: true},
	"author": {Paths: []string{
		"data.owner.username", "owner.username", "items.0.user.username", "author.username", "author", "username",
	}, Default: post.UnknownAuthor},
	"caption": {Paths: []string{
		"data.edge_media_to_caption.edges.0.node.text", "edge_media_to_caption.edges.0.node.text",
		"items.0.caption.text", "caption.text", "caption", "title", "description",
	}},
	"video": {Paths: []string{
		"data.video_url", "video_url", "items.0.video_versions.0.url", "video_versions.0.url", "video.url",
	}},
	"image": {Paths: []string{
		"data.display_url", "display_url", "items.0.image_versions2.candidates.0.url", "image_versions2.candidates.0.url", "thumbnail",
	}},
	"children": {Paths: []string{
		"data.edge_sidecar_to_children.edges", "edge_sidecar_to_children.edges", "items.0.carousel_media", "carousel_media", "media",
	}},
	"is_video": {Paths: []string{"data.is_video", "is_video", "items.0.media_type", "media_type"}},
	"duration": {Paths: []string{"data.video_duration", "video_duration", "items.0.video_duration"}},
	"created":  {Paths: []string{"data.taken_at_timestamp", "taken_at_timestamp", "items.0.taken_at", "taken_at"}},
	"status":   {Paths: []string{"status"}},
}

var childRules = provider.MediaRules{
	Kind:    []string{"node.__typename", "__typename", "type", "media_type"},
	URL:     []string{"node.video_url", "video_url", "video_versions.0.url", "url", "node.display_url", "display_url", "image_versions2.candidates.0.url"},
	Thumb:   []string{"node.display_url", "display_url", "thumbnail"},
	Seconds: []string{"node.video_duration", "video_duration", "duration"},
}

var (
	likePaths    = []string{"data.edge_media_preview_like.count", "items.0.like_count", "like_count", "likes"}
	commentPaths = []string{"data.edge_media_to_comment.count", "items.0.comment_count", "comment_count", "comments"}
)

type Provider struct {
	client *provider.Client
	chain  provider.Chain
	now    func() time.Time
}

// New — apis: эндпоинты, принимающие ссылку на пост в параметре ?url=.
func New(client *provider.Client, apis []string, log *zap.Logger) *Provider {
	p := &Provider{client: client.For(string(post.PlatformInstagram)), now: time.Now}
	p.chain = provider.Chain{Platform: post.PlatformInstagram, Log: log}
	for _, base := range apis {
		p.chain.APIs = append(p.chain.APIs, provider.API{Name: base, Fetch: p.fetchFrom(base)})
	}
	return p
}

func (p *Provider) Platform() post.Platform { return post.PlatformInstagram }

func (p *Provider) CanHandle(rawURL string) bool {
	return link.Matches(rawURL, post.PlatformInstagram)
}

func (p *Provider) Resolve(ctx context.Context, rawURL string) (*post.Post, error) {
	if _, _, err := shortcode(rawURL); err != nil {
		return nil, apperr.NewResolution(string(post.PlatformInstagram), apperr.ReasonParse, err)
	}
	return p.chain.Resolve(ctx, rawURL)
}

func (p *Provider) Canonicalize(rawURL string) string {
	kind, code, err := shortcode(rawURL)
	if err != nil {
		return rawURL
	}
	return fmt.Sprintf("https://www.kkinstagram.com/%s/%s/", kind, code)
}

func (p *Provider) fetchFrom(base string) provider.FetchFunc {
	return func(ctx context.Context, rawURL string) (*post.Post, error) {
		kind, code, err := shortcode(rawURL)
		if err != nil {
			return nil, err
		}
		// зеркалу отдаём ссылку без мусорных параметров
		clean := fmt.Sprintf("https://www.instagram.com/%s/%s/", kind, code)
		sep := "?"
		if strings.Contains(base, "?") {
			sep = "&"
		}
		endpoint := base + sep + "url=" + url.QueryEscape(clean)

		var doc map[string]any
		if err := p.client.GetJSON(ctx, endpoint, nil, &doc); err != nil {
			return nil, err
		}
		return p.parse(doc, code)
	}
}

func (p *Provider) parse(doc map[string]any, code string) (*post.Post, error) {
	v, err := postSchema.Apply(doc)
	if err != nil {
		return nil, apperr.NewResolution(string(post.PlatformInstagram), apperr.ReasonParse, err)
	}
	if status := strings.ToLower(v.String("status")); status == "fail" || status == "error" {
		return nil, apperr.NewResolution(string(post.PlatformInstagram), apperr.ReasonNotFound, fmt.Errorf("mirror status %q", status))
	}

	out := &post.Post{
		ID:          v.String("id"),
		Platform:    post.PlatformInstagram,
		SourceURL:   fmt.Sprintf("https://www.instagram.com/p/%s/", code),
		Author:      v.String("author"),
		TextContent: v.String("caption"),
		Engagement:  provider.Counts(doc, likePaths, nil, commentPaths),
		CapturedAt:  p.now().UTC(),
	}
	if t, ok := v.Time("created"); ok {
		out.CapturedAt = t
	}

	if children := v.List("children"); len(children) > 0 {
		out.MediaItems = provider.MediaList(children, childRules)
		if len(out.MediaItems) == 0 {
			return nil, apperr.NewResolution(string(post.PlatformInstagram), apperr.ReasonParse, provider.ErrNoPlayableMedia)
		}
		return out, nil
	}

	if video := v.String("video"); video != "" {
		item := post.MediaItem{Kind: post.KindVideo, URL: video, ThumbnailURL: v.String("image")}
		if d, ok := v.Float("duration"); ok {
			item.DurationSeconds = post.Seconds(d)
		}
		out.MediaItems = []post.MediaItem{item}
		return out, nil
	}

	// is_video без ссылки на видео — API вернул урезанный ответ, пробуем следующий
	if isVideo(v) {
		return nil, apperr.NewResolution(string(post.PlatformInstagram), apperr.ReasonParse, provider.ErrNoPlayableMedia)
	}
	if img := v.String("image"); img != "" {
		out.MediaItems = []post.MediaItem{{Kind: post.KindImage, URL: img}}
		return out, nil
	}
	return nil, apperr.NewResolution(string(post.PlatformInstagram), apperr.ReasonParse, provider.ErrNoPlayableMedia)
}

// isVideo: true/"true" или media_type == 2 в мобильном API.
func isVideo(v provider.Values) bool {
	if n, ok := v.Int("is_video"); ok {
		return n == 2
	}
	return v.String("is_video") == "true"
}

func shortcode(rawURL string) (kind, code string, err error) {
	u, err := link.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	m := rePost.FindStringSubmatch(u.Path)
	if len(m) != 3 {
		return "", "", ErrNoShortcode
	}
	kind = m[1]
	if kind == "reels" {
		kind = "reel"
	}
	return kind, m[2], nil
}
