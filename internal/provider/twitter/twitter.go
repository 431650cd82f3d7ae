// Package twitter — посты X/Twitter через fxtwitter-совместимые API.
package twitter

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

var ErrNoStatusID = errors.New("no status id in url")

var reStatus = regexp.MustCompile(`^/([^/]+)/status(?:es)?/(\d+)`)

// Одна схема покрывает оба формата ответа: fxtwitter (всё внутри "tweet")
// и vxtwitter (плоский объект).
var tweetSchema = provider.Schema{
	"id":      {Paths: []string{"tweet.id", "tweetID", "id"}, Required: true},
	"url":     {Paths: []string{"tweet.url", "tweetURL", "url"}},
	"author":  {Paths: []string{"tweet.author.screen_name", "user_screen_name", "tweet.author.name", "user_name"}, Default: post.UnknownAuthor},
	"text":    {Paths: []string{"tweet.text", "text", "tweet.raw_text.text"}},
	"created": {Paths: []string{"tweet.created_timestamp", "date_epoch", "tweet.created_at", "date"}},
	"media":   {Paths: []string{"tweet.media.all", "media_extended", "tweet.media.videos", "tweet.media.photos"}},
	"quote":   {Paths: []string{"tweet.quote", "qrt"}},
}

var mediaRules = provider.MediaRules{
	Kind:    []string{"type"},
	URL:     []string{"url"},
	Thumb:   []string{"thumbnail_url"},
	Seconds: []string{"duration"},
	Millis:  []string{"duration_millis"},
}

var (
	likePaths    = []string{"tweet.likes", "likes"}
	sharePaths   = []string{"tweet.retweets", "retweets"}
	commentPaths = []string{"tweet.replies", "replies"}
)

type Provider struct {
	client *provider.Client
	chain  provider.Chain
	now    func() time.Time
}

// New — apis в порядке предпочтения, например https://api.fxtwitter.com.
func New(client *provider.Client, apis []string, log *zap.Logger) *Provider {
	p := &Provider{client: client.For(string(post.PlatformTwitter)), now: time.Now}
	chain := provider.Chain{Platform: post.PlatformTwitter, Log: log}
	for _, base := range apis {
		chain.APIs = append(chain.APIs, provider.API{Name: base, Fetch: p.fetchFrom(base)})
	}
	p.chain = chain
	return p
}

func (p *Provider) Platform() post.Platform { return post.PlatformTwitter }

func (p *Provider) CanHandle(rawURL string) bool {
	return link.Matches(rawURL, post.PlatformTwitter)
}

func (p *Provider) Resolve(ctx context.Context, rawURL string) (*post.Post, error) {
	if _, _, err := statusID(rawURL); err != nil {
		return nil, apperr.NewResolution(string(post.PlatformTwitter), apperr.ReasonParse, err)
	}
	return p.chain.Resolve(ctx, rawURL)
}

func (p *Provider) Canonicalize(rawURL string) string {
	user, id, err := statusID(rawURL)
	if err != nil {
		return rawURL
	}
	return fmt.Sprintf("https://fxtwitter.com/%s/status/%s", user, id)
}

func (p *Provider) fetchFrom(base string) provider.FetchFunc {
	return func(ctx context.Context, rawURL string) (*post.Post, error) {
		user, id, err := statusID(rawURL)
		if err != nil {
			return nil, err
		}
		endpoint := strings.TrimRight(base, "/") + "/" + url.PathEscape(user) + "/status/" + id

		var doc map[string]any
		if err := p.client.GetJSON(ctx, endpoint, nil, &doc); err != nil {
			return nil, err
		}
		if code := provider.FirstString(doc, "code"); code != "" && code != "200" {
			return nil, apperr.NewResolution(string(post.PlatformTwitter), apperr.ReasonNotFound,
				fmt.Errorf("api code %s: %s", code, provider.FirstString(doc, "message")))
		}
		return p.parse(doc)
	}
}

func (p *Provider) parse(doc any) (*post.Post, error) {
	v, err := tweetSchema.Apply(doc)
	if err != nil {
		return nil, apperr.NewResolution(string(post.PlatformTwitter), apperr.ReasonParse, err)
	}

	out := &post.Post{
		ID:          v.String("id"),
		Platform:    post.PlatformTwitter,
		SourceURL:   v.String("url"),
		Author:      v.String("author"),
		TextContent: v.String("text"),
		MediaItems:  provider.MediaList(v.List("media"), mediaRules),
		Engagement:  provider.Counts(doc, likePaths, sharePaths, commentPaths),
		CapturedAt:  p.now().UTC(),
	}
	if raw := v.List("media"); len(raw) > 0 && len(out.MediaItems) == 0 {
		return nil, apperr.NewResolution(string(post.PlatformTwitter), apperr.ReasonParse, provider.ErrNoPlayableMedia)
	}
	if t, ok := v.Time("created"); ok {
		out.CapturedAt = t
	}
	if out.SourceURL == "" {
		out.SourceURL = fmt.Sprintf("https://x.com/%s/status/%s", out.Author, out.ID)
	}

	if q := v.Raw("quote"); q != nil {
		// у fxtwitter цитата — тот же объект без обёртки "tweet", у vxtwitter — плоский объект
		parent, err := p.parse(map[string]any{"tweet": q})
		if err != nil {
			parent, err = p.parse(q)
		}
		if err == nil {
			out.WithParent(parent)
		}
	}
	return out, nil
}

func statusID(rawURL string) (user, id string, err error) {
	u, err := link.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	m := reStatus.FindStringSubmatch(u.Path)
	if len(m) != 3 {
		return "", "", ErrNoStatusID
	}
	return m[1], m[2], nil
}
