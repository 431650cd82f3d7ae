// Package bluesky — посты Bluesky через публичный AppView (AT Protocol XRPC).
package bluesky

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

const DefaultAppView = "https://public.api.bsky.app"

var ErrNoPostPath = errors.New("no profile/post path in url")

var rePost = regexp.MustCompile(`^/profile/([^/]+)/post/([A-Za-z0-9]+)`)

var postSchema = provider.Schema{
	"uri":     {Paths: []string{"uri"}, Required: true},
	"handle":  {Paths: []string{"author.handle", "author.displayName", "author.did"}, Default: post.UnknownAuthor},
	"text":    {Paths: []string{"record.text", "value.text"}},
	"created": {Paths: []string{"record.createdAt", "indexedAt"}},
	"embed":   {Paths: []string{"embed.media", "embed", "embeds.0.media", "embeds.0"}},
}

type Provider struct {
	client  *provider.Client
	appView string
	chain   provider.Chain
	now     func() time.Time
}

func New(client *provider.Client, appView string, log *zap.Logger) *Provider {
	if appView == "" {
		appView = DefaultAppView
	}
	p := &Provider{
		client:  client.For(string(post.PlatformBluesky)),
		appView: strings.TrimRight(appView, "/"),
		now:     time.Now,
	}
	p.chain = provider.Chain{
		Platform: post.PlatformBluesky,
		APIs:     []provider.API{{Name: p.appView, Fetch: p.fetch}},
		Log:      log,
	}
	return p
}

func (p *Provider) Platform() post.Platform { return post.PlatformBluesky }

func (p *Provider) CanHandle(rawURL string) bool {
	return link.Matches(rawURL, post.PlatformBluesky)
}

func (p *Provider) Resolve(ctx context.Context, rawURL string) (*post.Post, error) {
	if _, _, err := postPath(rawURL); err != nil {
		return nil, apperr.NewResolution(string(post.PlatformBluesky), apperr.ReasonParse, err)
	}
	return p.chain.Resolve(ctx, rawURL)
}

func (p *Provider) Canonicalize(rawURL string) string {
	actor, rkey, err := postPath(rawURL)
	if err != nil {
		return rawURL
	}
	return fmt.Sprintf("https://bskx.app/profile/%s/post/%s", actor, rkey)
}

func (p *Provider) fetch(ctx context.Context, rawURL string) (*post.Post, error) {
	actor, rkey, err := postPath(rawURL)
	if err != nil {
		return nil, err
	}
	did, err := p.resolveHandle(ctx, actor)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("uri", fmt.Sprintf("at://%s/app.bsky.feed.post/%s", did, rkey))
	q.Set("depth", "0")
	q.Set("parentHeight", "1")

	var doc map[string]any
	if err := p.client.GetJSON(ctx, p.appView+"/xrpc/app.bsky.feed.getPostThread?"+q.Encode(), nil, &doc); err != nil {
		return nil, err
	}

	thread, _ := provider.Lookup(doc, "thread")
	switch provider.FirstString(thread, "$type") {
	case "app.bsky.feed.defs#notFoundPost":
		return nil, apperr.NewResolution(string(post.PlatformBluesky), apperr.ReasonNotFound, errors.New("post not found"))
	case "app.bsky.feed.defs#blockedPost":
		return nil, apperr.NewResolution(string(post.PlatformBluesky), apperr.ReasonForbidden, errors.New("post blocked"))
	}

	node, ok := provider.Lookup(thread, "post")
	if !ok {
		return nil, apperr.NewResolution(string(post.PlatformBluesky), apperr.ReasonParse, errors.New("thread has no post"))
	}
	out, err := p.parse(node)
	if err != nil {
		return nil, err
	}
	if parentNode, ok := provider.Lookup(thread, "parent.post"); ok {
		if parent, err := p.parse(parentNode); err == nil {
			out.WithParent(parent)
		}
	}
	return out, nil
}

// resolveHandle переводит handle в DID; DID возвращается как есть.
func (p *Provider) resolveHandle(ctx context.Context, actor string) (string, error) {
	if strings.HasPrefix(actor, "did:") {
		return actor, nil
	}
	var resp struct {
		DID string `json:"did"`
	}
	endpoint := p.appView + "/xrpc/com.atproto.identity.resolveHandle?handle=" + url.QueryEscape(actor)
	if err := p.client.GetJSON(ctx, endpoint, nil, &resp); err != nil {
		return "", err
	}
	if resp.DID == "" {
		return "", apperr.NewResolution(string(post.PlatformBluesky), apperr.ReasonNotFound, fmt.Errorf("handle %q not resolved", actor))
	}
	return resp.DID, nil
}

func (p *Provider) parse(node any) (*post.Post, error) {
	v, err := postSchema.Apply(node)
	if err != nil {
		return nil, apperr.NewResolution(string(post.PlatformBluesky), apperr.ReasonParse, err)
	}
	uri := v.String("uri")
	rkey := uri[strings.LastIndex(uri, "/")+1:]
	handle := v.String("handle")

	out := &post.Post{
		ID:          rkey,
		Platform:    post.PlatformBluesky,
		SourceURL:   fmt.Sprintf("https://bsky.app/profile/%s/post/%s", handle, rkey),
		Author:      handle,
		TextContent: v.String("text"),
		Engagement: provider.Counts(node,
			[]string{"likeCount"}, []string{"repostCount"}, []string{"replyCount"}),
		CapturedAt: p.now().UTC(),
	}
	if t, ok := v.Time("created"); ok {
		out.CapturedAt = t
	}

	embed := v.Raw("embed")
	embedType := provider.FirstString(embed, "$type")
	switch {
	case strings.HasPrefix(embedType, "app.bsky.embed.images"):
		images, _ := provider.Lookup(embed, "images")
		list, _ := images.([]any)
		out.MediaItems = provider.MediaList(list, provider.MediaRules{
			URL:      []string{"fullsize", "thumb"},
			Thumb:    []string{"thumb"},
			Fallback: post.KindImage,
		})
		if len(out.MediaItems) == 0 {
			return nil, apperr.NewResolution(string(post.PlatformBluesky), apperr.ReasonParse, provider.ErrNoPlayableMedia)
		}
	case strings.HasPrefix(embedType, "app.bsky.embed.video"):
		playlist := provider.FirstString(embed, "playlist")
		if playlist == "" {
			return nil, apperr.NewResolution(string(post.PlatformBluesky), apperr.ReasonParse, provider.ErrNoPlayableMedia)
		}
		out.MediaItems = []post.MediaItem{{
			Kind:         post.KindVideo,
			URL:          playlist,
			ThumbnailURL: provider.FirstString(embed, "thumbnail"),
		}}
	case strings.HasPrefix(embedType, "app.bsky.embed.external"):
		if out.TextContent == "" {
			out.TextContent = provider.FirstString(embed, "external.title")
		}
	}

	// цитируемый пост: embed.record (record#view) или embed.record.record (recordWithMedia#view)
	if quoted, ok := provider.First(node, "embed.record.record", "embed.record"); ok && provider.FirstString(quoted, "uri") != "" {
		if parent, err := p.parse(quoted); err == nil {
			out.WithParent(parent)
		}
	}
	return out, nil
}

func postPath(rawURL string) (actor, rkey string, err error) {
	u, err := link.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	m := rePost.FindStringSubmatch(u.Path)
	if len(m) != 3 {
		return "", "", ErrNoPostPath
	}
	return m[1], m[2], nil
}
