package provider

import (
	"net/url"
	"strings"

	"linksave/internal/post"
)

// KindOf сводит названия типов медиа разных API к post.MediaKind.
// Числа — media_type мобильного API Instagram (1 фото, 2 видео).
func KindOf(s string) (post.MediaKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "photo", "image", "img", "graphimage", "jpg", "jpeg", "png", "webp", "1":
		return post.KindImage, true
	case "video", "graphvideo", "mp4", "clip", "reel", "2":
		return post.KindVideo, true
	case "gif", "animated_gif", "animatedimage", "animated_image":
		return post.KindAnimatedImage, true
	}
	return "", false
}

// MediaRules — пути полей внутри одного элемента списка медиа.
type MediaRules struct {
	Kind     []string
	URL      []string
	Thumb    []string
	Seconds  []string
	Millis   []string
	Fallback post.MediaKind // если тип не указан
}

// MediaList разбирает список медиа. Элементы без URL пропускаются,
// элементы неизвестного типа получают Fallback.
func MediaList(items []any, r MediaRules) []post.MediaItem {
	out := make([]post.MediaItem, 0, len(items))
	for _, it := range items {
		u := FirstString(it, r.URL...)
		if u == "" {
			continue
		}
		kind, ok := KindOf(FirstString(it, r.Kind...))
		if !ok {
			kind = r.Fallback
			if kind == "" {
				kind = GuessKind(u)
			}
		}
		m := post.MediaItem{Kind: kind, URL: u, ThumbnailURL: FirstString(it, r.Thumb...)}
		if kind != post.KindImage {
			if v, ok := First(it, r.Seconds...); ok {
				if f, ok := asFloat(v); ok {
					m.DurationSeconds = post.Seconds(f)
				}
			} else if v, ok := First(it, r.Millis...); ok {
				if f, ok := asFloat(v); ok {
					m.DurationSeconds = post.Seconds(f / 1000)
				}
			}
		}
		out = append(out, m)
	}
	return out
}

// GuessKind — тип по расширению в пути URL.
func GuessKind(rawURL string) post.MediaKind {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	p = strings.ToLower(p)
	switch {
	case strings.HasSuffix(p, ".mp4"), strings.HasSuffix(p, ".mov"), strings.HasSuffix(p, ".webm"), strings.HasSuffix(p, ".m3u8"):
		return post.KindVideo
	case strings.HasSuffix(p, ".gif"):
		return post.KindAnimatedImage
	default:
		return post.KindImage
	}
}

// Counts собирает Engagement по путям; отсутствующие счётчики остаются nil.
func Counts(doc any, likes, shares, comments []string) post.Engagement {
	get := func(paths []string) *int64 {
		v, ok := First(doc, paths...)
		if !ok {
			return nil
		}
		n, ok := asInt(v)
		if !ok {
			return nil
		}
		return post.Count(n)
	}
	return post.Engagement{Likes: get(likes), Shares: get(shares), Comments: get(comments)}
}

// AbsoluteURL дополняет относительный путь схемой и хостом base.
func AbsoluteURL(base, ref string) string {
	if ref == "" || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
