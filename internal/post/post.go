// Package post — нормализованный результат разрешения ссылки.
package post

import "time"

// Platform — тег платформы.
type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
	PlatformBluesky   Platform = "bluesky"
	PlatformYouTube   Platform = "youtube"
	PlatformReddit    Platform = "reddit"
	// PlatformGeneric — результат универсального загрузчика.
	PlatformGeneric Platform = "generic"
)

// Label — название для подписи.
func (p Platform) Label() string {
	switch p {
	case PlatformTwitter:
		return "𝕏 Twitter"
	case PlatformTikTok:
		return "TikTok"
	case PlatformInstagram:
		return "Instagram"
	case PlatformBluesky:
		return "Bluesky"
	case PlatformYouTube:
		return "YouTube"
	case PlatformReddit:
		return "Reddit"
	default:
		return "Видео"
	}
}

type MediaKind string

const (
	KindImage         MediaKind = "image"
	KindVideo         MediaKind = "video"
	KindAnimatedImage MediaKind = "animated_image"
)

type MediaItem struct {
	Kind         MediaKind `json:"kind"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	// DurationSeconds задаётся только для video и animated_image.
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

// Engagement — счётчики; nil означает «нет данных».
type Engagement struct {
	Likes    *int64 `json:"likes,omitempty"`
	Shares   *int64 `json:"shares,omitempty"`
	Comments *int64 `json:"comments,omitempty"`
}

func (e Engagement) Empty() bool {
	return e.Likes == nil && e.Shares == nil && e.Comments == nil
}

const UnknownAuthor = "unknown"

// Post — пост платформы. Не сохраняется, собирается заново на каждый запрос.
// ParentPost — цитата или пост, на который ответили; глубина не больше одного уровня.
type Post struct {
	ID          string      `json:"id"`
	Platform    Platform    `json:"platform"`
	SourceURL   string      `json:"source_url"`
	Author      string      `json:"author"`
	TextContent string      `json:"text,omitempty"`
	MediaItems  []MediaItem `json:"media,omitempty"`
	CapturedAt  time.Time   `json:"captured_at"`
	Engagement  Engagement  `json:"engagement"`
	ParentPost  *Post       `json:"parent,omitempty"`
}

// Primary — первый медиа-элемент или nil для текстового поста.
func (p *Post) Primary() *MediaItem {
	if len(p.MediaItems) == 0 {
		return nil
	}
	return &p.MediaItems[0]
}

// HasVideo — есть ли среди медиа видео или анимация.
func (p *Post) HasVideo() bool {
	for _, m := range p.MediaItems {
		if m.Kind == KindVideo || m.Kind == KindAnimatedImage {
			return true
		}
	}
	return false
}

// WithParent привязывает родительский пост, обрезая его собственную цепочку,
// чтобы глубина оставалась в один уровень и циклов не было.
func (p *Post) WithParent(parent *Post) *Post {
	if parent == nil || parent == p || (parent.ID == p.ID && parent.Platform == p.Platform) {
		return p
	}
	cp := *parent
	cp.ParentPost = nil
	p.ParentPost = &cp
	return p
}

// Count — удобный конструктор для счётчиков Engagement.
func Count(n int64) *int64 {
	if n < 0 {
		return nil
	}
	return &n
}

func Seconds(f float64) *float64 {
	if f <= 0 {
		return nil
	}
	return &f
}
