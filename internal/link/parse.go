package link

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"linksave/internal/post"
)

var (
	ErrNotURL          = errors.New("not a valid url")
	ErrUnknownPlatform = errors.New("unknown platform")
)

// Точные имена хостов по платформам, включая www. и мобильные поддомены.
// Подстроки не допускаются: nottwitter.com не должен совпасть с twitter.com.
var platformHosts = map[string]post.Platform{
	"twitter.com":        post.PlatformTwitter,
	"www.twitter.com":    post.PlatformTwitter,
	"mobile.twitter.com": post.PlatformTwitter,
	"x.com":              post.PlatformTwitter,
	"www.x.com":          post.PlatformTwitter,
	"mobile.x.com":       post.PlatformTwitter,
	"fxtwitter.com":      post.PlatformTwitter,
	"vxtwitter.com":      post.PlatformTwitter,
	"fixupx.com":         post.PlatformTwitter,

	"tiktok.com":     post.PlatformTikTok,
	"www.tiktok.com": post.PlatformTikTok,
	"m.tiktok.com":   post.PlatformTikTok,
	"vm.tiktok.com":  post.PlatformTikTok,
	"vt.tiktok.com":  post.PlatformTikTok,

	"instagram.com":     post.PlatformInstagram,
	"www.instagram.com": post.PlatformInstagram,
	"m.instagram.com":   post.PlatformInstagram,
	"ddinstagram.com":   post.PlatformInstagram,
	"kkinstagram.com":   post.PlatformInstagram,

	"bsky.app":         post.PlatformBluesky,
	"www.bsky.app":     post.PlatformBluesky,
	"staging.bsky.app": post.PlatformBluesky,

	"youtube.com":     post.PlatformYouTube,
	"www.youtube.com": post.PlatformYouTube,
	"m.youtube.com":   post.PlatformYouTube,
	"youtu.be":        post.PlatformYouTube,
}

// Домены, которые yt-dlp обычно поддерживает. Совпадение — точное или по границе метки.
var downloadableDomains = []string{
	"youtube.com", "youtu.be", "vimeo.com", "dailymotion.com",
	"reddit.com", "redd.it", "twitch.tv", "streamable.com",
	"soundcloud.com", "bandcamp.com", "facebook.com", "fb.watch",
	"vk.com", "vkvideo.ru", "ok.ru", "rutube.ru", "dzen.ru",
	"bilibili.com", "nicovideo.jp", "coub.com", "imgur.com",
	"tumblr.com", "pinterest.com", "pin.it", "9gag.com",
	"threads.net", "linkedin.com", "twitter.com", "x.com",
	"tiktok.com", "instagram.com", "bsky.app", "rumble.com",
	"odysee.com", "kick.com",
}

// Параметры отслеживания, которые выкидываются при нормализации.
var trackingParams = map[string]struct{}{
	"fbclid": {}, "gclid": {}, "dclid": {}, "msclkid": {}, "mc_eid": {},
	"igshid": {}, "igsh": {}, "si": {}, "s": {}, "t": {}, "ref": {},
	"ref_src": {}, "ref_url": {}, "feature": {}, "is_from_webapp": {},
	"sender_device": {}, "sender_web_id": {}, "_r": {}, "_t": {},
	"mibextid": {}, "share_id": {}, "utm_id": {},
}

var reURL = regexp.MustCompile(`https?://[^\s<>"'` + "`" + `]+`)

// Parse разбирает строку как http(s) URL.
func Parse(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrNotURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, ErrNotURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ErrNotURL
	}
	return u, nil
}

// Hostname — имя хоста в нижнем регистре без порта и завершающей точки.
func Hostname(u *url.URL) string {
	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}

// Classify возвращает платформу ссылки. Некорректный URL — просто «не распознано».
func Classify(raw string) (post.Platform, bool) {
	u, err := Parse(raw)
	if err != nil {
		return "", false
	}
	p, ok := platformHosts[Hostname(u)]
	return p, ok
}

// Matches — относится ли ссылка к платформе p. Используется провайдерами в CanHandle.
func Matches(raw string, p post.Platform) bool {
	got, ok := Classify(raw)
	return ok && got == p
}

// IsLikelyDownloadable — подсказка, что yt-dlp знает этот домен.
// Не ограничивает попытку универсальной загрузки.
func IsLikelyDownloadable(raw string) bool {
	u, err := Parse(raw)
	if err != nil {
		return false
	}
	return HostInList(Hostname(u), downloadableDomains)
}

// HostInList — host совпадает с доменом списка или является его поддоменом.
func HostInList(host string, domains []string) bool {
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// ExtractURLs находит http(s)-ссылки в тексте и убирает точные дубликаты,
// сохраняя порядок первого появления.
func ExtractURLs(text string) []string {
	found := reURL.FindAllString(text, -1)
	out := make([]string, 0, len(found))
	seen := make(map[string]struct{}, len(found))
	for _, u := range found {
		u = strings.TrimRight(u, ".,;:!?)]}>»")
		if _, err := Parse(u); err != nil {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// Clean убирает параметры отслеживания и фрагмент, сортирует оставшиеся параметры.
// На некорректном входе возвращает строку без пробелов по краям.
func Clean(raw string) string {
	u, err := Parse(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for k := range q {
		lk := strings.ToLower(k)
		if _, drop := trackingParams[lk]; drop || strings.HasPrefix(lk, "utm_") {
			q.Del(k)
		}
	}
	// Encode сортирует ключи, порядок параметров в исходной ссылке не важен.
	u.RawQuery = q.Encode()
	return u.String()
}
