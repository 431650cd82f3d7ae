package resolver

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"linksave/internal/download"
	"linksave/internal/post"
)

const (
	// CaptionLimit — лимит подписи к медиа в Telegram.
	CaptionLimit = 1024
	// TextLimit — лимит текстового сообщения.
	TextLimit   = 4096
	parentLimit = 200
)

// Caption собирает подпись: платформа и автор, текст, цитата, счётчики, ссылка.
// Режется только текст поста, остальные части сохраняются.
func Caption(p *post.Post, link string) string {
	header := p.Platform.Label()
	if p.Author != "" && p.Author != post.UnknownAuthor {
		header += " · " + p.Author
	}

	var tail []string
	if p.ParentPost != nil {
		parent := truncate(strings.TrimSpace(p.ParentPost.TextContent), parentLimit)
		tail = append(tail, "↩️ "+p.ParentPost.Author+": "+parent)
	}
	if stats := engagement(p.Engagement); stats != "" {
		tail = append(tail, stats)
	}
	if link != "" {
		tail = append(tail, "🔗 "+link)
	}
	return assemble(header, strings.TrimSpace(p.TextContent), tail, CaptionLimit)
}

// ArtifactCaption — подпись для файла универсального загрузчика.
func ArtifactCaption(a *download.Artifact, platform post.Platform, link string) string {
	header := platform.Label()
	if a.Uploader != "" {
		header += " · " + a.Uploader
	}
	var tail []string
	if link != "" {
		tail = append(tail, "🔗 "+link)
	}
	return assemble(header, strings.TrimSpace(a.Title), tail, CaptionLimit)
}

// Degraded — текст вместо медиа, которое не удалось отправить.
func Degraded(caption string) string {
	return truncate("⚠️ Не удалось отправить медиа\n\n"+caption, TextLimit)
}

func assemble(header, body string, tail []string, limit int) string {
	fixed := header
	if len(tail) > 0 {
		fixed += "\n\n" + strings.Join(tail, "\n")
	}
	if body == "" {
		return truncate(fixed, limit)
	}
	budget := limit - utf8.RuneCountInString(fixed) - 2
	if budget <= 0 {
		return truncate(fixed, limit)
	}
	body = truncate(body, budget)

	parts := []string{header, body}
	if len(tail) > 0 {
		parts = append(parts, strings.Join(tail, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

func engagement(e post.Engagement) string {
	var parts []string
	if e.Likes != nil {
		parts = append(parts, "❤️ "+compact(*e.Likes))
	}
	if e.Shares != nil {
		parts = append(parts, "🔁 "+compact(*e.Shares))
	}
	if e.Comments != nil {
		parts = append(parts, "💬 "+compact(*e.Comments))
	}
	return strings.Join(parts, "  ")
}

// compact: 950 → 950, 1234 → 1.2K, 3400000 → 3.4M.
func compact(n int64) string {
	var s string
	switch {
	case n < 1000:
		return fmt.Sprintf("%d", n)
	case n < 1_000_000:
		s = fmt.Sprintf("%.1fK", float64(n)/1e3)
	default:
		s = fmt.Sprintf("%.1fM", float64(n)/1e6)
	}
	return strings.Replace(s, ".0", "", 1)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit <= 1 {
		return string([]rune(s)[:limit])
	}
	return strings.TrimSpace(string([]rune(s)[:limit-1])) + "…"
}
