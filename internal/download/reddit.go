package download

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"linksave/internal/link"
	"linksave/internal/provider"
)

const (
	redditPlatform = "reddit"
	redditBase     = "https://www.reddit.com"
)

var (
	ErrRedditNoVideo = errors.New("reddit post has no video")
	ErrRedditLink    = errors.New("not a reddit post link")
)

var redditHosts = map[string]struct{}{
	"reddit.com":     {},
	"www.reddit.com": {},
	"old.reddit.com": {},
	"new.reddit.com": {},
	"np.reddit.com":  {},
	"m.reddit.com":   {},
}

var reDash = regexp.MustCompile(`DASH_[A-Za-z0-9]+\.mp4`)

// audioNames — имена аудиодорожки v.redd.it, от новых к старым.
var audioNames = []string{"DASH_AUDIO_128.mp4", "DASH_AUDIO_64.mp4", "DASH_audio.mp4"}

var redditSchema = provider.Schema{
	"title":  {Paths: []string{"title"}},
	"author": {Paths: []string{"author"}},
	"nsfw":   {Paths: []string{"over_18"}},
	"video": {Paths: []string{
		"secure_media.reddit_video.fallback_url",
		"media.reddit_video.fallback_url",
		"crosspost_parent_list.0.secure_media.reddit_video.fallback_url",
		"preview.reddit_video_preview.fallback_url",
	}},
	"duration": {Paths: []string{
		"secure_media.reddit_video.duration",
		"media.reddit_video.duration",
		"crosspost_parent_list.0.secure_media.reddit_video.duration",
		"preview.reddit_video_preview.duration",
	}},
	"gif": {Paths: []string{"secure_media.reddit_video.is_gif", "media.reddit_video.is_gif"}},
}

func isReddit(rawURL string) bool {
	u, err := link.Parse(rawURL)
	if err != nil {
		return false
	}
	_, ok := redditHosts[link.Hostname(u)]
	return ok
}

// redditJSONURL — ссылка на пост + .json на хосте base.
func redditJSONURL(rawURL, base string) (string, error) {
	u, err := link.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if !strings.Contains(u.Path, "/comments/") {
		return "", ErrRedditLink
	}
	b, err := link.Parse(base)
	if err != nil {
		return "", err
	}
	u.Scheme, u.Host = b.Scheme, b.Host
	u.Path = strings.TrimSuffix(u.Path, "/") + ".json"
	u.RawQuery = "raw_json=1"
	u.Fragment = ""
	return u.String(), nil
}

// reddit — лёгкий путь через JSON-API: видео и звук у v.redd.it лежат отдельно,
// поэтому качаем обе дорожки и склеиваем.
func (d *Downloader) reddit(ctx context.Context, rawURL string) (*Artifact, error) {
	if d.client == nil {
		return nil, ErrRedditLink
	}
	endpoint, err := redditJSONURL(rawURL, d.redditBase)
	if err != nil {
		return nil, err
	}

	var doc []any
	if err := d.client.GetJSON(ctx, endpoint, nil, &doc); err != nil {
		return nil, err
	}
	node, ok := provider.Lookup(doc, "0.data.children.0.data")
	if !ok {
		return nil, fmt.Errorf("%w: no post in listing", ErrRedditNoVideo)
	}
	v, err := redditSchema.Apply(node)
	if err != nil {
		return nil, err
	}

	videoURL := v.String("video")
	if videoURL == "" {
		return nil, ErrRedditNoVideo
	}
	title, author := v.String("title"), v.String("author")
	nsfw := v.String("nsfw") == "true"
	duration, _ := v.Float("duration")

	if err := d.checkNSFW(title, author, nsfw); err != nil {
		return nil, err
	}
	if err := d.checkLimits(duration, 0); err != nil {
		return nil, err
	}

	path, err := d.files.Fetch(ctx, videoURL, title, d.opts.MaxBytes)
	if err != nil {
		return nil, err
	}
	if v.String("gif") != "true" {
		path = d.withAudio(ctx, path, videoURL, title)
	}

	size, err := d.files.Validate(path, d.opts.MaxBytes)
	if err != nil {
		_ = d.files.Remove(path)
		return nil, err
	}

	d.log.Info("reddit video downloaded",
		zap.String("url", rawURL),
		zap.String("path", path),
		zap.Int64("size", size),
	)
	return &Artifact{
		LocalPath:       path,
		SizeBytes:       size,
		DurationSeconds: duration,
		Title:           title,
		Uploader:        author,
		Extractor:       redditPlatform,
		SourceURL:       rawURL,
	}, nil
}

// withAudio пробует скачать звук и склеить; при любой неудаче остаётся видео без звука.
func (d *Downloader) withAudio(ctx context.Context, videoPath, videoURL, title string) string {
	if d.merger == nil || !reDash.MatchString(videoURL) {
		return videoPath
	}
	for _, name := range audioNames {
		audioURL := reDash.ReplaceAllString(videoURL, name)
		audioPath, err := d.files.Fetch(ctx, audioURL, title+" audio", d.opts.MaxBytes)
		if err != nil {
			continue
		}
		merged, err := d.merger.Merge(ctx, videoPath, audioPath)
		_ = d.files.Remove(audioPath)
		if err != nil {
			d.log.Warn("reddit audio merge failed", zap.Error(err))
			return videoPath
		}
		return merged
	}
	return videoPath
}
