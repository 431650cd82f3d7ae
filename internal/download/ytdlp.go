package download

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// formatChain — от лучшего к худшему: видео со звуком в убывающем разрешении,
// потом только видео, потом что угодно. Неподходящий формат не обрывает загрузку.
var formatChain = []string{
	"bv*[height<=1080][ext=mp4]+ba[ext=m4a]/b[height<=1080][ext=mp4][acodec!=none]",
	"b[height<=720][vcodec!=none][acodec!=none]",
	"b[height<=480][vcodec!=none][acodec!=none]",
	"bv[height<=720]",
	"best",
}

// Metadata — нужная часть вывода yt-dlp -J.
type Metadata struct {
	ID             string     `json:"id"`
	Type           string     `json:"_type"`
	Title          string     `json:"title"`
	Uploader       string     `json:"uploader"`
	Extractor      string     `json:"extractor"`
	WebpageURL     string     `json:"webpage_url"`
	URL            string     `json:"url"`
	Duration       float64    `json:"duration"`
	Filesize       int64      `json:"filesize"`
	FilesizeApprox int64      `json:"filesize_approx"`
	AgeLimit       int        `json:"age_limit"`
	Thumbnail      string     `json:"thumbnail"`
	Entries        []Metadata `json:"entries"`
}

func (m *Metadata) IsPlaylist() bool {
	return m.Type == "playlist" || m.Type == "multi_video" || len(m.Entries) > 0
}

// EstimatedSize — точный размер, если известен, иначе приблизительный; 0 — нет данных.
func (m *Metadata) EstimatedSize() int64 {
	if m.Filesize > 0 {
		return m.Filesize
	}
	return m.FilesizeApprox
}

// Target — ссылка на элемент плейлиста.
func (m *Metadata) Target() string {
	if m.WebpageURL != "" {
		return m.WebpageURL
	}
	return m.URL
}

func (d *Downloader) baseArgs() []string {
	args := []string{"--no-warnings", "--no-progress"}
	if d.opts.Proxy != "" {
		args = append(args, "--proxy", d.opts.Proxy)
	}
	return args
}

// ExtractMetadata запускает yt-dlp -J без загрузки. Плейлист раскрывается плоско.
func (d *Downloader) ExtractMetadata(ctx context.Context, rawURL string) (*Metadata, error) {
	if d.opts.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.ProbeTimeout)
		defer cancel()
	}

	args := append(d.baseArgs(), "-J", "--flat-playlist", rawURL)
	out, err := d.run.Run(ctx, d.opts.YtDlpPath, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrYtDlp, err)
	}

	var meta Metadata
	if err := json.Unmarshal(bytes.TrimSpace(out), &meta); err != nil {
		return nil, fmt.Errorf("%w: metadata json: %v", ErrYtDlp, err)
	}
	d.log.Debug("metadata extracted",
		zap.String("url", rawURL),
		zap.String("title", meta.Title),
		zap.Float64("duration", meta.Duration),
		zap.Int64("estimated_size", meta.EstimatedSize()),
	)
	return &meta, nil
}

// fetch перебирает formatChain, пока yt-dlp не отдаст файл.
func (d *Downloader) fetch(ctx context.Context, rawURL, title string) (string, error) {
	base := d.files.NewBase(title)

	var errs error
	for _, format := range formatChain {
		args := append(d.baseArgs(),
			"--no-playlist",
			"-f", format,
			"--merge-output-format", "mp4",
			"-o", base+".%(ext)s",
			// Выводим итоговый путь к файлу после всех перемещений/мержей
			"--print", "after_move:filepath",
		)
		if d.opts.MaxBytes > 0 {
			args = append(args, "--max-filesize", strconv.FormatInt(d.opts.MaxBytes, 10))
		}
		args = append(args, rawURL)

		out, err := d.run.Run(ctx, d.opts.YtDlpPath, args...)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("format %q: %w", format, err))
			_ = d.files.Remove(base)
			continue
		}

		path := lastLine(out)
		if path == "" || !d.files.Exists(path) {
			// путь не напечатан или файл переехал — ищем по базовому имени
			path = findByBase(base)
		}
		if path == "" {
			errs = multierror.Append(errs, fmt.Errorf("format %q: %w", format, ErrVideoNotFound))
			continue
		}
		d.log.Debug("format accepted", zap.String("format", format), zap.String("path", path))
		return path, nil
	}
	return "", fmt.Errorf("%w: %v", ErrYtDlp, errs)
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// findByBase — первый готовый файл с базовым именем base (без .part и служебных).
func findByBase(base string) string {
	matches, err := filepath.Glob(base + ".*")
	if err != nil {
		return ""
	}
	for _, m := range matches {
		switch {
		case strings.HasSuffix(m, ".part"), strings.HasSuffix(m, ".ytdl"), strings.HasSuffix(m, ".json"):
			continue
		}
		return m
	}
	return ""
}
