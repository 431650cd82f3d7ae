package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"linksave/internal/apperr"
	"linksave/internal/post"
)

var (
	// ErrIncompletePost — API ответил, но пост собрать целиком нельзя.
	ErrIncompletePost = errors.New("incomplete post")
	// ErrNoPlayableMedia — пост с медиа, но ни одного пригодного URL.
	ErrNoPlayableMedia = errors.New("post has media but no playable url")
)

// FetchFunc — один сторонний API: URL → пост.
type FetchFunc func(ctx context.Context, rawURL string) (*post.Post, error)

// API — элемент упорядоченного списка равноценных API платформы.
type API struct {
	Name  string
	Fetch FetchFunc
}

// Chain перебирает API строго по порядку. Любая ошибка, включая HTML вместо JSON
// и неполный пост, означает «пробуем следующий». Ошибка возвращается только
// когда список исчерпан; в неё собраны ошибки всех попыток.
type Chain struct {
	Platform post.Platform
	APIs     []API
	Log      *zap.Logger
}

func (c Chain) Resolve(ctx context.Context, rawURL string) (*post.Post, error) {
	if len(c.APIs) == 0 {
		return nil, apperr.NewResolution(string(c.Platform), apperr.ReasonNetwork, errors.New("no apis configured"))
	}
	log := c.Log
	if log == nil {
		log = zap.NewNop()
	}

	var all error
	var reasons []apperr.Reason
	for _, api := range c.APIs {
		if err := ctx.Err(); err != nil {
			all = multierror.Append(all, err)
			reasons = append(reasons, apperr.ReasonNetwork)
			break
		}

		p, err := api.Fetch(ctx, rawURL)
		if err == nil {
			err = Validate(p, c.Platform)
		}
		if err == nil {
			log.Debug("api resolved post",
				zap.String("api", api.Name),
				zap.String("id", p.ID),
				zap.Int("media", len(p.MediaItems)),
			)
			return p, nil
		}

		log.Info("api failed, trying next",
			zap.String("api", api.Name),
			zap.String("url", rawURL),
			zap.Error(err),
		)
		all = multierror.Append(all, multierror.Prefix(err, fmt.Sprintf("[%s]", api.Name)))
		reasons = append(reasons, reasonOf(err))
	}

	return nil, apperr.NewResolution(string(c.Platform), dominantReason(reasons), all)
}

// Validate проверяет, что пост полон: без ID или с медиа без URL он не возвращается.
func Validate(p *post.Post, platform post.Platform) error {
	if p == nil {
		return apperr.NewResolution(string(platform), apperr.ReasonParse, ErrIncompletePost)
	}
	if p.ID == "" {
		return apperr.NewResolution(string(platform), apperr.ReasonParse, fmt.Errorf("%w: missing id", ErrIncompletePost))
	}
	for i, m := range p.MediaItems {
		if m.URL == "" {
			return apperr.NewResolution(string(platform), apperr.ReasonParse, fmt.Errorf("%w: media %d has no url", ErrIncompletePost, i))
		}
	}
	if p.Platform == "" {
		p.Platform = platform
	}
	if p.Author == "" {
		p.Author = post.UnknownAuthor
	}
	return nil
}

func reasonOf(err error) apperr.Reason {
	var re *apperr.ResolutionError
	if errors.As(err, &re) {
		return re.Reason
	}
	var mf *MissingFieldError
	if errors.As(err, &mf) {
		return apperr.ReasonParse
	}
	return apperr.ReasonNetwork
}

// dominantReason — если все API сказали одно и то же, это и есть причина.
// Иначе приоритет: not_found, forbidden, rate_limited, network.
func dominantReason(reasons []apperr.Reason) apperr.Reason {
	if len(reasons) == 0 {
		return apperr.ReasonNetwork
	}
	same := true
	for _, r := range reasons[1:] {
		if r != reasons[0] {
			same = false
			break
		}
	}
	if same {
		return reasons[0]
	}
	for _, want := range []apperr.Reason{apperr.ReasonNotFound, apperr.ReasonForbidden, apperr.ReasonRateLimited} {
		for _, r := range reasons {
			if r == want {
				return want
			}
		}
	}
	return apperr.ReasonNetwork
}
