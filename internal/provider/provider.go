// Package provider — общее для провайдеров платформ: интерфейс, реестр,
// HTTP-клиент с ретраями, цепочка равноценных API и разбор разнородного JSON.
package provider

import (
	"context"
	"errors"
	"sort"

	"linksave/internal/link"
	"linksave/internal/post"
)

var (
	ErrDuplicateProvider = errors.New("duplicate provider for platform")
	ErrInvalidProvider   = errors.New("invalid provider")
	ErrUnknownProvider   = errors.New("no provider for platform")
)

// Provider превращает ссылку своей платформы в пост.
type Provider interface {
	Platform() post.Platform
	// CanHandle совпадает с link.Classify для этой платформы.
	CanHandle(rawURL string) bool
	// Resolve возвращает полный пост или *apperr.ResolutionError, частичных результатов нет.
	Resolve(ctx context.Context, rawURL string) (*post.Post, error)
	// Canonicalize — «исправленная» ссылка для просмотра, без сети.
	Canonicalize(rawURL string) string
}

// Registry сопоставляет платформу и провайдер.
type Registry struct {
	providers map[post.Platform]Provider
}

func NewRegistry(ps ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[post.Platform]Provider, len(ps))}
	for _, p := range ps {
		if err := r.Add(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Add(p Provider) error {
	if p == nil || p.Platform() == "" {
		return ErrInvalidProvider
	}
	if _, ok := r.providers[p.Platform()]; ok {
		return ErrDuplicateProvider
	}
	r.providers[p.Platform()] = p
	return nil
}

func (r *Registry) Get(platform post.Platform) (Provider, error) {
	p, ok := r.providers[platform]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return p, nil
}

// For классифицирует ссылку и возвращает её провайдер.
func (r *Registry) For(rawURL string) (Provider, bool) {
	platform, ok := link.Classify(rawURL)
	if !ok {
		return nil, false
	}
	p, err := r.Get(platform)
	if err != nil || !p.CanHandle(rawURL) {
		return nil, false
	}
	return p, true
}

// Platforms — зарегистрированные платформы в алфавитном порядке.
func (r *Registry) Platforms() []post.Platform {
	out := make([]post.Platform, 0, len(r.providers))
	for p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
