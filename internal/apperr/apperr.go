// Package apperr — типизированные ошибки конвейера разрешения ссылок.
// Ошибки провайдеров и загрузчика переводятся в эти типы на границе компонента,
// менеджер разрешения видит только их.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCapacityExceeded — достигнут лимит одновременных загрузок. Запрос не ставится в очередь.
	ErrCapacityExceeded = errors.New("too many concurrent downloads")
	// ErrCacheCorruption — файл кэша повреждён или другой версии; кэш сбрасывается.
	ErrCacheCorruption = errors.New("cache file corrupted")
	// ErrUnsupported — ни один провайдер не подошёл, а универсальный загрузчик выключен.
	ErrUnsupported = errors.New("url is not supported")
)

type Reason string

const (
	ReasonNetwork     Reason = "network"
	ReasonParse       Reason = "parse"
	ReasonRateLimited Reason = "rate_limited"
	ReasonForbidden   Reason = "forbidden"
	ReasonNotFound    Reason = "not_found"
)

// ResolutionError — отказ провайдера.
type ResolutionError struct {
	Platform   string
	Reason     Reason
	RetryAfter time.Duration
	Err        error
}

func NewResolution(platform string, reason Reason, err error) *ResolutionError {
	return &ResolutionError{Platform: platform, Reason: reason, Err: err}
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("%s: resolution failed (%s)", e.Platform, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Retryable — network и rate_limited повторяются внутри провайдера,
// остальные причины сразу уходят менеджеру.
func (e *ResolutionError) Retryable() bool {
	return e.Reason == ReasonNetwork || e.Reason == ReasonRateLimited
}

type PolicyKind string

const (
	PolicyTooLarge        PolicyKind = "too_large"
	PolicyTooLong         PolicyKind = "too_long"
	PolicyBlockedDomain   PolicyKind = "blocked_domain"
	PolicyNSFW            PolicyKind = "nsfw"
	PolicyPlaylistBlocked PolicyKind = "playlist_blocked"
)

// PolicyViolation — загрузчик отклонил цель до или после извлечения метаданных. Не повторяется.
type PolicyViolation struct {
	Kind   PolicyKind
	Limit  string
	Actual string
}

func (e *PolicyViolation) Error() string {
	switch {
	case e.Limit != "" && e.Actual != "":
		return fmt.Sprintf("policy violation %s: %s exceeds %s", e.Kind, e.Actual, e.Limit)
	case e.Actual != "":
		return fmt.Sprintf("policy violation %s: %s", e.Kind, e.Actual)
	default:
		return fmt.Sprintf("policy violation %s", e.Kind)
	}
}

// DeliveryFailure — содержимое получено, но транспорт чата не смог его отправить.
type DeliveryFailure struct {
	Err error
}

func (e *DeliveryFailure) Error() string { return "delivery failed: " + e.Err.Error() }
func (e *DeliveryFailure) Unwrap() error { return e.Err }

func IsPolicy(err error, kind PolicyKind) bool {
	var pv *PolicyViolation
	return errors.As(err, &pv) && pv.Kind == kind
}

func IsReason(err error, reason Reason) bool {
	var re *ResolutionError
	return errors.As(err, &re) && re.Reason == reason
}
