package apperr

import (
	"errors"
	"fmt"
)

var policyText = map[PolicyKind]string{
	PolicyTooLarge:        "файл слишком большой",
	PolicyTooLong:         "видео слишком длинное",
	PolicyBlockedDomain:   "домен заблокирован",
	PolicyNSFW:            "контент 18+ заблокирован",
	PolicyPlaylistBlocked: "плейлисты не поддерживаются",
}

var reasonText = map[Reason]string{
	ReasonNetwork:     "сервис недоступен, попробуйте позже",
	ReasonParse:       "не удалось разобрать ответ сервиса",
	ReasonRateLimited: "слишком много запросов, попробуйте позже",
	ReasonForbidden:   "доступ запрещён (приватный пост?)",
	ReasonNotFound:    "пост не найден или удалён",
}

// UserMessage — короткая причина отказа для пользователя, с пометкой платформы.
// Стек и внутренние детали не показываются.
func UserMessage(platform string, err error) string {
	tag := ""
	if platform != "" {
		tag = "[" + platform + "] "
	}

	var pv *PolicyViolation
	var re *ResolutionError
	var df *DeliveryFailure
	switch {
	case errors.As(err, &pv):
		text := policyText[pv.Kind]
		if pv.Limit != "" && pv.Actual != "" {
			text = fmt.Sprintf("%s (%s, лимит %s)", text, pv.Actual, pv.Limit)
		} else if pv.Actual != "" {
			text = fmt.Sprintf("%s (%s)", text, pv.Actual)
		}
		return "❌ " + tag + text
	case errors.Is(err, ErrCapacityExceeded):
		return "⏳ " + tag + "сейчас идёт слишком много загрузок, попробуйте через минуту"
	case errors.Is(err, ErrUnsupported):
		return "❌ " + tag + "ссылка не поддерживается"
	case errors.As(err, &df):
		return "❌ " + tag + "не удалось отправить медиа в чат"
	case errors.As(err, &re):
		return "❌ " + tag + reasonText[re.Reason]
	default:
		return "❌ " + tag + "не удалось обработать ссылку"
	}
}

// Megabytes — размер для PolicyViolation.Limit/Actual.
func Megabytes(n int64) string {
	return fmt.Sprintf("%.1f МБ", float64(n)/(1<<20))
}

// Seconds — длительность для PolicyViolation.Limit/Actual.
func Seconds(s float64) string {
	return fmt.Sprintf("%d с", int64(s+0.5))
}
