package guard

import (
	"fmt"
	"math"
	"time"
)

// Notice is what the user sees when an event is refused. Empty Text means
// the refusal is silent. Alert applies to callback answers.
type Notice struct {
	Text  string
	Alert bool
}

func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

// AbuseNotice renders the refusal for d. Plain rate-limit refusals are
// silent.
func AbuseNotice(d Decision, class EventClass) Notice {
	switch d.Reason {
	case ReasonBlocked:
		if class == ClassCallback {
			return Notice{Text: fmt.Sprintf("⚠️ Подождите %d сек.", seconds(d.Remaining)), Alert: true}
		}
		return Notice{Text: fmt.Sprintf("⚠️ Вы временно заблокированы за спам.\nПопробуйте через %d секунд.", seconds(d.Remaining))}
	case ReasonJustBlocked:
		if class == ClassCallback {
			return Notice{Text: fmt.Sprintf("🚫 Слишком много запросов! Блокировка на %d сек.", seconds(d.Remaining)), Alert: true}
		}
		return Notice{Text: fmt.Sprintf("🚫 Вы отправляете сообщения слишком часто!\nВременная блокировка на %d секунд.", seconds(d.Remaining))}
	}
	return Notice{}
}

// VolumeNotice renders the refusal for d, or nothing when d.Warn is false.
func VolumeNotice(d VolumeDecision, cfg VolumeConfig) Notice {
	if !d.Warn {
		return Notice{}
	}
	switch d.Reason {
	case VolumeCount:
		return Notice{Text: fmt.Sprintf("⚠️ Слишком много файлов! Максимум %d файлов в минуту.\nПодождите немного.", cfg.FilesPerMinute)}
	case VolumeBytes:
		return Notice{Text: fmt.Sprintf("⚠️ Превышен лимит загрузки: %d МБ в час.\nВы загрузили: %.1f МБ",
			cfg.MaxBytesPerHour>>20, float64(d.UsedBytes)/(1<<20))}
	}
	return Notice{}
}
