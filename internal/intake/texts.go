package intake

import (
	"fmt"

	"github.com/clover2di/tochkavnimanie-bot/internal/storage"
)

// User-facing texts.
const (
	TextGreeting = "Привет! 🙌\n\nМы — всероссийский дизайн-челлендж среди школьников «Точка внимания».\n"
	TextMenu     = "Выберите действие:"

	textAskName    = "Напиши, пожалуйста, фамилию, имя и отчество полностью."
	textAskCity    = "Отлично! Теперь укажи, пожалуйста, из какого ты населенного пункта?"
	textAskSchool  = "Хорошо! Теперь полное название твоей школы (лицея, гимназии и т.д.)."
	textAskGrade   = "В каком классе ты учишься?"
	textAskStage   = "На задание какого этапа ты отправляешь ответ?"
	textAskComment = "Теперь пришли голосовое или напиши текстовый комментарий к твоему ответу."

	textClosed        = "К сожалению, приём заявок сейчас закрыт."
	textNoStages      = "В данный момент нет доступных этапов для подачи заявки."
	textCancelled     = "❌ Подача заявки отменена."
	textEditProfile   = "✏️ Давайте обновим ваши данные."
	textStageNotFound = "ℹ️ Этап не найден"
	textStageNotOpen  = "ℹ️ Этот этап ещё не начался"
	textStageExpired  = "ℹ️ Время этапа истекло. Вы не можете его выбрать"

	textNotAttachment = "❗️ Пожалуйста, отправь фотографию или PDF-файл"
	textWrongFormat   = "❗️ Неподдерживаемый формат файла. Отправь фото или PDF."
	textVoiceTooLong  = "ℹ️ Ваше голосовое превышает 1 минуту. Отправь еще раз но в пределах 1 минуты"

	textSaving   = "⏳ Сохраняем вашу заявку..."
	textFinish   = "Спасибо! Твоя заявка сформирована и отправлена администраторам.\nМожете воспользоваться /start для новой заявки."
	textSaveFail = "❗️ Не удалось сохранить заявку. Попробуйте отправить комментарий ещё раз чуть позже."
	textInternal = "❗️ Произошла ошибка. Попробуйте позже."

	textNoWorks     = "У вас пока нет поданных заявок."
	textNoWorksHint = "У вас пока нет поданных заявок.\nНажмите «📝 Подать заявку» чтобы участвовать!"
	textWorksHeader = "📋 <b>Ваши заявки:</b>\n\n"
)

func textWelcomeBack(p storage.Profile) string {
	return fmt.Sprintf("👋 Привет, %s!\n\n📍 %s, %s, %s класс\n\n%s", p.FullName, p.City, p.School, p.Grade, textAskStage)
}

func textAskFiles(cfg Config) string {
	return fmt.Sprintf("Теперь пришли, пожалуйста, до %d фотографий или PDF-файлов, которые отражают ход твоих мыслей.\n\n"+
		"📌 Максимальный размер одного файла: %d МБ\n"+
		"📌 Минимум: %d файла, максимум: %d файлов\n\n"+
		"Отправь фото или документ.", cfg.MaxFiles, cfg.maxFileMB(), cfg.MinFiles, cfg.MaxFiles)
}

func textStageChosen(name string) string { return "✅ Выбран этап: " + name }

func textTooLarge(cfg Config) string {
	return fmt.Sprintf("❗️ Файл слишком большой! Максимальный размер: %d МБ", cfg.maxFileMB())
}

func textCountExceeded(max int) string {
	return fmt.Sprintf("🫠 Максимум %d файлов. Отправь комментарий.", max)
}

func textCommentCountExceeded(max int) string {
	return fmt.Sprintf("У вас уже %d файлов. Теперь отправьте комментарий (текст или голосовое).", max)
}

func textNeedMore(n, max, need int) string {
	return fmt.Sprintf("✅ Файл %d/%d получен. Отправьте ещё минимум %d.", n, max, need)
}

func textEnough(n, max int) string {
	return fmt.Sprintf("✅ Файл %d/%d получен.\nМожете отправить ещё %d или напишите/запишите комментарий.", n, max, max-n)
}

func textAllFiles(max int) string { return fmt.Sprintf("✅ Все %d файлов получены!", max) }

func textExtraFile(n, max int) string {
	return fmt.Sprintf("✅ Файл %d/%d. Можете отправить ещё или напишите комментарий.", n, max)
}

func textExtraAll(max int) string {
	return fmt.Sprintf("✅ Все %d файлов! Теперь отправьте комментарий.", max)
}
