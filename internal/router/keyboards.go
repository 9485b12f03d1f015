package router

import (
	"github.com/clover2di/tochkavnimanie-bot/internal/intake"
	"github.com/clover2di/tochkavnimanie-bot/internal/storage"
	"github.com/clover2di/tochkavnimanie-bot/pkg/tgui"
)

// Main menu buttons.
const (
	BtnSubmit = "📝 Подать заявку"
	BtnWorks  = "📋 Мои работы"
	BtnInfo   = "ℹ️ Информация"
	BtnHelp   = "❓ Помощь"

	btnChangeProfile = "✏️ Изменить данные"
)

func mainMenu() any {
	return tgui.Reply(
		[]string{BtnSubmit},
		[]string{BtnWorks, BtnInfo},
		[]string{BtnHelp},
	)
}

func cancelMenu() any { return tgui.Reply([]string{intake.CancelText}) }

func stagesKeyboard(stages []storage.Stage, changeProfile bool) any {
	kb := tgui.NewInline()
	for _, st := range stages {
		kb.Row(tgui.Btn(st.Name, tgui.StageData(st.ID)))
	}
	if changeProfile {
		kb.Row(tgui.Btn(btnChangeProfile, tgui.CallbackChangeProfile))
	}
	kb.Row(tgui.Btn(intake.CancelText, tgui.CallbackCancel))
	return kb.Markup()
}

func markupFor(r intake.Reply) any {
	switch r.Markup {
	case intake.MarkupMain:
		return mainMenu()
	case intake.MarkupCancel:
		return cancelMenu()
	case intake.MarkupStages:
		return stagesKeyboard(r.Stages, r.ChangeProfile)
	}
	return nil
}
