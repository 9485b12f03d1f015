package tgui

import (
	"strconv"
	"strings"
)

// Callback data used by the intake flow. Telegram limits callback_data to
// MaxCallbackDataLen bytes, which these short forms stay well under.
const (
	CallbackChangeProfile = "change_profile"
	CallbackCancel        = "cancel_application"

	stagePrefix = "stage_"
)

// StageData encodes a stage choice as "stage_<id>".
func StageData(id int64) string {
	return stagePrefix + strconv.FormatInt(id, 10)
}

// ParseStageData decodes "stage_<id>". ok is false for any other data.
func ParseStageData(data string) (id int64, ok bool) {
	rest, found := strings.CutPrefix(data, stagePrefix)
	if !found {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
