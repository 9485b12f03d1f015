// Package tgui provides small Telegram UI helpers:
//   - inline and reply keyboard builders
//   - callback data for the intake flow (stage_<id>, change_profile, ...)
//   - escaping helpers for ParseMode="HTML"
package tgui
