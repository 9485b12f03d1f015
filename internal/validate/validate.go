// Package validate normalizes the profile fields a participant types in.
//
// Every validator is pure: it never touches session or storage state and
// returns the rejection text to show the user in-band.
package validate

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Result is the outcome of validating one field. When OK is false, Message
// holds the user-facing rejection and Value is empty.
type Result struct {
	OK      bool
	Message string
	Value   string
}

func reject(msg string) Result { return Result{Message: msg} }

func accept(v string) Result { return Result{OK: true, Value: v} }

// Func validates a single raw text input.
type Func func(raw string) Result

const (
	MsgNameShort    = "❌ ФИО слишком короткое. Введите полностью (например: Иванов Иван Иванович)."
	MsgNameWords    = "❌ Введите минимум фамилию и имя (например: Иванов Иван)."
	MsgNameChars    = "❌ ФИО должно содержать только буквы. Без цифр и спецсимволов."
	MsgCityShort    = "❌ Название населённого пункта слишком короткое."
	MsgCityChars    = "❌ Некорректное название. Используйте только буквы."
	MsgSchoolShort  = "❌ Название учебного заведения слишком короткое."
	MsgGradeEmpty   = "❌ Укажите класс."
	MsgGradeFormat  = "❌ Укажите класс числом от 1 до 11 (например: 9 или 10А)."
	MsgGradeRange   = "❌ Класс должен быть от 1 до 11."
	minNameRunes    = 5
	minCityRunes    = 2
	minSchoolRunes  = 3
	minGrade        = 1
	maxGrade        = 11
	numeroSign      = "№"
	numeroSignSpace = "№ "
)

var (
	nameRe  = regexp.MustCompile(`^[а-яёА-ЯЁa-zA-Z\s\-]+$`)
	cityRe  = regexp.MustCompile(`^[а-яёА-ЯЁa-zA-Z\s\-.0-9]+$`)
	gradeRe = regexp.MustCompile(`^(\d{1,2})\s*([А-ЯЁA-Z])?$`)

	// cases.Caser is stateful; Title builds a fresh one per call.
	titleTag = language.Russian
)

func title(word string) string {
	return cases.Title(titleTag).String(word)
}

// collapse trims and squeezes runs of whitespace to single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// Name validates a full name: at least two words of letters, spaces or
// hyphens. Each word is title-cased ("иванов иван" -> "Иванов Иван").
func Name(raw string) Result {
	if runeLen(strings.TrimSpace(raw)) < minNameRunes {
		return reject(MsgNameShort)
	}
	text := collapse(raw)
	words := strings.Fields(text)
	if len(words) < 2 {
		return reject(MsgNameWords)
	}
	if !nameRe.MatchString(text) {
		return reject(MsgNameChars)
	}
	for i, w := range words {
		words[i] = title(w)
	}
	return accept(strings.Join(words, " "))
}

// City validates a settlement name. Words starting with a digit are kept
// as typed.
func City(raw string) Result {
	if runeLen(strings.TrimSpace(raw)) < minCityRunes {
		return reject(MsgCityShort)
	}
	text := collapse(raw)
	if !cityRe.MatchString(text) {
		return reject(MsgCityChars)
	}
	words := strings.Fields(text)
	for i, w := range words {
		r, _ := utf8.DecodeRuneInString(w)
		if unicode.IsDigit(r) {
			continue
		}
		words[i] = title(w)
	}
	return accept(strings.Join(words, " "))
}

// School accepts any text of three or more characters. Whitespace is
// collapsed and the numero sign is always followed by one space.
func School(raw string) Result {
	if runeLen(strings.TrimSpace(raw)) < minSchoolRunes {
		return reject(MsgSchoolShort)
	}
	text := collapse(raw)
	text = strings.ReplaceAll(text, numeroSign, numeroSignSpace)
	text = strings.ReplaceAll(text, "  ", " ")
	return accept(text)
}

// Grade accepts "9", "10а", "11 Б" and normalizes to "{number}{LETTER}".
func Grade(raw string) Result {
	if raw == "" {
		return reject(MsgGradeEmpty)
	}
	text := strings.ToUpper(strings.TrimSpace(raw))
	m := gradeRe.FindStringSubmatch(text)
	if m == nil {
		return reject(MsgGradeFormat)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < minGrade || n > maxGrade {
		return reject(MsgGradeRange)
	}
	return accept(strconv.Itoa(n) + m[2])
}
