package voice

import (
	"fmt"
	"slices"
)

// AutoDetect is the language preference that makes the assistant answer in
// whatever language the user speaks.
const AutoDetect = "Auto Detection"

// Languages lists the selectable language preferences, [AutoDetect] first.
var Languages = []string{
	AutoDetect,
	"English",
	"Bengali",
	"Hindi",
	"Arabic",
	"French",
	"Spanish",
	"German",
	"Japanese",
	"Chinese",
	"Russian",
	"Portuguese",
	"Italian",
	"Korean",
	"Turkish",
	"Vietnamese",
	"Thai",
	"Dutch",
	"Indonesian",
	"Urdu",
	"Persian",
	"Malay",
}

// KnownLanguage reports whether lang is one of [Languages].
func KnownLanguage(lang string) bool {
	return slices.Contains(Languages, lang)
}

const mirrorLanguage = "CRITICAL: Listen carefully to the user's spoken language and respond in " +
	"the EXACT same language and dialect. If they speak Bengali, speak Bengali. " +
	"If English, speak English. Be a linguistic mirror."

// Instruction builds the system instruction for a live session. An empty
// language or [AutoDetect] yields the mirror-the-user rule.
func Instruction(language string) string {
	rule := mirrorLanguage
	if language != "" && language != AutoDetect {
		rule = fmt.Sprintf("Always speak in %s only. But if the user requests to speak in a language, "+
			"it will do so, and if you ask to turn it off again, it will revert to the previous language.", language)
	}
	return fmt.Sprintf("You are NBD AI, a natural and efficient voice assistant. %s "+
		"Be brief, kind, and professional. Avoid long answers, unless necessary.", rule)
}
