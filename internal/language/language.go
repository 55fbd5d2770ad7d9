// Package language maps language codes to the display names the synthesis
// preamble expects. Synthesis backends take a human-readable language or
// dialect name, not a BCP-47 tag.
package language

var names = map[string]string{
	"en":     "English",
	"es":     "Spanish",
	"fr":     "French",
	"fr-be":  "Belgian French",
	"de":     "German",
	"it":     "Italian",
	"pt":     "Portuguese",
	"ru":     "Russian",
	"zh":     "Chinese (Mandarin, Standard)",
	"zh-yue": "Yue Chinese (Cantonese)",
	"ja":     "Japanese",
	"ko":     "Korean",
	"hi":     "Hindi",
	"ar":     "Arabic (Modern Standard)",
	"arz":    "Arabic (Egyptian Dialect)",
	"tr":     "Turkish",
	"vi":     "Vietnamese",
	"th":     "Thai",
	"pl":     "Polish",
	"nl":     "Dutch (Standard Netherlands)",
	"nl-be":  "Flemish",
	"sv":     "Swedish",
	"id":     "Indonesian",
	"ms":     "Malay",
	"fa":     "Persian (Farsi)",
	"he":     "Hebrew",
	"el":     "Greek",
	"bn":     "Bengali",
	"ta":     "Tamil",
	"ur":     "Urdu",
	"uk":     "Ukrainian",
	"tl":     "Tagalog",
	"en-tl":  "Taglish (Tagalog-English blend)",
	"byv":    "Medumba (Cameroon)",
}

// Resolve returns the display name for a language code. Unknown codes fall
// back to English so a misconfigured channel still produces speech.
func Resolve(code string) string {
	if name, ok := names[code]; ok {
		return name
	}
	return "English"
}

// Known reports whether the code has a registered display name.
func Known(code string) bool {
	_, ok := names[code]
	return ok
}
