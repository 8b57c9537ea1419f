package whisperx

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// alignLanguages are the languages with a default WhisperX alignment model.
var alignLanguages = map[string]struct{}{
	"ar": {}, "ca": {}, "cs": {}, "da": {}, "de": {}, "el": {}, "en": {}, "es": {},
	"eu": {}, "fa": {}, "fi": {}, "fr": {}, "gl": {}, "he": {}, "hi": {}, "hr": {},
	"hu": {}, "it": {}, "ja": {}, "ka": {}, "ko": {}, "lv": {}, "ml": {}, "nl": {},
	"nn": {}, "no": {}, "pl": {}, "pt": {}, "ro": {}, "ru": {}, "sk": {}, "sl": {},
	"te": {}, "tl": {}, "tr": {}, "uk": {}, "ur": {}, "vi": {}, "zh": {},
}

// NormalizeLanguage reduces a detected language to its ISO 639-1 base code.
// Unparseable input returns "".
func NormalizeLanguage(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return ""
	}
	base, confidence := tag.Base()
	if confidence == language.No {
		return ""
	}
	return base.String()
}

// SupportsAlignment reports whether an alignment model exists for code.
func SupportsAlignment(code string) bool {
	_, ok := alignLanguages[NormalizeLanguage(code)]
	return ok
}

// DisplayName renders a language code in English, falling back to the code.
func DisplayName(code string) string {
	tag, err := language.Parse(strings.TrimSpace(code))
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}
