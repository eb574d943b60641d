package router

import (
	"log/slog"
	"strings"

	"github.com/c360/intentstream/message"
)

// langKeys in resolution priority order: the speech stage's tag outranks the
// request source's, which outranks anything a transformer detected.
var langKeys = []string{message.KeySTTLang, message.KeyRequestLang, message.KeyDetectedLang}

// ResolveLanguage picks the routing language from the message context. The
// first present key whose value is inside the valid set wins; a present but
// invalid value is logged and skipped rather than failing the utterance.
// With nothing usable the configured default applies.
func ResolveLanguage(
	msg *message.Message, valid map[string]struct{}, defaultLang string, logger *slog.Logger,
) string {
	if logger == nil {
		logger = slog.Default()
	}
	for _, key := range langKeys {
		lang := strings.ToLower(msg.ContextString(key))
		if lang == "" {
			continue
		}
		if _, ok := valid[lang]; ok {
			return lang
		}
		logger.Debug("ignoring unsupported language tag", "key", key, "lang", lang)
	}
	return defaultLang
}
