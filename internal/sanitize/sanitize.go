// Package sanitize hardens free-text user input before it is interpolated
// into LLM prompts. Detection never rejects a request; suspicious input is
// logged and passed on in neutralized form.
package sanitize

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

const prevPattern = `(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`

// injectionPatterns are phrasings commonly used to hijack the system
// prompt.
var injectionPatterns = []struct {
	re          *regexp.Regexp
	description string
}{
	{regexp.MustCompile(`(?i)ignore\s+` + prevPattern), "ignore previous instructions"},
	{regexp.MustCompile(`(?i)disregard\s+` + prevPattern), "disregard previous instructions"},
	{regexp.MustCompile(`(?i)forget\s+` + prevPattern), "forget previous instructions"},
	{regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an)\b`), "role reassignment"},
	{regexp.MustCompile(`(?i)act\s+as\s+(a|an|if)\b`), "role reassignment"},
	{regexp.MustCompile(`(?i)pretend\s+(you\s+are|to\s+be)\b`), "role reassignment"},
	{regexp.MustCompile(`(?i)new\s+instructions?\s*:`), "new instructions injection"},
	{regexp.MustCompile(`(?i)system\s*:\s*`), "system prompt injection"},
	{regexp.MustCompile(`(?i)\[INST\]`), "instruction tag injection"},
	{regexp.MustCompile(`(?i)<\|?(system|assistant|user)\|?>`), "chat role tag injection"},
	{regexp.MustCompile("(?i)```\\s*(system|instruction)"), "code block instruction injection"},
	{regexp.MustCompile(`(?i)override\s+(your|the)\s+(instructions?|rules?|behavior)`), "instruction override"},
	{regexp.MustCompile(`(?i)do\s+not\s+follow\s+(your|the)\s+(instructions?|rules?)`), "instruction override"},
}

// markdownEscapes neutralize HTML comments and script tags that could be
// abused when reports are rendered as markdown.
var markdownEscapes = [][2]string{
	{"<!--", "&lt;!--"},
	{"-->", "--&gt;"},
	{"<script", "&lt;script"},
	{"</script", "&lt;/script"},
}

const (
	delimiterStart = "```user_input"
	delimiterEnd   = "```"
)

// DetectInjectionPatterns returns descriptions of every injection pattern
// found in text, empty when none matched.
func DetectInjectionPatterns(text string) []string {
	var detected []string
	for _, p := range injectionPatterns {
		if p.re.MatchString(text) {
			detected = append(detected, p.description)
		}
	}
	return detected
}

// EscapeMarkdownInjection escapes HTML comment and script constructs.
func EscapeMarkdownInjection(text string) string {
	result := text
	for _, pair := range markdownEscapes {
		result = strings.ReplaceAll(result, pair[0], pair[1])
	}
	return result
}

// WrapWithDelimiter fences user input so the model can tell it apart from
// system instructions.
func WrapWithDelimiter(text string) string {
	return delimiterStart + "\n" + text + "\n" + delimiterEnd
}

// UserInput sanitizes raw user text for safe prompt interpolation:
// injection patterns are logged, markdown specials are escaped and the
// result is wrapped in an explicit delimiter.
func UserInput(text string, logger *zap.Logger) string {
	if detected := DetectInjectionPatterns(text); detected != nil {
		logger.Warn("Potential prompt injection detected in user input",
			zap.Strings("patterns", detected),
		)
	}
	return WrapWithDelimiter(EscapeMarkdownInjection(text))
}
