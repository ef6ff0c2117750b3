package dispatcher

import (
	"regexp"
	"strings"
)

// Templates are the notification texts sent to origins.
//
// Success takes {result}, Failure takes {error}, Ack takes {user}.
// An empty Ack disables the acknowledgement.
type Templates struct {
	Success      string `json:"success"`
	Failure      string `json:"failure"`
	MissingInput string `json:"missing_input"`
	Ack          string `json:"ack"`
	Unavailable  string `json:"unavailable"`
}

// DefaultTemplates returns the built-in notification texts.
func DefaultTemplates() Templates {
	return Templates{
		Success:      "✅ {result}",
		Failure:      "❌ {error}",
		MissingInput: "Please enter a command.",
		Ack:          "{user} working on your request...",
		Unavailable:  "The service is not accepting requests right now. Please try again later.",
	}
}

// WithDefaults fills empty fields, except Ack, from DefaultTemplates.
func (t Templates) WithDefaults() Templates {
	d := DefaultTemplates()
	if t.Success == "" {
		t.Success = d.Success
	}
	if t.Failure == "" {
		t.Failure = d.Failure
	}
	if t.MissingInput == "" {
		t.MissingInput = d.MissingInput
	}
	if t.Unavailable == "" {
		t.Unavailable = d.Unavailable
	}
	return t
}

func (t Templates) success(result string) string {
	return strings.NewReplacer("{result}", result).Replace(t.Success)
}

func (t Templates) failure(errMsg string) string {
	return strings.NewReplacer("{error}", errMsg).Replace(t.Failure)
}

func (t Templates) ack(user string) string {
	return strings.NewReplacer("{user}", user).Replace(t.Ack)
}

var mentionPattern = regexp.MustCompile(`^\s*<@[^>\s]+>`)

// ExtractPrompt strips one leading <@U123> mention token and surrounding
// whitespace. Plain @handles are left alone; channels that address the bot
// by handle strip their own handle before dispatch.
func ExtractPrompt(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}
