package memoria

import (
	"strings"
	"unicode"
)

// CommandPrefix introduces one command invocation.
const CommandPrefix = "/"

// Command is one parsed `/name[@mention] [args]` invocation.
type Command struct {
	// Name is the lowercased command name without prefix and mention suffix.
	Name string
	// Mention is the optional bot username from `/name@mention`.
	Mention string
	// Args is the trimmed remainder after the command token.
	Args string
}

// ParseCommand parses a command-looking message text.
//
// It reports false when text does not start with the command prefix or
// the command name is empty or contains characters other than letters,
// digits and underscores.
func ParseCommand(text string) (Command, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, CommandPrefix) {
		return Command{}, false
	}

	body := trimmed[len(CommandPrefix):]
	head, tail := body, ""
	if index := strings.IndexFunc(body, unicode.IsSpace); index >= 0 {
		head, tail = body[:index], body[index:]
	}
	name, mention, _ := strings.Cut(head, "@")
	name = strings.ToLower(name)
	if name == "" || !validCommandName(name) {
		return Command{}, false
	}

	return Command{
		Name:    name,
		Mention: mention,
		Args:    strings.TrimSpace(tail),
	}, true
}

// CommandFromEvent parses the message text of an event as a command.
func CommandFromEvent(event *Event) (Command, bool) {
	if event == nil || event.Message == nil {
		return Command{}, false
	}

	return ParseCommand(event.Message.Text)
}

func validCommandName(name string) bool {
	for _, r := range name {
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}

	return true
}
