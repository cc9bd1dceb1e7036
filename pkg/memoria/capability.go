package memoria

import "slices"

// Capability describes what a module can process and what resources it requires.
type Capability struct {
	Name             string
	Description      string
	Interest         InterestSet
	RequiredServices []string
}

// InterestSet describes event selection criteria for capability negotiation.
type InterestSet struct {
	Kinds      []EventKind
	MediaTypes []MediaType
	// Commands selects messages whose text is one of the named commands.
	Commands []string
	// PlainText selects text messages that carry no media and no command.
	PlainText bool
}

// Matches reports whether an event satisfies the declared interest set.
func (i InterestSet) Matches(event *Event) bool {
	if event == nil {
		return false
	}
	if len(i.Kinds) > 0 && !slices.Contains(i.Kinds, event.Kind) {
		return false
	}
	if len(i.MediaTypes) > 0 && !eventContainsMediaType(event, i.MediaTypes) {
		return false
	}
	if len(i.Commands) > 0 {
		command, ok := CommandFromEvent(event)
		if !ok || !slices.Contains(i.Commands, command.Name) {
			return false
		}
	}
	if i.PlainText && !isPlainText(event) {
		return false
	}

	return true
}

// Allows reports whether this interest set can safely satisfy another filter.
func (i InterestSet) Allows(filter InterestSet) bool {
	if len(i.Kinds) > 0 && !allIncluded(filter.Kinds, i.Kinds) {
		return false
	}
	if len(i.MediaTypes) > 0 && !allIncluded(filter.MediaTypes, i.MediaTypes) {
		return false
	}
	if len(i.Commands) > 0 && !allIncluded(filter.Commands, i.Commands) {
		return false
	}
	if i.PlainText && !filter.PlainText {
		return false
	}

	return true
}

// eventContainsMediaType reports whether any message attachment has one of types.
func eventContainsMediaType(event *Event, types []MediaType) bool {
	if event.Message == nil {
		return false
	}
	for _, media := range event.Message.Media {
		if slices.Contains(types, media.Type) {
			return true
		}
	}

	return false
}

func isPlainText(event *Event) bool {
	if event.Message == nil || len(event.Message.Media) > 0 || event.Message.Text == "" {
		return false
	}
	_, isCommand := CommandFromEvent(event)

	return !isCommand
}

// allIncluded reports whether subset is fully contained in allowed.
func allIncluded[T comparable](subset, allowed []T) bool {
	for _, item := range subset {
		if !slices.Contains(allowed, item) {
			return false
		}
	}

	return true
}
