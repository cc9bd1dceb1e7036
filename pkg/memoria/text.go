package memoria

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TextEntityType identifies a formatting class.
type TextEntityType string

const (
	// TextEntityTypeBold renders the range in bold.
	TextEntityTypeBold TextEntityType = "bold"
	// TextEntityTypeItalic renders the range in italics.
	TextEntityTypeItalic TextEntityType = "italic"
)

// TextEntity marks a formatted text range.
//
// Offset and Length count Unicode code points, not bytes. Sinks convert them to
// whatever unit their platform expects.
type TextEntity struct {
	Type   TextEntityType
	Offset int
	Length int
}

// ValidateTextEntities checks that every entity is typed and lies inside text.
func ValidateTextEntities(text string, entities []TextEntity) error {
	size := utf8.RuneCountInString(text)
	for index, entity := range entities {
		switch entity.Type {
		case TextEntityTypeBold, TextEntityTypeItalic:
		case "":
			return fmt.Errorf("entities[%d]: missing type", index)
		default:
			return fmt.Errorf("entities[%d]: unsupported type %q", index, entity.Type)
		}
		if entity.Offset < 0 {
			return fmt.Errorf("entities[%d]: negative offset %d", index, entity.Offset)
		}
		if entity.Length <= 0 {
			return fmt.Errorf("entities[%d]: non-positive length %d", index, entity.Length)
		}
		if entity.Offset+entity.Length > size {
			return fmt.Errorf("entities[%d]: range [%d,%d) exceeds text length %d",
				index, entity.Offset, entity.Offset+entity.Length, size)
		}
	}

	return nil
}

// RichText builds message text together with its formatting entities.
//
// User-provided content appended with Plain, Bold or Italic is never
// interpreted as markup.
type RichText struct {
	text     strings.Builder
	runes    int
	entities []TextEntity
}

// Plain appends unformatted text.
func (r *RichText) Plain(s string) *RichText {
	r.text.WriteString(s)
	r.runes += utf8.RuneCountInString(s)

	return r
}

// Bold appends text rendered in bold.
func (r *RichText) Bold(s string) *RichText {
	return r.styled(TextEntityTypeBold, s)
}

// Italic appends text rendered in italics.
func (r *RichText) Italic(s string) *RichText {
	return r.styled(TextEntityTypeItalic, s)
}

// Markup appends text in which `**bold**` spans become bold entities.
// Unpaired markers are kept literally.
func (r *RichText) Markup(s string) *RichText {
	const marker = "**"

	rest := s
	for {
		start := strings.Index(rest, marker)
		if start < 0 {
			break
		}
		end := strings.Index(rest[start+len(marker):], marker)
		if end < 0 {
			break
		}
		inner := rest[start+len(marker) : start+len(marker)+end]
		r.Plain(rest[:start])
		if inner == "" {
			r.Plain(marker + marker)
		} else {
			r.Bold(inner)
		}
		rest = rest[start+len(marker)+end+len(marker):]
	}
	r.Plain(rest)

	return r
}

// String returns the accumulated text.
func (r *RichText) String() string {
	return r.text.String()
}

// Entities returns a copy of the accumulated formatting entities.
func (r *RichText) Entities() []TextEntity {
	if len(r.entities) == 0 {
		return nil
	}

	return append([]TextEntity(nil), r.entities...)
}

func (r *RichText) styled(kind TextEntityType, s string) *RichText {
	length := utf8.RuneCountInString(s)
	if length > 0 {
		r.entities = append(r.entities, TextEntity{Type: kind, Offset: r.runes, Length: length})
	}

	return r.Plain(s)
}

// Markup converts `**bold**` markup into plain text and entities.
func Markup(s string) (string, []TextEntity) {
	var rich RichText
	rich.Markup(s)

	return rich.String(), rich.Entities()
}
