package monitor

import (
	"encoding/json"
	"unicode/utf16"

	"github.com/mymmrac/telego"
)

// ExtractedLink is one URL found in a post, with the visible text it was
// attached to.
type ExtractedLink struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// ExtractLinks collects plain URLs and hyperlinked text from a message.
// Entity offsets are in UTF-16 code units per the Bot API, so the text
// is sliced in that encoding.
func ExtractLinks(msg telego.Message) []ExtractedLink {
	var links []ExtractedLink
	links = append(links, extractFrom(msg.Text, msg.Entities)...)
	links = append(links, extractFrom(msg.Caption, msg.CaptionEntities)...)
	return links
}

func extractFrom(text string, entities []telego.MessageEntity) []ExtractedLink {
	if text == "" || len(entities) == 0 {
		return nil
	}

	encoded := utf16.Encode([]rune(text))
	var links []ExtractedLink
	for _, entity := range entities {
		if entity.Type != telego.EntityTypeURL && entity.Type != telego.EntityTypeTextLink {
			continue
		}
		start, end := entity.Offset, entity.Offset+entity.Length
		if start < 0 || end > len(encoded) || start >= end {
			continue
		}
		segment := string(utf16.Decode(encoded[start:end]))

		switch entity.Type {
		case telego.EntityTypeURL:
			links = append(links, ExtractedLink{Text: segment, URL: segment})
		case telego.EntityTypeTextLink:
			links = append(links, ExtractedLink{Text: segment, URL: entity.URL})
		}
	}
	return links
}

// MarshalLinks serializes links for the text column; an empty list
// becomes the empty string.
func MarshalLinks(links []ExtractedLink) string {
	if len(links) == 0 {
		return ""
	}
	data, err := json.Marshal(links)
	if err != nil {
		return ""
	}
	return string(data)
}
