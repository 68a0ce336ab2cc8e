package message

import (
	"encoding/json"
	"fmt"
	"strings"

	potluck_errors "potluck-chat/pkg/errors"
)

// MediaContent is the envelope carried by MEDIA messages.
type MediaContent struct {
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

// PostContent is the envelope carried by POST messages.
type PostContent struct {
	ID      int64  `json:"id"`
	Caption string `json:"caption"`
	Image   string `json:"image"`
}

// RecipeContent is the envelope carried by RECIPE messages.
type RecipeContent struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Image string `json:"image"`
}

// ValidateContent checks the type-dependent encoding of content. TEXT is literal and
// must be non-empty; the other kinds must decode into their envelope.
func ValidateContent(t Type, content string) error {
	if !t.Valid() {
		return fmt.Errorf("unknown message type %q: %w", t, potluck_errors.ErrInvalidInput)
	}
	switch t {
	case TypeText:
		if strings.TrimSpace(content) == "" {
			return fmt.Errorf("empty text message: %w", potluck_errors.ErrInvalidInput)
		}
	case TypeMedia:
		var m MediaContent
		if err := json.Unmarshal([]byte(content), &m); err != nil || m.URL == "" {
			return fmt.Errorf("media content needs a url: %w", potluck_errors.ErrInvalidInput)
		}
	case TypePost:
		var p PostContent
		if err := json.Unmarshal([]byte(content), &p); err != nil || p.ID <= 0 {
			return fmt.Errorf("post content needs an id: %w", potluck_errors.ErrInvalidInput)
		}
	case TypeRecipe:
		var r RecipeContent
		if err := json.Unmarshal([]byte(content), &r); err != nil || r.ID <= 0 {
			return fmt.Errorf("recipe content needs an id: %w", potluck_errors.ErrInvalidInput)
		}
	}
	return nil
}

// Preview renders a short conversation-list preview of the message.
func (m Message) Preview() string {
	switch m.Type {
	case TypeMedia:
		var c MediaContent
		_ = json.Unmarshal([]byte(m.Content), &c)
		if c.Kind != "" {
			return "[" + c.Kind + "]"
		}
		return "[media]"
	case TypePost:
		var c PostContent
		_ = json.Unmarshal([]byte(m.Content), &c)
		return "[post] " + c.Caption
	case TypeRecipe:
		var c RecipeContent
		_ = json.Unmarshal([]byte(m.Content), &c)
		return "[recipe] " + c.Title
	}
	return m.Content
}
