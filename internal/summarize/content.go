package summarize

import (
	"encoding/json"
	"strings"
)

// contentValue accepts message content given either as a string or as a list
// of typed parts, joining the text parts with newlines.
type contentValue string

func (c *contentValue) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = ""
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*c = contentValue(text)
		return nil
	}
	var parts []textPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	*c = contentValue(joinParts(parts))
	return nil
}

type textPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func joinParts(parts []textPart) string {
	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		if part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}
