package tokens

import (
	"time"
)

// Token is a single tag detection. It is passed by value and never modified
// after being handed to a callback.
type Token struct {
	Reader   string    `json:"reader"`
	UID      string    `json:"uid"`
	// Data is the tag payload, upper hex encoded if it is not valid UTF-8.
	Data     string    `json:"data,omitempty"`
	Text     string    `json:"text,omitempty"`
	Response string    `json:"response,omitempty"`
	ScanTime time.Time `json:"scanTime"`
}

// Empty is true when the backend returned nothing that identifies a tag.
func (t *Token) Empty() bool {
	return t == nil || (t.UID == "" && t.Data == "")
}

// WithReader returns a copy of the token tagged with the reader it was
// read from.
func (t Token) WithReader(reader string) Token {
	t.Reader = reader
	return t
}

func TokensEqual(a, b *Token) bool {
	if a == nil && b == nil {
		return true
	} else if a == nil || b == nil {
		return false
	}

	return a.UID == b.UID && a.Data == b.Data
}
