package hosting

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// EncodeContent encodes a content body for the hosting API. Encoding operates
// on the raw UTF-8 bytes, so multi-byte characters survive the round trip.
func EncodeContent(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// DecodeContent reverses EncodeContent. The API embeds newlines in long
// content bodies; they are stripped before decoding.
func DecodeContent(encoded string) (string, error) {
	compact := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ':
			return -1
		}
		return r
	}, encoded)

	raw, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return "", fmt.Errorf("decode content: %w", err)
	}
	return string(raw), nil
}
