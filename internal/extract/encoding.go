package extract

import (
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// legacyEncodings are tried in order when content is not valid UTF-8.
var legacyEncodings = []*charmap.Charmap{
	charmap.ISO8859_1,
	charmap.Windows1252,
}

// decodeContent decodes raw file bytes as text, trying UTF-8 first and then
// the legacy single-byte encodings. Returns false if no encoding applies.
func decodeContent(data []byte) (string, bool) {
	if utf8.Valid(data) {
		return string(data), true
	}
	for _, cm := range legacyEncodings {
		if s, err := decodeWith(cm.NewDecoder(), data); err == nil {
			return s, true
		}
	}
	return "", false
}

func decodeWith(dec *encoding.Decoder, data []byte) (string, error) {
	out, err := dec.Bytes(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
