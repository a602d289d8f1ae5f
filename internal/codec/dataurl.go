package codec

import (
	"encoding/base64"
	"strings"

	"github.com/ngupuk/kupu/internal/tensor"
)

const dataURLPrefix = "data:image/"

// HasDataURLPrefix reports whether s looks like an image data URL.
func HasDataURLPrefix(s string) bool {
	return strings.HasPrefix(s, dataURLPrefix)
}

// DecodeDataURL decodes a data URL with the default Decoder.
func DecodeDataURL(s string, mode Channels) (*tensor.Image, error) {
	return Decoder{}.DecodeDataURL(s, mode)
}

// DecodeDataURL decodes "data:image/<type>;base64,<payload>".
func (d Decoder) DecodeDataURL(s string, mode Channels) (*tensor.Image, error) {
	if !HasDataURLPrefix(s) {
		return nil, &DecodeError{Reason: "invalid image data format"}
	}
	_, payload, ok := strings.Cut(s, ",")
	if !ok {
		return nil, &DecodeError{Reason: "invalid image data format"}
	}

	raw, err := decodeBase64(payload)
	if err != nil {
		return nil, &DecodeError{Reason: "base64 decode error", Err: err}
	}
	return d.Decode(raw, mode)
}

// EncodeDataURL encodes img and wraps it as a base64 data URL.
func EncodeDataURL(img *tensor.Image, format Format, quality int) (string, error) {
	data, err := Encode(img, format, quality)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.Grow(len(dataURLPrefix) + len(format) + len(";base64,") + base64.StdEncoding.EncodedLen(len(data)))
	sb.WriteString(dataURLPrefix)
	sb.WriteString(string(format))
	sb.WriteString(";base64,")
	sb.WriteString(base64.StdEncoding.EncodeToString(data))
	return sb.String(), nil
}

func decodeBase64(payload string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err == nil {
		return raw, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "=")); rawErr == nil {
		return raw, nil
	}
	return nil, err
}
