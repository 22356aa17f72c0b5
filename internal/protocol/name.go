package protocol

import (
	"encoding/base64"
	"encoding/binary"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// EncodeName encodes a free-text name field for the wire: base64 over the
// UTF-16LE bytes of the string.
func EncodeName(name string) string {
	units := utf16.Encode([]rune(name))
	raw := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(raw[i*2:], u)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeName decodes a name field received from a terminal. Firmware variants
// disagree about the encoding, so decoding walks a fallback chain: UTF-16LE,
// then UTF-8, then byte-order-mark sniffing (FF FE / FE FF), then ASCII with
// non-ASCII bytes replaced. Input that is not base64 at all is returned
// unchanged rather than failing.
func DecodeName(encoded string) string {
	if encoded == "" {
		return ""
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return encoded
	}

	if s, ok := decodeUTF16LE(raw); ok {
		return s
	}

	if utf8.Valid(raw) {
		return string(raw)
	}

	if len(raw) >= 2 {
		if raw[0] == 0xFF && raw[1] == 0xFE {
			s, _ := decodeUTF16LE(raw[2:])
			return s
		}
		if raw[0] == 0xFE && raw[1] == 0xFF {
			s, _ := decodeUTF16BE(raw[2:])
			return s
		}
	}

	return asciiLossy(raw)
}

// decodeUTF16LE reports ok=false when the bytes cannot be clean UTF-16LE
// (odd length or invalid surrogates), which triggers the next fallback.
func decodeUTF16LE(raw []byte) (string, bool) {
	if len(raw)%2 != 0 {
		return "", false
	}
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	s := string(utf16.Decode(units))
	return s, !strings.ContainsRune(s, utf8.RuneError)
}

func decodeUTF16BE(raw []byte) (string, bool) {
	if len(raw)%2 != 0 {
		return "", false
	}
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = binary.BigEndian.Uint16(raw[i*2:])
	}
	s := string(utf16.Decode(units))
	return s, !strings.ContainsRune(s, utf8.RuneError)
}

func asciiLossy(raw []byte) string {
	var sb strings.Builder
	for _, b := range raw {
		if b > 0x7F {
			sb.WriteByte('?')
		} else {
			sb.WriteByte(b)
		}
	}
	return sb.String()
}
