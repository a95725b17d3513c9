package clipboard

import (
	"bytes"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/zeebo/blake3"

	"remotedesk/internal/domain"
)

// fingerprintKey is the BLAKE3 key for clipboard fingerprints: the ASCII
// domain name zero-padded to 32 bytes.
var fingerprintKey = [32]byte{
	'r', 'e', 'm', 'o', 't', 'e', 'd', 'e', 's', 'k', '.', 'c', 'l', 'i', 'p', 'b',
	'o', 'a', 'r', 'd', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Fingerprint identifies content by type and payload. Timestamps and
// transport flags do not participate, so a resend of the same clipboard
// yields the same fingerprint.
func Fingerprint(content domain.ClipboardContent) string {
	hasher, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		panic("clipboard: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	field := func(s string) {
		hasher.Write([]byte(s))
		hasher.Write([]byte{0})
	}
	field(string(content.Type))
	switch content.Type {
	case domain.ClipboardText:
		field(content.Text)
	case domain.ClipboardHTML:
		if content.HTML != nil {
			field(content.HTML.Markup)
			field(content.HTML.PlainText)
		}
	case domain.ClipboardRichText:
		if content.RichText != nil {
			field(content.RichText.RTF)
			field(content.RichText.PlainText)
		}
	case domain.ClipboardImage:
		if content.Image != nil {
			field(content.Image.Format)
			hasher.Write(content.Image.Data)
		}
	case domain.ClipboardFileList:
		for _, path := range content.Files {
			field(path)
		}
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// PayloadSize is the byte length of the content's bulk payload.
func PayloadSize(content domain.ClipboardContent) int64 {
	switch content.Type {
	case domain.ClipboardText:
		return int64(len(content.Text))
	case domain.ClipboardHTML:
		if content.HTML != nil {
			return int64(len(content.HTML.Markup))
		}
	case domain.ClipboardRichText:
		if content.RichText != nil {
			return int64(len(content.RichText.RTF))
		}
	case domain.ClipboardImage:
		if content.Image != nil {
			return int64(len(content.Image.Data))
		}
	case domain.ClipboardFileList:
		var total int64
		for _, path := range content.Files {
			total += int64(len(path))
		}
		return total
	}
	return 0
}

// Truncate clamps text, markup, rtf and image payloads to max bytes and
// flags the result. File lists are never truncated. Content must already be
// valid.
func Truncate(content domain.ClipboardContent, max int64) domain.ClipboardContent {
	out := content.Clone()
	if max > 0 {
		switch out.Type {
		case domain.ClipboardText:
			out.Text, out.IsTruncated = truncateString(out.Text, max)
		case domain.ClipboardHTML:
			var cut bool
			out.HTML.Markup, out.IsTruncated = truncateString(out.HTML.Markup, max)
			out.HTML.PlainText, cut = truncateString(out.HTML.PlainText, max)
			out.IsTruncated = out.IsTruncated || cut
		case domain.ClipboardRichText:
			var cut bool
			out.RichText.RTF, out.IsTruncated = truncateString(out.RichText.RTF, max)
			out.RichText.PlainText, cut = truncateString(out.RichText.PlainText, max)
			out.IsTruncated = out.IsTruncated || cut
		case domain.ClipboardImage:
			if int64(len(out.Image.Data)) > max {
				out.Image.Data = out.Image.Data[:max]
				out.IsTruncated = true
			}
		}
	}
	out.Size = PayloadSize(out)
	return out
}

// truncateString cuts s to at most max bytes without splitting a rune.
func truncateString(s string, max int64) (string, bool) {
	if int64(len(s)) <= max {
		return s, false
	}
	cut := int(max)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}

func supports(types []domain.ClipboardType, t domain.ClipboardType) bool {
	if len(types) == 0 {
		return true
	}
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// Fallback converts content into the richest type the receiver supports.
// Html and rich text degrade to their plain-text projection and file lists
// to newline-separated paths. Images have no fallback.
func Fallback(content domain.ClipboardContent, supported []domain.ClipboardType) (domain.ClipboardContent, bool, error) {
	if supports(supported, content.Type) {
		return content, false, nil
	}
	if !supports(supported, domain.ClipboardText) {
		return domain.ClipboardContent{}, false, domain.ErrUnsupportedFormat
	}
	var text string
	switch content.Type {
	case domain.ClipboardHTML:
		text = content.HTML.PlainText
	case domain.ClipboardRichText:
		text = content.RichText.PlainText
	case domain.ClipboardFileList:
		text = strings.Join(content.Files, "\n")
	}
	if text == "" {
		return domain.ClipboardContent{}, false, domain.ErrUnsupportedFormat
	}
	out := domain.ClipboardContent{
		Type:        domain.ClipboardText,
		Text:        text,
		IsTruncated: content.IsTruncated,
		Timestamp:   content.Timestamp,
	}
	out.Size = PayloadSize(out)
	return out, true, nil
}

var imageSignatures = []struct {
	format string
	magic  []byte
}{
	{"png", []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}},
	{"jpeg", []byte{0xff, 0xd8, 0xff}},
	{"gif", []byte("GIF8")},
	{"bmp", []byte("BM")},
}

// DetectImageFormat sniffs the image container from its magic bytes.
func DetectImageFormat(data []byte) string {
	for _, sig := range imageSignatures {
		if bytes.HasPrefix(data, sig.magic) {
			return sig.format
		}
	}
	return ""
}
