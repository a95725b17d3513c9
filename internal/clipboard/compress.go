package clipboard

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"remotedesk/internal/domain"
)

const (
	codecZstd = "zstd"
	codecLZ4  = "lz4"
)

// maxDecodedBytes bounds any single decompressed payload regardless of the
// configured clipboard limit.
const maxDecodedBytes = 64 << 20

var errIncompressible = errors.New("clipboard: payload is incompressible")

// zstd encoders and decoders are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("clipboard: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedBytes))
	if err != nil {
		panic("clipboard: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress moves the bulk payload into CompressedData when it exceeds
// threshold: zstd for text-like payloads, lz4 blocks for images. File lists
// and content that does not shrink are returned unchanged.
func Compress(content domain.ClipboardContent, threshold int64) domain.ClipboardContent {
	if content.IsCompressed || threshold <= 0 || PayloadSize(content) <= threshold {
		return content
	}
	out := content.Clone()
	var err error
	switch out.Type {
	case domain.ClipboardText:
		if out.CompressedData, err = compressZstd([]byte(out.Text)); err == nil {
			out.Text = ""
			out.Compression = codecZstd
		}
	case domain.ClipboardHTML:
		if out.CompressedData, err = compressZstd([]byte(out.HTML.Markup)); err == nil {
			out.HTML.Markup = ""
			out.Compression = codecZstd
		}
	case domain.ClipboardRichText:
		if out.CompressedData, err = compressZstd([]byte(out.RichText.RTF)); err == nil {
			out.RichText.RTF = ""
			out.Compression = codecZstd
		}
	case domain.ClipboardImage:
		if out.CompressedData, err = compressLZ4(out.Image.Data); err == nil {
			out.Image.Data = nil
			out.Compression = codecLZ4
		}
	default:
		return content
	}
	if err != nil {
		return content
	}
	out.IsCompressed = true
	return out
}

// Decompress restores the typed payload of compressed content. Size must be
// the uncompressed payload length and may not exceed limit.
func Decompress(content domain.ClipboardContent, limit int64) (domain.ClipboardContent, error) {
	if !content.IsCompressed {
		return content, nil
	}
	if limit <= 0 || limit > maxDecodedBytes {
		limit = maxDecodedBytes
	}
	if content.Size < 0 || content.Size > limit {
		return domain.ClipboardContent{}, domain.ErrInvalidClipboard
	}
	out := content.Clone()
	var raw []byte
	var err error
	switch out.Compression {
	case codecZstd:
		raw, err = decompressZstd(out.CompressedData, int(out.Size))
	case codecLZ4:
		raw, err = decompressLZ4(out.CompressedData, int(out.Size))
	default:
		return domain.ClipboardContent{}, domain.ErrInvalidClipboard
	}
	if err != nil {
		return domain.ClipboardContent{}, &domain.Error{Kind: domain.KindValidation, Code: "invalid_clipboard_content", Err: err}
	}
	switch out.Type {
	case domain.ClipboardText:
		out.Text = string(raw)
	case domain.ClipboardHTML:
		if out.HTML == nil {
			out.HTML = &domain.HTMLPayload{}
		}
		out.HTML.Markup = string(raw)
	case domain.ClipboardRichText:
		if out.RichText == nil {
			out.RichText = &domain.RichTextPayload{}
		}
		out.RichText.RTF = string(raw)
	case domain.ClipboardImage:
		if out.Image == nil {
			out.Image = &domain.ImagePayload{}
		}
		out.Image.Data = raw
	default:
		return domain.ClipboardContent{}, domain.ErrInvalidClipboard
	}
	out.IsCompressed = false
	out.Compression = ""
	out.CompressedData = nil
	return out, nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
	}
	return result, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return destination, nil
}
