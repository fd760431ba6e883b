package mediascan

import (
	"fmt"
	"strings"

	"github.com/joe/netmedia/pkg/scanner"
)

// MediaType classifies a file by extension.
type MediaType int

// Media types.
const (
	MediaUnknown MediaType = iota
	MediaImage
	MediaVideo
	MediaAudio
	MediaGif
	MediaText
	MediaPdf
	MediaEpub
)

//nolint:gochecknoglobals // Read-only lookup table
var extensionTable = map[MediaType][]string{
	MediaImage: {"jpg", "jpeg", "png", "webp", "bmp", "heic", "heif", "tif", "tiff", "avif", "dng", "cr2", "nef", "arw"},
	MediaVideo: {"mp4", "mkv", "mov", "avi", "webm", "m4v", "3gp", "wmv", "flv", "ts", "mts", "m2ts", "mpg", "mpeg"},
	MediaAudio: {"mp3", "flac", "wav", "ogg", "oga", "m4a", "aac", "opus", "wma", "aiff"},
	MediaGif:   {"gif"},
	MediaText:  {"txt", "md", "log", "csv", "json", "xml", "srt", "vtt"},
	MediaPdf:   {"pdf"},
	MediaEpub:  {"epub"},
}

//nolint:gochecknoglobals // Built once from extensionTable
var typeByExtension = func() map[string]MediaType {
	index := make(map[string]MediaType)

	for mediaType, extensions := range extensionTable {
		for _, ext := range extensions {
			index[ext] = mediaType
		}
	}

	return index
}()

// AllMediaTypes lists every known type.
func AllMediaTypes() []MediaType {
	return []MediaType{MediaImage, MediaVideo, MediaAudio, MediaGif, MediaText, MediaPdf, MediaEpub}
}

// String returns the lowercase type name.
func (t MediaType) String() string {
	switch t {
	case MediaImage:
		return "image"
	case MediaVideo:
		return "video"
	case MediaAudio:
		return "audio"
	case MediaGif:
		return "gif"
	case MediaText:
		return "text"
	case MediaPdf:
		return "pdf"
	case MediaEpub:
		return "epub"
	case MediaUnknown:
	}

	return "unknown"
}

// Extensions returns the lowercase extensions of t, without dots.
func (t MediaType) Extensions() []string {
	return append([]string(nil), extensionTable[t]...)
}

// ParseMediaType parses a type name.
func ParseMediaType(s string) (MediaType, error) {
	for _, t := range AllMediaTypes() {
		if strings.EqualFold(strings.TrimSpace(s), t.String()) {
			return t, nil
		}
	}

	return MediaUnknown, fmt.Errorf("invalid media type: %s (valid: image, video, audio, gif, text, pdf, epub)", s)
}

// ParseMediaTypes parses type names. No names means every type.
func ParseMediaTypes(names []string) ([]MediaType, error) {
	if len(names) == 0 {
		return AllMediaTypes(), nil
	}

	types := make([]MediaType, 0, len(names))

	for _, name := range names {
		t, err := ParseMediaType(name)
		if err != nil {
			return nil, err
		}

		types = append(types, t)
	}

	return types, nil
}

// TypeOf classifies a file name. Names without a known extension are MediaUnknown.
func TypeOf(name string) MediaType {
	return typeByExtension[scanner.Extension(name)]
}

// SizeFilter bounds file sizes per media type. Zero means unbounded. Gif
// files use the image bounds; text, pdf and epub are never size filtered.
type SizeFilter struct {
	ImageMin, ImageMax int64
	VideoMin, VideoMax int64
	AudioMin, AudioMax int64
}

// Accept reports whether a file of type t and size passes the filter.
func (f SizeFilter) Accept(t MediaType, size int64) bool {
	var minSize, maxSize int64

	switch t {
	case MediaImage, MediaGif:
		minSize, maxSize = f.ImageMin, f.ImageMax
	case MediaVideo:
		minSize, maxSize = f.VideoMin, f.VideoMax
	case MediaAudio:
		minSize, maxSize = f.AudioMin, f.AudioMax
	case MediaText, MediaPdf, MediaEpub, MediaUnknown:
		return true
	}

	if minSize > 0 && size < minSize {
		return false
	}

	if maxSize > 0 && size > maxSize {
		return false
	}

	return true
}

// IsZero reports whether the filter has no bounds.
func (f SizeFilter) IsZero() bool {
	return f == SizeFilter{}
}

// buildFilter turns types and sizes into a scanner filter.
func buildFilter(types []MediaType, sizes SizeFilter, excludes []string) *scanner.Filter {
	if len(types) == 0 {
		types = AllMediaTypes()
	}

	var extensions []string
	for _, t := range types {
		extensions = append(extensions, extensionTable[t]...)
	}

	opts := []scanner.FilterOption{scanner.WithExcludes(excludes...)}

	if !sizes.IsZero() {
		opts = append(opts, scanner.WithSizePredicate(func(name string, size int64) bool {
			return sizes.Accept(TypeOf(name), size)
		}))
	}

	return scanner.NewFilter(extensions, opts...)
}
