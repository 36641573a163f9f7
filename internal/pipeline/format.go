package pipeline

import (
	"path/filepath"
	"strings"
)

// Format classifies an input document by how the pipeline handles it.
type Format int

const (
	FormatUnknown Format = iota
	// FormatPDF is a paginated document that goes through rasterization.
	FormatPDF
	// FormatImage is a single scanned page.
	FormatImage
	// FormatText is already text and skips recognition.
	FormatText
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
	".bmp":  true,
	".gif":  true,
	".webp": true,
}

// DetectFormat classifies path by its extension.
func DetectFormat(path string) Format {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".pdf":
		return FormatPDF
	case imageExtensions[ext]:
		return FormatImage
	case ext == ".txt":
		return FormatText
	}
	return FormatUnknown
}

// Supported reports whether the pipeline can process path.
func Supported(path string) bool {
	return DetectFormat(path) != FormatUnknown
}

func (f Format) String() string {
	switch f {
	case FormatPDF:
		return "pdf"
	case FormatImage:
		return "image"
	case FormatText:
		return "text"
	}
	return "unknown"
}
