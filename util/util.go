// Package util is a set of utility variables or methods
package util

import (
	"path/filepath"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

var SupportedExt = mapset.NewSet(
	".jpeg", ".jpg", ".JPEG", ".JPG",
	".png", ".PNG",
	".gif", ".GIF",
	".webp", ".WEBP",
	".bmp", ".BMP",
)

// IsSupportedImage reports whether name has an extension the frame accepts.
func IsSupportedImage(name string) bool {
	return SupportedExt.Contains(filepath.Ext(name))
}

// ContentTypeForName maps an image file name to the content type the frame
// api expects on upload. The server rejects anything outside image/*.
func ContentTypeForName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	default:
		return "application/octet-stream"
	}
}
