package archive

import (
	"fmt"
	"mime"
	"net/url"
	"regexp"
	"strings"

	"mediagrab/pkg/models"
)

const (
	DefaultArchiveName = "pinterest-media.zip"
	DefaultFolder      = "pinterest-media"

	maxNameLen = 180
)

var (
	unsafeChars = regexp.MustCompile(`[\\/:*?"<>|]`)
	pathExt     = regexp.MustCompile(`(?i)\.([a-z0-9]{2,6})$`)
)

// SafeName replaces characters most filesystems reject and caps the length.
func SafeName(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	if r := []rune(s); len(r) > maxNameLen {
		s = string(r[:maxNameLen])
	}
	return s
}

// ArchiveFileName normalizes a user supplied archive name and makes sure it
// ends in .zip exactly once.
func ArchiveFileName(name string) string {
	name = SafeName(strings.TrimSpace(name))
	if name == "" {
		name = DefaultArchiveName
	}
	if !strings.HasSuffix(strings.ToLower(name), ".zip") {
		name += ".zip"
	}
	return name
}

// FolderName normalizes the top-level folder name inside the archive.
// Names made only of dots would escape or vanish from the entry path.
func FolderName(name string) string {
	name = SafeName(strings.TrimSpace(name))
	if strings.Trim(name, ".") == "" {
		return DefaultFolder
	}
	return name
}

// EntryName is the file name of the item at zero-based index i.
func EntryName(kind models.Kind, i int, ext string) string {
	return fmt.Sprintf("%s_%06d%s", kind, i+1, ext)
}

// ExtFromURL returns the lowercased extension of the URL path, or "".
func ExtFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	m := pathExt.FindStringSubmatch(u.Path)
	if m == nil {
		return ""
	}
	return "." + strings.ToLower(m[1])
}

// ExtFromContentType maps the handful of recognised media types to an extension.
func ExtFromContentType(contentType string) string {
	ct := strings.ToLower(contentType)
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	}
	switch {
	case strings.Contains(ct, "png"):
		return ".png"
	case strings.Contains(ct, "jpeg"), strings.Contains(ct, "jpg"):
		return ".jpg"
	case strings.Contains(ct, "webp"):
		return ".webp"
	case strings.Contains(ct, "gif"):
		return ".gif"
	case strings.Contains(ct, "mp4"):
		return ".mp4"
	}
	return ""
}

// ResolveExt picks the entry extension: URL path first, then content type,
// then the kind fallback.
func ResolveExt(rawURL, contentType string, kind models.Kind) string {
	if ext := ExtFromURL(rawURL); ext != "" {
		return ext
	}
	if ext := ExtFromContentType(contentType); ext != "" {
		return ext
	}
	return kind.FallbackExt()
}
