package pipeline

import (
	"path/filepath"
	"strings"
)

const maxFilenameLength = 255

// sanitizeFilename rewrites an attachment filename so it is safe to place
// inside the download tree: no path separators, no null bytes, no leading
// dots, only a conservative character set, capped length. Returns the empty
// string when nothing usable remains.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\x00", "")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")

	// Leading dots would hide the file on Unix
	hadLeadingDots := strings.HasPrefix(name, ".")
	name = strings.TrimLeft(name, ".")
	if hadLeadingDots && name != "" && !strings.HasPrefix(name, "_") {
		name = "_" + name
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name = b.String()

	if len(name) > maxFilenameLength {
		ext := filepath.Ext(name)
		name = name[:maxFilenameLength-len(ext)] + ext
	}

	return name
}

// suffixFilename inserts a distinguishing suffix before the extension,
// keeping the result under the length cap
func suffixFilename(name, suffix string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	out := base + "_" + suffix + ext
	if len(out) > maxFilenameLength {
		keep := maxFilenameLength - len(ext) - len(suffix) - 1
		if keep < 1 {
			keep = 1
		}
		out = base[:keep] + "_" + suffix + ext
	}
	return out
}
