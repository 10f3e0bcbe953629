package pipeline

import "bytes"

// signatures maps file extensions to their accepted magic-byte prefixes.
// An extension with multiple entries matches if any prefix matches.
var signatures = map[string][][]byte{
	".pdf":  {[]byte("%PDF-")},
	".png":  {{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}},
	".jpg":  {{0xff, 0xd8, 0xff}},
	".jpeg": {{0xff, 0xd8, 0xff}},
	".zip":  {[]byte("PK\x03\x04"), []byte("PK\x05\x06"), []byte("PK\x07\x08")},
}

// checkSignature verifies the content starts with a known magic sequence for
// the extension. Extensions without a table entry pass unchecked; the
// allowlist already gated which extensions get this far.
func checkSignature(ext string, content []byte) bool {
	prefixes, ok := signatures[ext]
	if !ok {
		return true
	}
	for _, prefix := range prefixes {
		if bytes.HasPrefix(content, prefix) {
			return true
		}
	}
	return false
}
