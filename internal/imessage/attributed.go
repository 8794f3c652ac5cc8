package imessage

import (
	"bytes"
	"regexp"
	"strings"
)

// attributedBody blobs are NSKeyedArchiver typedstream archives. Messages
// stopped populating the text column for some message kinds; the visible
// string lives inside the archive instead. Full typedstream parsing is not
// worth it for one string, so this extracts it the same way the Messages
// reverse-engineering community does: find the NSString payload and cut it
// at the next archiver class marker.

var (
	controlChars  = regexp.MustCompile(`[\x{0000}-\x{0008}\x{000b}\x{000c}\x{000e}-\x{001f}\x{007f}-\x{009f}\x{fffc}]`)
	trailingJunk  = regexp.MustCompile(`\x{fffd}.*$`)
	classMarkers  = [][]byte{[]byte("NSDictionary"), []byte("NSAttributes"), []byte("NSMutableString"), []byte("NSObject")}
	maxBodyLength = 2000
)

// ExtractAttributedBody pulls displayable text out of an attributedBody
// archive. Returns "" when the blob is missing or carries no text.
func ExtractAttributedBody(blob []byte) string {
	if len(blob) == 0 {
		return ""
	}

	_, after, found := bytes.Cut(blob, []byte("NSString"))
	if !found {
		return ""
	}
	start := bytes.IndexByte(after, '+')
	if start < 0 {
		return ""
	}
	// Skip the '+' and the length-prefix byte that follows it.
	if start+2 > len(after) {
		return ""
	}
	raw := after[start+2:]

	end := -1
	for _, marker := range classMarkers {
		if pos := bytes.Index(raw, marker); pos >= 0 && (end < 0 || pos < end) {
			end = pos
		}
	}
	if end < 0 {
		end = len(raw)
		if end > maxBodyLength {
			end = maxBodyLength
		}
	}

	content := strings.ToValidUTF8(string(raw[:end]), "�")
	content = controlChars.ReplaceAllString(content, "")
	// Anything after the first replacement rune is binary garbage.
	content = trailingJunk.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}
