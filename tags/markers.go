package tags

import "strings"

// Marker opens a tag; repeating it nests the tag one level deeper.
const Marker = '`'

// ParseMarkers counts the leading markers of raw. Spaces between markers are ignored,
// so "` `` note" has depth 3. ok is false when raw carries no marker at all.
func ParseMarkers(raw string) (depth int, text string, ok bool) {
	i := 0
	for i < len(raw) {
		switch raw[i] {
		case Marker:
			depth++
		case ' ', '\t':
		default:
			return finish(depth, raw[i:])
		}
		i++
	}
	return finish(depth, "")
}

func finish(depth int, rest string) (int, string, bool) {
	if depth == 0 {
		return 1, strings.TrimSpace(rest), false
	}
	return depth, strings.TrimSpace(rest), true
}

// DepthOf is the nesting depth of raw, never less than 1.
func DepthOf(raw string) int {
	d, _, _ := ParseMarkers(raw)
	return d
}

// IsTag reports whether a chat message is a tag submission.
func IsTag(raw string) bool {
	return strings.HasPrefix(raw, string(Marker))
}
