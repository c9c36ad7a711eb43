package types

// MaxPreviewLength bounds notification body previews.
const MaxPreviewLength = 100

// Truncate shortens content to at most MaxPreviewLength characters, replacing
// the tail with "..." when it has to cut. Lengths are counted in runes.
func Truncate(content string) string {
	runes := []rune(content)
	if len(runes) <= MaxPreviewLength {
		return content
	}
	return string(runes[:MaxPreviewLength-3]) + "..."
}
