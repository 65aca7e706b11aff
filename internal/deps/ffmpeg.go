package deps

import "strings"

// ResolveFFmpeg reports the ffmpeg binary used for local capture. A
// configured path wins over PATH lookup.
func ResolveFFmpeg(configured string) Status {
	name := strings.TrimSpace(configured)
	if name == "" {
		name = "ffmpeg"
	}
	return check(Requirement{
		Name:        "FFmpeg",
		Command:     name,
		Description: "Required for local audio capture",
		VersionArgs: []string{"-version"},
	})
}
