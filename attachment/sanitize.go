package attachment

import (
	"regexp"
	"strings"
)

const (
	// PlaceholderFilename replaces empty upload names.
	PlaceholderFilename = "file.dat"
	// DefaultExtension is appended to names without an extension.
	DefaultExtension = "dat"
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9_.]`)

// Sanitize turns an arbitrary client-supplied name into a safe, lower-case
// filename that always carries an extension. It never fails.
//
//	Sanitize("My Photo!!.PNG")    == "my_photo__.png"
//	Sanitize("C:\\docs\\notes")   == "notes.dat"
//	Sanitize("trailing.")         == "trailing.dat"
//	Sanitize("")                  == "file.dat"
func Sanitize(name string) string {
	if strings.TrimSpace(name) == "" {
		name = PlaceholderFilename
	}

	name = strings.TrimRight(name, `/\`)
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}
	if name == "" {
		name = PlaceholderFilename
	}

	name = unsafeFilenameChars.ReplaceAllString(name, "_")

	switch dot := strings.LastIndex(name, "."); {
	case dot < 0:
		name += "." + DefaultExtension
	case dot == len(name)-1:
		name += DefaultExtension
	}

	return strings.ToLower(name)
}
