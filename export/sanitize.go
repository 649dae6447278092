package export

import (
	"path"
	"strings"

	"github.com/c360studio/visatrack/visa"
)

// folderName is the archive folder for an applicant: the full name reduced
// to lowercase ASCII letters and digits, falling back to the id.
func folderName(a visa.Applicant) string {
	if name := alnumLower(a.FullName); name != "" {
		return name
	}
	if id := alnumLower(a.ID); id != "" {
		return id
	}
	return "applicant"
}

func alnumLower(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// documentFileName is the entry name for a document inside its folder.
// Characters outside [A-Za-z0-9._-] become underscores. A name with nothing
// usable falls back to the stored file name, and the stored extension is
// appended when the document name has none.
func documentFileName(docName, storedName string) string {
	var sb strings.Builder
	for _, r := range docName {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	name := sb.String()
	if strings.Trim(name, "._") == "" {
		return storedName
	}
	if path.Ext(name) == "" {
		name += path.Ext(storedName)
	}
	return name
}
