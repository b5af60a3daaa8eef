package fsutil

import (
	"os"
	"path/filepath"
)

// ManagedMarkerFile is dropped into directories skillhub copies into product
// locations so later operations can tell them apart from foreign content.
const ManagedMarkerFile = ".skillhub-managed"

// WriteManagedMarker records skillID as the owner of dir.
func WriteManagedMarker(dir, skillID string) error {
	return os.WriteFile(filepath.Join(dir, ManagedMarkerFile), []byte(skillID+"\n"), 0o644)
}

// ManagedBy returns the skill id recorded in dir's marker, or "" if dir carries
// no marker.
func ManagedBy(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, ManagedMarkerFile))
	if err != nil {
		return ""
	}
	for len(data) > 0 && (data[len(data)-1] == '\n' || data[len(data)-1] == '\r') {
		data = data[:len(data)-1]
	}
	return string(data)
}
