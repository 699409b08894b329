package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// InfoFilename is the provenance file written alongside each capture.
const InfoFilename = "info.txt"

// WriteInfo records where a capture came from: one "key: value" line per
// field, in url, description, time order.
func WriteInfo(dir, link, description string, at time.Time) error {
	content := fmt.Sprintf("url: %s\ndescription: %s\ntime: %s\n",
		link, description, at.Format(time.RFC3339))
	return os.WriteFile(filepath.Join(dir, InfoFilename), []byte(content), 0o644)
}
