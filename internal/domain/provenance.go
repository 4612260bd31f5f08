package domain

import (
	"encoding/json"
	"os"
	"time"
)

// Provenance records where and when an artifact was fetched. It is written as
// a sidecar file next to the artifact rather than into the artifact itself:
// rewriting the artifact would change its checksum and invalidate the
// content-addressed cache on the next run.
type Provenance struct {
	DownloadTime time.Time `json:"download_time"`
	Source       string    `json:"source"`
}

// ProvenancePath returns the sidecar path for an artifact.
func ProvenancePath(artifactPath string) string {
	return artifactPath + ".provenance.json"
}

// StampProvenance writes the provenance sidecar for a fetched artifact.
func StampProvenance(artifactPath, source string) error {
	p := Provenance{DownloadTime: Now().UTC(), Source: source}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(ProvenancePath(artifactPath), data, 0o644)
}
