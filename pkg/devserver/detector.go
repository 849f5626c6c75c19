// Package devserver spawns the developer's command and turns its output into
// tagged stream entries. The detector assigns the framework tag; the
// supervisor owns the child process.
package devserver

import (
	"regexp"
	"strings"

	"github.com/daibug/daibug/pkg/models"
)

var (
	urlMarker    = regexp.MustCompile(`https?://`)
	nextWordRe   = regexp.MustCompile(`\bnext\b`)
	nextSigRe    = regexp.MustCompile(`(?i)next\.js|next dev|compiled /`)
	viteLocalSig = "➜ Local:"
)

// Detector classifies dev-server output lines. Once a framework signature is
// seen the detector locks and keeps returning that tag for signature-free
// lines. Not safe for concurrent use; the supervisor serializes line
// handling through the hub's ingestion path.
type Detector struct {
	locked models.Source
}

// NewDetector returns an unlocked detector.
func NewDetector() *Detector { return &Detector{} }

// Lock forces the tag, used when the launch command names the framework.
func (d *Detector) Lock(tag models.Source) {
	if tag != "" {
		d.locked = tag
	}
}

// Locked returns the locked tag or "".
func (d *Detector) Locked() models.Source { return d.locked }

// ClassifyLine tags one line of output. Signature checks run before the
// lock so a late, clearer signature can still win; without a signature the
// lock answers; without a lock a URL locks to the generic tag. Plain
// unlocked output falls back to vite, the most common dev server, without
// locking. The stateless ClassifyOutput answers devserver for the same
// input; both defaults are pinned by tests.
func (d *Detector) ClassifyLine(text string) models.Source {
	if nextSigRe.MatchString(text) {
		d.locked = models.SourceNext
		return models.SourceNext
	}
	if hasViteSignature(text) {
		d.locked = models.SourceVite
		return models.SourceVite
	}
	if d.locked != "" {
		return d.locked
	}
	if urlMarker.MatchString(text) {
		d.locked = models.SourceDevServer
		return models.SourceDevServer
	}
	return models.SourceVite
}

// ClassifyOutput is the stateless variant used outside the ingestion path.
// Unknown text is tagged devserver.
func ClassifyOutput(text string) models.Source {
	if nextSigRe.MatchString(text) {
		return models.SourceNext
	}
	if hasViteSignature(text) {
		return models.SourceVite
	}
	return models.SourceDevServer
}

func hasViteSignature(text string) bool {
	return strings.Contains(text, "VITE") ||
		strings.Contains(text, "vite") ||
		strings.Contains(text, viteLocalSig)
}

// DetectFromCommand inspects the launch command for a framework name: the
// whole word "next" wins over a "vite" substring. Returns "" when the
// command names neither.
func DetectFromCommand(cmd string) models.Source {
	lower := strings.ToLower(cmd)
	if nextWordRe.MatchString(lower) {
		return models.SourceNext
	}
	if strings.Contains(lower, "vite") {
		return models.SourceVite
	}
	return ""
}
