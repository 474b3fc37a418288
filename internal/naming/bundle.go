package naming

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// File is one candidate image for a scan.
type File struct {
	Path       string
	Hash       string
	AcquiredAt time.Time
	Label      string
	Ext        string
}

// ScanBundle is the ordered set of files committed as one scan. Sequence
// indices run contiguously from zero in acquisition order, with a lexical
// filename tiebreak, and are zero-padded to a width fixed when the bundle is
// built. Original filenames never influence the committed names beyond the
// tiebreak.
type ScanBundle struct {
	Files []File
	width int
}

// BuildBundle orders files into a scan bundle.
func BuildBundle(files []File) *ScanBundle {
	ordered := make([]File, len(files))
	copy(ordered, files)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].AcquiredAt.Equal(ordered[j].AcquiredAt) {
			return ordered[i].AcquiredAt.Before(ordered[j].AcquiredAt)
		}
		return filepath.Base(ordered[i].Path) < filepath.Base(ordered[j].Path)
	})
	width := 2
	if w := len(fmt.Sprintf("%d", len(ordered)-1)); w > width {
		width = w
	}
	return &ScanBundle{Files: ordered, width: width}
}

// Sequence returns the zero-padded sequence label for position i.
func (b *ScanBundle) Sequence(i int) string {
	return fmt.Sprintf("%0*d", b.width, i)
}

// FileName returns the committed name for position i:
// "{sequence}_{timestamp}.{ext}".
func (b *ScanBundle) FileName(i int) string {
	f := b.Files[i]
	ext := strings.TrimPrefix(strings.ToLower(f.Ext), ".")
	return fmt.Sprintf("%s_%s.%s", b.Sequence(i), f.AcquiredAt.UTC().Format("20060102150405"), ext)
}
