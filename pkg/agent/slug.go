package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

//nolint:gochecknoglobals // compiled once
var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// maxSlugLen caps slug length so generated filenames stay readable.
const maxSlugLen = 40

// Slugify derives a filesystem-safe base name from a free-text description:
// lowercased, runs of non-alphanumerics collapsed to single underscores,
// trimmed and capped at maxSlugLen. A description with no usable characters
// gets a random design_ name instead.
func Slugify(description string) string {
	slug := slugRe.ReplaceAllString(strings.ToLower(description), "_")
	slug = strings.Trim(slug, "_")
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
	}
	if slug == "" {
		slug = "design_" + uuid.NewString()[:8]
	}
	return slug
}

// OutputPath resolves where a generated design lands. An explicit name is
// used as-is, joined to dataDir when relative; an empty name derives a slug
// from the description, which never clobbers an existing file.
func OutputPath(output, description, dataDir string) string {
	name := output
	derived := false
	if name == "" {
		name = Slugify(description) + ".scad"
		derived = true
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(dataDir, path)
	}
	if derived {
		path = uniquePath(path)
	}
	return path
}

// uniquePath returns path unchanged when nothing exists there, otherwise the
// first free stem_2, stem_3, ... sibling.
func uniquePath(path string) string {
	if _, err := os.Stat(path); err != nil {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, n, ext)
		if _, err := os.Stat(candidate); err != nil {
			return candidate
		}
	}
}
