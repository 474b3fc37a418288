package classify

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"curator/internal/imaging"
	"curator/internal/services"
)

// LoadTemplates decodes every image in dir into a labeled template. The label
// is the file name without its extension; templates are returned sorted by
// label so scoring order is stable across runs.
func LoadTemplates(dir string) ([]Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "classify", "load templates", "read template directory", err)
	}
	templates := make([]Template, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		raster, err := imaging.DecodeFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "classify", "load templates", fmt.Sprintf("decode template %s", entry.Name()), err)
		}
		templates = append(templates, Template{
			Label:  strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())),
			Raster: raster,
		})
	}
	if len(templates) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "classify", "load templates", fmt.Sprintf("no templates found in %s", dir), nil)
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].Label < templates[j].Label })
	return templates, nil
}
