package index

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CatalogEntry describes one manifest template in the fixed corpus.
// Description and keywords are embedded together with the YAML body so
// that natural-language queries land on the right template.
type CatalogEntry struct {
	Source      string `yaml:"source"`
	Description string `yaml:"description"`
	Keywords    string `yaml:"keywords"`
}

type catalogFile struct {
	Manifests []CatalogEntry `yaml:"manifests"`
}

// Document is a catalog entry joined with its template text, ready for
// indexing.
type Document struct {
	Source      string
	Description string
	Keywords    string
	Content     string // description + template text, what gets embedded
	Template    string // raw template text
}

// LoadCatalog reads catalog.yaml and the template files it references.
// Template paths are resolved relative to the catalog's directory.
func LoadCatalog(catalogPath string) ([]Document, error) {
	data, err := os.ReadFile(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var cat catalogFile
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(cat.Manifests) == 0 {
		return nil, fmt.Errorf("catalog %s lists no manifests", catalogPath)
	}

	baseDir := filepath.Dir(catalogPath)

	docs := make([]Document, 0, len(cat.Manifests))
	for _, entry := range cat.Manifests {
		path := entry.Source
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", entry.Source, err)
		}
		docs = append(docs, Document{
			Source:      path,
			Description: entry.Description,
			Keywords:    entry.Keywords,
			Content:     entry.Description + "\n\n" + string(body),
			Template:    string(body),
		})
	}
	return docs, nil
}
