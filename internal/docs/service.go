// Package docs renders the operator documentation shipped with vrm. The
// asciidoc sources are embedded in the binary; api.adoc is regenerated from
// the handler annotations by cmd/docgen.
package docs

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/bytesparadise/libasciidoc"
	"github.com/bytesparadise/libasciidoc/pkg/configuration"
)

//go:embed *.adoc
var embedded embed.FS

type Service struct {
	fsys  fs.FS
	cache map[string]string // name -> html content
	mu    sync.RWMutex
}

// NewService renders documents from fsys. A nil fsys uses the embedded docs.
func NewService(fsys fs.FS) *Service {
	if fsys == nil {
		fsys = embedded
	}
	return &Service{
		fsys:  fsys,
		cache: make(map[string]string),
	}
}

// GetDoc returns the HTML body of the named document. The name is given
// without the .adoc extension.
func (s *Service) GetDoc(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	content, ok := s.cache[name]
	s.mu.RUnlock()
	if ok {
		return content, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := fs.ReadFile(s.fsys, name+".adoc")
	if err != nil {
		return "", fmt.Errorf("failed to read doc file: %w", err)
	}

	output := bytes.NewBuffer(nil)
	// documents ask for their own table of contents with :toc:
	config := configuration.NewConfiguration(
		configuration.WithHeaderFooter(false),
	)

	if _, err := libasciidoc.Convert(bytes.NewReader(data), output, config); err != nil {
		return "", fmt.Errorf("failed to convert asciidoc: %w", err)
	}

	html := output.String()

	s.mu.Lock()
	s.cache[name] = html
	s.mu.Unlock()

	return html, nil
}

// ListDocs returns the available document names, sorted.
func (s *Service) ListDocs() ([]string, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, err
	}

	var docs []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".adoc") {
			docs = append(docs, strings.TrimSuffix(entry.Name(), ".adoc"))
		}
	}
	sort.Strings(docs)
	return docs, nil
}
