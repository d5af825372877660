package api

import (
	"html/template"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

var docPage = template.Must(template.New("doc").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>vrm: {{.Name}}</title></head>
<body>
<nav>{{range .List}}<a href="?name={{.}}">{{.}}</a> {{end}}</nav>
<main>{{.Content}}</main>
</body></html>
`))

// @Title: Operator Docs
// @Route: GET /api/docs?name=relay
// @Description: Renders an operator document from asciidoc to HTML. Without a name, lists the documents
// @Response: text/html page, or {"docs": ["api", "relay"]}
func (s *Service) HandleDocs(w http.ResponseWriter, r *http.Request) {
	if s.docs == nil {
		s.writeError(w, http.StatusNotFound, "docs are not available")
		return
	}
	list, err := s.docs.ListDocs()
	if err != nil {
		s.log.Error("list docs", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to list docs")
		return
	}

	name := strings.TrimSuffix(r.URL.Query().Get("name"), ".adoc")
	if name == "" {
		s.writeJSON(w, http.StatusOK, map[string][]string{"docs": list})
		return
	}
	known := false
	for _, d := range list {
		if d == name {
			known = true
			break
		}
	}
	if !known {
		s.writeError(w, http.StatusNotFound, "no such document")
		return
	}

	html, err := s.docs.GetDoc(r.Context(), name)
	if err != nil {
		s.log.Error("render doc", zap.String("name", name), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to render document")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := docPage.Execute(w, struct {
		Name    string
		List    []string
		Content template.HTML
	}{name, list, template.HTML(html)}); err != nil {
		s.log.Debug("write doc", zap.Error(err))
	}
}
