package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const annotated = `package api

// @Title: Cast Vote
// @Route: POST /api/vote
// @Description: Relays a vote
// @Response: {"success": true}
func HandleVote() {}

// @Title: Incomplete
// @Response: ignored
func Other() {}

// @Title: Operator Docs
// @Route: GET /api/docs
// @Description: Renders a document.
// @Response: text/html page
func HandleDocs() {}
`

func TestParseAndRender(t *testing.T) {
	endpoints, err := parse(strings.NewReader(annotated))
	require.NoError(t, err)
	require.Equal(t, []Endpoint{
		{Title: "Cast Vote", Route: "POST /api/vote", Description: "Relays a vote", Response: `{"success": true}`},
		{Title: "Operator Docs", Route: "GET /api/docs", Description: "Renders a document.", Response: "text/html page"},
	}, endpoints)

	var out strings.Builder
	require.NoError(t, render(&out, endpoints))
	doc := out.String()
	require.True(t, strings.HasPrefix(doc, "= vrm HTTP API\n"))
	require.Contains(t, doc, "== Cast Vote\n\n`POST /api/vote`\n\nRelays a vote.\n\n[source,json]\n----\n{\"success\": true}\n----\n")
	require.Contains(t, doc, "Renders a document.\n\nResponse: text/html page\n")
}
