// Command docgen regenerates internal/docs/api.adoc from the @Title,
// @Route, @Description and @Response annotations on the API handlers.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

type Endpoint struct {
	Title       string
	Route       string
	Description string
	Response    string
}

var (
	reTitle = regexp.MustCompile(`// @Title: (.*)`)
	reRoute = regexp.MustCompile(`// @Route: (.*)`)
	reDesc  = regexp.MustCompile(`// @Description: (.*)`)
	reResp  = regexp.MustCompile(`// @Response: (.*)`)
)

func main() {
	apiDir := "internal/api"
	out := "internal/docs/api.adoc"
	if len(os.Args) > 2 {
		apiDir, out = os.Args[1], os.Args[2]
	}

	endpoints, err := collect(apiDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	f, err := os.Create(out)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer f.Close()
	if err := render(f, endpoints); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("Generated %s (%d endpoints)\n", out, len(endpoints))
}

func collect(apiDir string) ([]Endpoint, error) {
	files, err := os.ReadDir(apiDir)
	if err != nil {
		return nil, err
	}

	var endpoints []Endpoint
	for _, file := range files {
		name := file.Name()
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := os.Open(filepath.Join(apiDir, name))
		if err != nil {
			return nil, err
		}
		found, err := parse(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		endpoints = append(endpoints, found...)
	}
	return endpoints, nil
}

// parse reads annotation blocks. @Response closes a block.
func parse(r io.Reader) ([]Endpoint, error) {
	var endpoints []Endpoint
	var current Endpoint

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		if match := reTitle.FindStringSubmatch(line); len(match) > 1 {
			current.Title = strings.TrimSpace(match[1])
		}
		if match := reRoute.FindStringSubmatch(line); len(match) > 1 {
			current.Route = strings.TrimSpace(match[1])
		}
		if match := reDesc.FindStringSubmatch(line); len(match) > 1 {
			current.Description = strings.TrimSpace(match[1])
		}
		if match := reResp.FindStringSubmatch(line); len(match) > 1 {
			current.Response = strings.TrimSpace(match[1])
			if current.Title != "" && current.Route != "" {
				endpoints = append(endpoints, current)
			}
			current = Endpoint{}
		}
	}
	return endpoints, scanner.Err()
}

func render(w io.Writer, endpoints []Endpoint) error {
	var b strings.Builder
	b.WriteString("= vrm HTTP API\n:toc:\n\n")
	b.WriteString("Generated from handler annotations by cmd/docgen. Do not edit by hand.\n")

	for _, ep := range endpoints {
		fmt.Fprintf(&b, "\n== %s\n\n`%s`\n\n%s.\n\n", ep.Title, ep.Route, strings.TrimSuffix(ep.Description, "."))
		if strings.HasPrefix(ep.Response, "{") || strings.HasPrefix(ep.Response, "[") {
			fmt.Fprintf(&b, "[source,json]\n----\n%s\n----\n", ep.Response)
		} else {
			fmt.Fprintf(&b, "Response: %s\n", ep.Response)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
