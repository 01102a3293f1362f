package report

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/httpsnap/internal/viewer"
	"github.com/yourorg/httpsnap/pkg/types"
)

// RenderMarkdown writes outputDir/captures.md: an index table followed by
// every rendered snapshot. viewerBase, when set, adds a viewer link per
// capture that has an encoded form.
func RenderMarkdown(sess *types.Session, captures []types.Capture, outputDir, viewerBase string) error {
	if sess == nil {
		return fmt.Errorf("session is nil")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}

	b := &strings.Builder{}
	title := sess.Label
	if title == "" {
		title = sess.ID
	}
	fmt.Fprintf(b, "# %s\n\n", title)
	fmt.Fprintf(b, "- Session: `%s`\n- Source: %s\n- Host: %s\n- Captures: %d\n- Created: %s\n\n",
		sess.ID, sess.Source, sess.Host, len(captures), sess.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST"))

	fmt.Fprintln(b, "| # | Method | Path | Status | Duration | Request body | Response body |")
	fmt.Fprintln(b, "|---|---|---|---|---|---|---|")
	for _, c := range captures {
		fmt.Fprintf(b, "| %d | %s | `%s` | %s | %d ms | %s | %s |\n",
			c.Seq, c.Method, c.Path, statusCell(c), c.DurationMs, c.RequestBodyState, c.ResponseBodyState)
	}

	for _, c := range captures {
		fmt.Fprintf(b, "\n## %d. %s %s\n\n", c.Seq, c.Method, c.Path)
		if viewerBase != "" && c.Encoded != "" {
			fmt.Fprintf(b, "[Open in viewer](%s)\n\n", viewer.URL(viewerBase, c.Encoded))
		}
		b.WriteString("```\n")
		b.WriteString(c.Rendered)
		b.WriteString("\n```\n")
	}

	return os.WriteFile(filepath.Join(outputDir, "captures.md"), []byte(b.String()), 0o644)
}

func statusCell(c types.Capture) string {
	if c.Failed {
		return "failed"
	}
	return strconv.Itoa(c.StatusCode)
}

// RenderOpenAPI writes an OpenAPI 3.0 skeleton of the observed method,
// path and status combinations to outputDir/openapi.yaml. Numeric and UUID
// path segments become path parameters.
func RenderOpenAPI(sess *types.Session, captures []types.Capture, outputDir string) error {
	if sess == nil {
		return fmt.Errorf("session is nil")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}

	title := sess.Label
	if title == "" {
		title = sess.Host
	}
	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":   title,
			"version": "1.0.0",
		},
	}
	if sess.Host != "" {
		spec["servers"] = []map[string]interface{}{{"url": "https://" + sess.Host}}
	}

	paths := map[string]interface{}{}
	for _, c := range captures {
		if c.Failed || c.Method == "" {
			continue
		}
		tmpl, params := templatePath(c.Path)
		pathItem, ok := paths[tmpl].(map[string]interface{})
		if !ok {
			pathItem = map[string]interface{}{}
			paths[tmpl] = pathItem
		}
		method := strings.ToLower(c.Method)
		op, ok := pathItem[method].(map[string]interface{})
		if !ok {
			op = map[string]interface{}{
				"summary":   c.Method + " " + tmpl,
				"responses": map[string]interface{}{},
			}
			if len(params) > 0 {
				op["parameters"] = params
			}
			pathItem[method] = op
		}
		responses := op["responses"].(map[string]interface{})
		code := strconv.Itoa(c.StatusCode)
		if _, seen := responses[code]; !seen {
			desc := http.StatusText(c.StatusCode)
			if desc == "" {
				desc = "observed"
			}
			responses[code] = map[string]interface{}{"description": desc}
		}
	}
	spec["paths"] = paths

	data, err := yaml.Marshal(spec)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outputDir, "openapi.yaml"), data, 0o644)
}

func templatePath(p string) (string, []map[string]interface{}) {
	if p == "" {
		return "/", nil
	}
	segs := strings.Split(p, "/")
	var params []map[string]interface{}
	for i, seg := range segs {
		var schema map[string]interface{}
		if _, err := strconv.ParseInt(seg, 10, 64); err == nil {
			schema = map[string]interface{}{"type": "integer"}
		} else if _, err := uuid.Parse(seg); err == nil && len(seg) == 36 {
			schema = map[string]interface{}{"type": "string", "format": "uuid"}
		} else {
			continue
		}
		name := "id"
		if len(params) > 0 {
			name = fmt.Sprintf("id%d", len(params)+1)
		}
		segs[i] = "{" + name + "}"
		params = append(params, map[string]interface{}{
			"name":     name,
			"in":       "path",
			"required": true,
			"schema":   schema,
		})
	}
	return strings.Join(segs, "/"), params
}

// ValidateOpenAPI performs basic validation for generated OpenAPI YAML.
func ValidateOpenAPI(yamlPath string) []string {
	data, err := os.ReadFile(yamlPath)
	if err != nil {
		return []string{err.Error()}
	}
	var spec map[string]interface{}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return []string{err.Error()}
	}
	var errs []string
	if _, ok := spec["openapi"]; !ok {
		errs = append(errs, "missing openapi field")
	}
	paths, ok := spec["paths"].(map[string]interface{})
	if !ok || len(paths) == 0 {
		errs = append(errs, "missing or empty paths")
		return errs
	}
	names := make([]string, 0, len(paths))
	for p := range paths {
		names = append(names, p)
	}
	sort.Strings(names)
	for _, p := range names {
		item, ok := paths[p].(map[string]interface{})
		if !ok {
			errs = append(errs, fmt.Sprintf("invalid path item for %s", p))
			continue
		}
		for method, op := range item {
			opMap, ok := op.(map[string]interface{})
			if !ok {
				errs = append(errs, fmt.Sprintf("invalid operation %s %s", method, p))
				continue
			}
			if _, ok := opMap["responses"]; !ok {
				errs = append(errs, fmt.Sprintf("missing responses for %s %s", method, p))
			}
		}
	}
	return errs
}
