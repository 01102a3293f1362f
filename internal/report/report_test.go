package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yourorg/httpsnap/pkg/types"
)

func fixture() (*types.Session, []types.Capture) {
	sess := &types.Session{ID: "sess_20240301_001", Source: types.SourceHAR, Label: "checkout", Host: "api.example.com", CreatedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	caps := []types.Capture{
		{Seq: 1, Method: "GET", Path: "/v1/orders/42", StatusCode: 200, RequestBodyState: types.NoBody, ResponseBodyState: types.PlainBody, DurationMs: 12, Rendered: "Snapshot{\nrequestMethod=\"GET\"\n}", Encoded: "H4sIabc"},
		{Seq: 2, Method: "GET", Path: "/v1/orders/43", StatusCode: 404, RequestBodyState: types.NoBody, ResponseBodyState: types.PlainBody, Rendered: "Snapshot{}"},
		{Seq: 3, Method: "POST", Path: "/v1/users/3f2504e0-4f89-41d3-9a0c-0305e82c3301/avatar", StatusCode: 201, RequestBodyState: types.BinaryBody, ResponseBodyState: types.NoBody, Rendered: "Snapshot{}"},
		{Seq: 4, Method: "GET", Path: "/v1/health", Failed: true, RequestBodyState: types.NoBody, ResponseBodyState: types.PlainBody, Rendered: "Snapshot{}"},
	}
	return sess, caps
}

func TestRenderMarkdown(t *testing.T) {
	sess, caps := fixture()
	outDir := t.TempDir()
	if err := RenderMarkdown(sess, caps, outDir, "http://127.0.0.1:4280"); err != nil {
		t.Fatalf("RenderMarkdown error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(outDir, "captures.md"))
	if err != nil {
		t.Fatalf("read captures.md: %v", err)
	}
	md := string(data)
	for _, want := range []string{
		"# checkout",
		"| 1 | GET | `/v1/orders/42` | 200 | 12 ms | NO_BODY | PLAIN_BODY |",
		"| 4 | GET | `/v1/health` | failed |",
		"[Open in viewer](http://127.0.0.1:4280/v1/r/H4sIabc)",
		"requestMethod=\"GET\"",
	} {
		if !strings.Contains(md, want) {
			t.Fatalf("captures.md missing %q:\n%s", want, md)
		}
	}
	if strings.Count(md, "Open in viewer") != 1 {
		t.Fatalf("only encoded captures get a viewer link")
	}
}

func TestRenderMarkdownNilSession(t *testing.T) {
	if err := RenderMarkdown(nil, nil, t.TempDir(), ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRenderOpenAPIAndValidate(t *testing.T) {
	sess, caps := fixture()
	outDir := t.TempDir()
	if err := RenderOpenAPI(sess, caps, outDir); err != nil {
		t.Fatalf("RenderOpenAPI error: %v", err)
	}
	path := filepath.Join(outDir, "openapi.yaml")
	if errs := ValidateOpenAPI(path); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var spec struct {
		Info  map[string]string `yaml:"info"`
		Paths map[string]map[string]struct {
			Parameters []struct {
				Name   string            `yaml:"name"`
				In     string            `yaml:"in"`
				Schema map[string]string `yaml:"schema"`
			} `yaml:"parameters"`
			Responses map[string]struct {
				Description string `yaml:"description"`
			} `yaml:"responses"`
		} `yaml:"paths"`
	}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if spec.Info["title"] != "checkout" {
		t.Fatalf("unexpected title %q", spec.Info["title"])
	}
	orders, ok := spec.Paths["/v1/orders/{id}"]["get"]
	if !ok {
		t.Fatalf("numeric segment not templated: %v", spec.Paths)
	}
	if len(orders.Responses) != 2 || orders.Responses["404"].Description != "Not Found" {
		t.Fatalf("unexpected responses %+v", orders.Responses)
	}
	if len(orders.Parameters) != 1 || orders.Parameters[0].In != "path" || orders.Parameters[0].Schema["type"] != "integer" {
		t.Fatalf("unexpected parameters %+v", orders.Parameters)
	}
	avatar, ok := spec.Paths["/v1/users/{id}/avatar"]["post"]
	if !ok || avatar.Parameters[0].Schema["format"] != "uuid" {
		t.Fatalf("uuid segment not templated: %v", spec.Paths)
	}
	if _, ok := spec.Paths["/v1/health"]; ok {
		t.Fatalf("failed captures should be skipped")
	}
}

func TestValidateOpenAPIReportsProblems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openapi.yaml")
	if err := os.WriteFile(path, []byte("info: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if errs := ValidateOpenAPI(path); len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
}

func TestTemplatePath(t *testing.T) {
	got, params := templatePath("/a/1/b/2")
	if got != "/a/{id}/b/{id2}" || len(params) != 2 {
		t.Fatalf("unexpected %s %v", got, params)
	}
	if got, _ := templatePath(""); got != "/" {
		t.Fatalf("unexpected %s", got)
	}
}
