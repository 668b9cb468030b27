package tools

import (
	"context"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	mdparser "github.com/gomarkdown/markdown/parser"
	"github.com/ledongthuc/pdf"
	"github.com/microcosm-cc/bluemonday"

	"github.com/echogarden-io/echogarden/internal/apperr"
	"github.com/echogarden-io/echogarden/pkg/store"
)

// DocParse implements the doc_parse registry tool:
// doc_parse({blob_id}) -> {text, mime, title?, page_count?}. It supports
// plain text, Markdown, HTML and PDF; any other mime is passed through as
// raw text, matching the teacher's "best effort, never fail the pipeline on
// an unrecognized format" stance.
type DocParse struct {
	blobs    store.BlobRepo
	stripper *bluemonday.Policy
}

// NewDocParse constructs the doc_parse tool.
func NewDocParse(blobs store.BlobRepo) *DocParse {
	return &DocParse{blobs: blobs, stripper: bluemonday.StrictPolicy()}
}

func (t *DocParse) Name() string { return "doc_parse" }

func (t *DocParse) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"required":   []string{"blob_id"},
		"properties": map[string]any{"blob_id": map[string]any{"type": "string"}},
	}
}

func (t *DocParse) OutputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"text", "mime"},
		"properties": map[string]any{
			"text":       map[string]any{"type": "string"},
			"mime":       map[string]any{"type": "string"},
			"title":      map[string]any{"type": "string"},
			"page_count": map[string]any{"type": "integer"},
		},
	}
}

func (t *DocParse) Run(ctx context.Context, in map[string]any) (map[string]any, error) {
	blobID, _ := in["blob_id"].(string)
	if blobID == "" {
		return nil, apperr.New(apperr.InvalidInput, "doc_parse: blob_id must not be empty")
	}

	blob, err := t.blobs.Get(ctx, blobID)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "doc_parse: resolve blob", err)
	}

	out := map[string]any{"mime": blob.Mime}

	switch {
	case blob.Mime == "application/pdf" || strings.HasSuffix(blob.Path, ".pdf"):
		text, pages, title, err := t.parsePDF(blob.Path)
		if err != nil {
			return nil, apperr.Wrap(apperr.InvalidInput, "doc_parse: parse pdf", err)
		}
		out["text"] = text
		out["page_count"] = pages
		if title != "" {
			out["title"] = title
		}

	case blob.Mime == "text/html" || strings.HasSuffix(blob.Path, ".html") || strings.HasSuffix(blob.Path, ".htm"):
		text, title, err := t.parseHTML(blob.Path)
		if err != nil {
			return nil, apperr.Wrap(apperr.InvalidInput, "doc_parse: parse html", err)
		}
		out["text"] = text
		if title != "" {
			out["title"] = title
		}

	case blob.Mime == "text/markdown" || strings.HasSuffix(blob.Path, ".md"):
		text, title, err := t.parseMarkdown(blob.Path)
		if err != nil {
			return nil, apperr.Wrap(apperr.InvalidInput, "doc_parse: parse markdown", err)
		}
		out["text"] = text
		if title != "" {
			out["title"] = title
		}

	default:
		raw, err := os.ReadFile(blob.Path)
		if err != nil {
			return nil, apperr.Wrap(apperr.InvalidInput, "doc_parse: read file", err)
		}
		out["text"] = string(raw)
	}

	return out, nil
}

func (t *DocParse) parsePDF(path string) (text string, pages int, title string, err error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, "", err
	}
	defer f.Close()

	var sb strings.Builder
	pages = r.NumPage()
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(content)
		sb.WriteString("\n")
	}
	return sb.String(), pages, "", nil
}

func (t *DocParse) parseHTML(path string) (text, title string, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(raw)))
	if err != nil {
		return "", "", err
	}
	title = strings.TrimSpace(doc.Find("title").First().Text())
	body := strings.TrimSpace(doc.Find("body").Text())
	return t.stripper.Sanitize(body), title, nil
}

func (t *DocParse) parseMarkdown(path string) (text, title string, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	p := mdparser.NewWithExtensions(mdparser.CommonExtensions)
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags})
	rendered := markdown.ToHTML(raw, p, renderer)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(rendered)))
	if err != nil {
		return string(raw), "", nil
	}
	title = strings.TrimSpace(doc.Find("h1").First().Text())
	return strings.TrimSpace(doc.Text()), title, nil
}
