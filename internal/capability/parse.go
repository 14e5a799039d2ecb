package capability

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"html"
	"mime"
	"net/url"
	"strconv"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"

	"github.com/pgainullin/pa-workflow/internal/attachment"
)

// Parse turns an attachment or inline content into plain text.
type Parse struct {
	Attachments attachment.Resolver
}

func (p *Parse) Name() string { return "parse" }

func (p *Parse) Description() string {
	return "Extract plain text from an email attachment or inline content. " +
		"Params: file_id or filename (attachment reference), or text/html (inline content). " +
		"Outputs: parsed_text, content_type, filename, data (structured content for JSON and CSV)."
}

func (p *Parse) Execute(ctx context.Context, params map[string]any) (Result, error) {
	if s := String(params, "html"); s != "" {
		return parseContent([]byte(s), "text/html", "")
	}
	if s := String(params, "text", "content"); s != "" {
		return parseContent([]byte(s), "text/plain", "")
	}

	ref := String(params, "file_id", "attachment_id", "filename", "attachment", "file")
	if ref == "" {
		return Fail("parse: one of file_id, filename, text or html is required"), nil
	}
	if p.Attachments == nil {
		return Fail("parse: no attachments available"), nil
	}
	f, err := p.Attachments.Resolve(ctx, ref)
	if errors.Is(err, attachment.ErrNotFound) {
		return Fail("parse: attachment %s not found", ref), nil
	}
	if err != nil {
		return nil, err
	}
	data, err := f.Data()
	if err != nil {
		return nil, err
	}
	return parseContent(data, f.MediaType(), f.Filename)
}

func parseContent(data []byte, contentType, filename string) (Result, error) {
	out := map[string]any{"content_type": contentType, "filename": filename}

	switch {
	case contentType == "text/html" || contentType == "application/xhtml+xml":
		title, text, err := htmlText(data, nil)
		if err != nil {
			return Fail("parse: %v", err), nil
		}
		out["title"] = title
		out["parsed_text"] = text
	case contentType == "application/json" || strings.HasSuffix(contentType, "+json"):
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return Fail("parse: invalid JSON in %s: %v", displayName(filename), err), nil
		}
		out["parsed_text"] = string(data)
		out["data"] = v
	case contentType == "text/csv":
		rows, err := csvRecords(data)
		if err != nil {
			return Fail("parse: invalid CSV in %s: %v", displayName(filename), err), nil
		}
		out["parsed_text"] = string(data)
		out["data"] = rows
	case strings.HasPrefix(contentType, "text/"):
		out["parsed_text"] = string(data)
	default:
		return Fail("parse: unsupported content type %s for %s", contentType, displayName(filename)), nil
	}

	out["length"] = len([]rune(out["parsed_text"].(string)))
	return OK(out), nil
}

// htmlText extracts the readable content of an HTML document and strips any
// remaining markup.
func htmlText(data []byte, pageURL *url.URL) (string, string, error) {
	if pageURL == nil {
		pageURL = &url.URL{Scheme: "file", Path: "/"}
	}
	policy := bluemonday.StrictPolicy()

	article, err := readability.FromReader(bytes.NewReader(data), pageURL)
	text := ""
	title := ""
	if err == nil {
		title = article.Title
		text = cleanText(policy.Sanitize(article.TextContent))
	}
	if text == "" {
		text = cleanText(policy.Sanitize(string(data)))
	}
	if text == "" && err != nil {
		return "", "", err
	}
	return strings.TrimSpace(title), text, nil
}

func cleanText(s string) string {
	s = html.UnescapeString(s)
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// csvRecords decodes a CSV document with a header row into records, with
// numeric cells converted to numbers.
func csvRecords(data []byte) ([]any, error) {
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []any{}, nil
	}
	header := rows[0]
	records := make([]any, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(map[string]any, len(header))
		for i, h := range header {
			if i >= len(row) {
				break
			}
			cell := strings.TrimSpace(row[i])
			if n, err := strconv.ParseFloat(cell, 64); err == nil {
				rec[h] = n
			} else {
				rec[h] = cell
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func displayName(filename string) string {
	if filename == "" {
		return "inline content"
	}
	return filename
}

func mediaType(header string) string {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(header))
	}
	return mt
}
