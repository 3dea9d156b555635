package provider

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"rsc.io/pdf"
)

var errUnsupportedContentType = errors.New("unsupported content type")

const pdfRuneCap = 220_000

// extractText turns a downloaded payload into plain text for scoring. HTML
// gets a title and body text, PDFs are flattened page by page, JSON is
// pretty-printed, and any other text/* type passes through normalized.
func extractText(contentType string, body []byte, maxRunes int) (title, text string, err error) {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, parseErr := mime.ParseMediaType(mediaType); parseErr == nil {
		mediaType = parsed
	}

	switch mediaType {
	case "text/html", "application/xhtml+xml":
		title, text, err = extractHTML(body)
	case "application/json":
		text = extractJSON(body)
	case "application/pdf":
		text, err = extractPDF(body)
	default:
		if strings.HasPrefix(mediaType, "text/") {
			text = normalizeText(string(body))
			break
		}
		return "", "", errUnsupportedContentType
	}
	if err != nil {
		return "", "", err
	}
	return trimToRunes(strings.TrimSpace(title), 240), trimToRunes(normalizeText(text), maxRunes), nil
}

func extractJSON(data []byte) string {
	if !json.Valid(data) {
		return normalizeText(string(data))
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		return normalizeText(string(data))
	}
	return normalizeText(pretty.String())
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	runeCount := 0
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		for _, fragment := range page.Content().Text {
			chunk := strings.TrimSpace(fragment.S)
			if chunk == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteByte('\n')
				runeCount++
			}
			builder.WriteString(chunk)
			runeCount += utf8.RuneCountInString(chunk)
			if runeCount >= pdfRuneCap {
				return trimToRunes(builder.String(), pdfRuneCap), nil
			}
		}
	}
	return normalizeText(builder.String()), nil
}

func extractHTML(data []byte) (title, text string, err error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", "", err
	}

	var builder strings.Builder
	walkHTML(doc, false, &title, &builder)
	return strings.TrimSpace(title), normalizeText(builder.String()), nil
}

func walkHTML(node *html.Node, skip bool, title *string, out *strings.Builder) {
	if node == nil {
		return
	}
	if node.Type == html.ElementNode {
		name := strings.ToLower(node.Data)
		if name == "title" && *title == "" {
			if node.FirstChild != nil && node.FirstChild.Type == html.TextNode {
				*title = strings.TrimSpace(node.FirstChild.Data)
			}
			return
		}
		switch name {
		case "script", "style", "noscript", "svg", "iframe":
			skip = true
		case "p", "div", "section", "article", "li", "h1", "h2", "h3", "h4", "h5", "h6", "br", "tr":
			if out.Len() > 0 {
				out.WriteByte('\n')
			}
		}
	}
	if node.Type == html.TextNode && !skip {
		if trimmed := strings.TrimSpace(node.Data); trimmed != "" {
			out.WriteString(trimmed)
			out.WriteByte(' ')
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		walkHTML(child, skip, title, out)
	}
}

func normalizeText(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ToValidUTF8(normalized, "")

	lines := strings.Split(normalized, "\n")
	compact := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		compact = append(compact, strings.Join(strings.Fields(trimmed), " "))
	}
	return strings.TrimSpace(strings.Join(compact, "\n"))
}

func trimToRunes(raw string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(raw) <= limit {
		return raw
	}
	return string([]rune(raw)[:limit])
}
