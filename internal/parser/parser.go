package parser

import (
	"bytes"
	"io"
	"mime"
	"net/mail"
	"regexp"
	"strings"

	"github.com/emersion/go-message"
)

// Extracted is the header and body material the ingestion pipeline
// needs from a raw message.
type Extracted struct {
	MessageID *string
	Subject   string
	From      string
	To        string
	Body      string
}

var (
	htmlTagPattern = regexp.MustCompile(`<[^>]*>`)
	boundaryParam  = regexp.MustCompile(`(?i)boundary="?([^";\r\n]+)"?`)
	foldedHeader   = regexp.MustCompile(`\n[ \t]+`)
)

// Extract parses a raw MIME message into the fields the pipeline
// stores. Parsing is best-effort: a malformed message falls back to a
// heuristic multipart scan rather than failing, so a permanently broken
// message never wedges the poller.
func Extract(raw []byte) Extracted {
	extracted, err := extractEntity(raw)
	if err == nil {
		return extracted
	}
	return extractHeuristic(raw)
}

func extractEntity(raw []byte) (Extracted, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return Extracted{}, err
	}

	extracted := Extracted{
		Subject: decodeHeader(entity.Header.Get("Subject")),
		From:    entity.Header.Get("From"),
		To:      entity.Header.Get("To"),
	}
	if id := normalizeMessageID(entity.Header.Get("Message-Id")); id != "" {
		extracted.MessageID = &id
	}

	var plain, html string
	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				break
			}
			content, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			contentType := part.Header.Get("Content-Type")
			if strings.Contains(contentType, "text/plain") && plain == "" {
				plain = string(content)
			} else if strings.Contains(contentType, "text/html") && html == "" {
				html = string(content)
			}
		}
	} else {
		content, err := io.ReadAll(entity.Body)
		if err != nil {
			return Extracted{}, err
		}
		contentType := entity.Header.Get("Content-Type")
		if strings.Contains(contentType, "text/html") {
			html = string(content)
		} else {
			plain = string(content)
		}
	}

	extracted.Body = chooseBody(plain, html)
	return extracted, nil
}

// extractHeuristic is the fallback path for messages go-message cannot
// read: split headers off by the first blank line, then scan multipart
// boundaries by hand.
func extractHeuristic(raw []byte) Extracted {
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	headerBlock, payload, found := strings.Cut(text, "\n\n")
	if !found {
		headerBlock = text
		payload = ""
	}
	// Folded header continuation lines join their header before the
	// line-by-line scan.
	headerBlock = foldedHeader.ReplaceAllString(headerBlock, " ")

	extracted := Extracted{
		Subject: decodeHeader(headerValue(headerBlock, "Subject")),
		From:    headerValue(headerBlock, "From"),
		To:      headerValue(headerBlock, "To"),
	}
	if id := normalizeMessageID(headerValue(headerBlock, "Message-Id")); id != "" {
		extracted.MessageID = &id
	}

	extracted.Body = strings.TrimSpace(ExtractPlainText(payload, boundaryFrom(headerBlock)))
	return extracted
}

// ExtractPlainText pulls a plain-text body out of a multipart payload
// given its boundary. With no boundary the payload is returned as-is.
// Exposed with explicit inputs so it can be tested in isolation.
func ExtractPlainText(payload, boundary string) string {
	if boundary == "" {
		return payload
	}
	var plain, html string
	for _, part := range strings.Split(payload, "--"+boundary) {
		part = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(part), "--"))
		if part == "" {
			continue
		}
		partHeader, partBody, found := strings.Cut(part, "\n\n")
		if !found {
			continue
		}
		lower := strings.ToLower(partHeader)
		if strings.Contains(lower, "text/plain") && plain == "" {
			plain = partBody
		} else if strings.Contains(lower, "text/html") && html == "" {
			html = partBody
		}
	}
	return chooseBody(plain, html)
}

func chooseBody(plain, html string) string {
	if strings.TrimSpace(plain) != "" {
		return strings.TrimSpace(plain)
	}
	if html != "" {
		return StripHTML(html)
	}
	return ""
}

// StripHTML reduces an HTML body to readable plain text.
func StripHTML(html string) string {
	text := html
	replacements := []struct {
		from string
		to   string
	}{
		{"<br>", "\n"},
		{"<br/>", "\n"},
		{"<br />", "\n"},
		{"<p>", "\n"},
		{"</p>", "\n"},
		{"<div>", "\n"},
		{"</div>", "\n"},
		{"&nbsp;", " "},
		{"&amp;", "&"},
		{"&lt;", "<"},
		{"&gt;", ">"},
		{"&quot;", "\""},
	}
	for _, replacement := range replacements {
		text = strings.ReplaceAll(text, replacement.from, replacement.to)
	}
	text = htmlTagPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

func headerValue(headerBlock, name string) string {
	for _, line := range strings.Split(headerBlock, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(key), name) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func boundaryFrom(headerBlock string) string {
	m := boundaryParam.FindStringSubmatch(headerBlock)
	if m == nil {
		return ""
	}
	return m[1]
}

// Address extracts the bare address from a From or To header value.
// Falls back to the trimmed raw value when the header does not parse.
func Address(value string) string {
	addr, err := mail.ParseAddress(value)
	if err != nil {
		return strings.TrimSpace(value)
	}
	return addr.Address
}

// DisplayName extracts the display name from a From header value, if
// any.
func DisplayName(value string) string {
	addr, err := mail.ParseAddress(value)
	if err != nil {
		return ""
	}
	return addr.Name
}

// normalizeMessageID strips the surrounding angle brackets from a
// Message-Id header value.
func normalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return id
}

func decodeHeader(value string) string {
	decoder := mime.WordDecoder{}
	decoded, err := decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}
