package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var errNoPDFText = errors.New("no text in PDF")

type pdfDoc struct {
	Title     string
	Content   string
	PageCount int
}

// extractPDF reads every page's content stream and joins the text of pages
// that have any. Streams are decoded lazily per page, so a page that cannot
// be decoded is logged and skipped instead of failing the document.
func extractPDF(body []byte, sourceURL string, logger *slog.Logger) (*pdfDoc, error) {
	ctx, err := api.ReadContext(bytes.NewReader(body), model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("pdfcpu page count: %w", err)
	}

	doc := &pdfDoc{PageCount: ctx.PageCount}

	var pages []string
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
		if err != nil {
			logger.Warn("failed to extract text from page", "url", sourceURL, "page", pageNr, "err", err)
			continue
		}
		if r == nil {
			continue
		}
		data, err := io.ReadAll(r)
		if err != nil {
			logger.Warn("failed to read page content", "url", sourceURL, "page", pageNr, "err", err)
			continue
		}
		if text := streamText(data); text != "" {
			pages = append(pages, text)
		}
	}

	if len(pages) == 0 {
		return doc, errNoPDFText
	}

	doc.Content = strings.Join(pages, "\n\n")
	doc.Title = pdfTitle(strings.TrimSpace(ctx.Title), sourceURL)
	return doc, nil
}

// pdfTitle prefers document metadata, then the URL's file name.
func pdfTitle(meta, sourceURL string) string {
	if meta != "" {
		return meta
	}
	if u, err := url.Parse(sourceURL); err == nil {
		if name := path.Base(u.Path); name != "" && name != "." && name != "/" {
			return name
		}
	}
	return "PDF Document"
}

// streamText pulls shown strings out of a page content stream. It handles
// literal and hex strings, the Tj, TJ, ' and " operators, and turns line
// moves into line breaks. Fonts with custom encodings come out as bytes.
func streamText(data []byte) string {
	var out strings.Builder
	var pending []string

	flush := func() {
		for _, s := range pending {
			out.WriteString(s)
		}
		pending = pending[:0]
	}
	newline := func() {
		if out.Len() > 0 {
			out.WriteByte('\n')
		}
	}

	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case c == '%':
			for i < len(data) && data[i] != '\n' && data[i] != '\r' {
				i++
			}
		case c == '(':
			s, n := readLiteral(data[i:])
			pending = append(pending, s)
			i += n
		case c == '<' && i+1 < len(data) && data[i+1] == '<':
			i += 2
		case c == '>' && i+1 < len(data) && data[i+1] == '>':
			i += 2
		case c == '<':
			s, n := readHex(data[i:])
			pending = append(pending, s)
			i += n
		case isSpace(c) || c == '[' || c == ']' || c == '{' || c == '}':
			i++
		default:
			start := i
			if c == '/' {
				i++
			}
			for i < len(data) && !isSpace(data[i]) && !isDelim(data[i]) {
				i++
			}
			if i == start {
				i++
				continue
			}
			tok := string(data[start:i])
			switch {
			case tok[0] == '/':
				// name operand
			case isNumber(tok):
				// A wide negative kern inside TJ stands in for a space
				if v, err := strconv.ParseFloat(tok, 64); err == nil && v <= -200 && len(pending) > 0 {
					pending = append(pending, " ")
				}
			case tok == "Tj" || tok == "TJ":
				flush()
			case tok == "'" || tok == `"`:
				newline()
				flush()
			case tok == "Td" || tok == "TD" || tok == "Tm":
				pending = pending[:0]
				if out.Len() > 0 {
					out.WriteByte(' ')
				}
			case tok == "T*" || tok == "ET":
				pending = pending[:0]
				newline()
			default:
				pending = pending[:0]
			}
		}
	}

	var lines []string
	for _, line := range strings.Split(out.String(), "\n") {
		if line = collapse(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isDelim(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

func isNumber(tok string) bool {
	digits := 0
	for i, r := range tok {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.':
		case (r == '-' || r == '+') && i == 0:
		default:
			return false
		}
	}
	return digits > 0
}

// readLiteral decodes a (...) string with nested parentheses and escapes and
// returns the consumed length.
func readLiteral(data []byte) (string, int) {
	var b []byte
	depth := 0
	i := 0
	for ; i < len(data); i++ {
		c := data[i]
		switch c {
		case '(':
			if depth > 0 {
				b = append(b, c)
			}
			depth++
		case ')':
			depth--
			if depth == 0 {
				return decodeText(b), i + 1
			}
			b = append(b, c)
		case '\\':
			if i+1 >= len(data) {
				continue
			}
			i++
			switch e := data[i]; e {
			case 'n':
				b = append(b, '\n')
			case 'r':
				b = append(b, '\r')
			case 't':
				b = append(b, '\t')
			case 'b':
				b = append(b, '\b')
			case 'f':
				b = append(b, '\f')
			case '\r', '\n':
				// line continuation
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for k := 0; k < 2 && i+1 < len(data) && data[i+1] >= '0' && data[i+1] <= '7'; k++ {
						i++
						v = v*8 + int(data[i]-'0')
					}
					b = append(b, byte(v))
				} else {
					b = append(b, e)
				}
			}
		default:
			b = append(b, c)
		}
	}
	return decodeText(b), i
}

// readHex decodes a <...> string and returns the consumed length.
func readHex(data []byte) (string, int) {
	var b []byte
	var hi byte
	half := false
	i := 1
	for ; i < len(data) && data[i] != '>'; i++ {
		v, ok := hexVal(data[i])
		if !ok {
			continue
		}
		if half {
			b = append(b, hi<<4|v)
		} else {
			hi = v
		}
		half = !half
	}
	if half {
		b = append(b, hi<<4)
	}
	if i < len(data) {
		i++
	}
	return decodeText(b), i
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// decodeText turns PDF string bytes into UTF-8: UTF-16BE when the byte order
// mark is present, otherwise one rune per byte.
func decodeText(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		u := make([]uint16, 0, (len(b)-2)/2)
		for i := 2; i+1 < len(b); i += 2 {
			u = append(u, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(u))
	}
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return string(r)
}
