package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

var errNoHTMLContent = errors.New("no readable text in HTML")

// noise is removed before the precision pass.
const noise = "script, style, noscript, template, iframe, svg, canvas, form, button, " +
	"nav, header, footer, aside, " +
	"[role=navigation], [role=banner], [role=contentinfo], [role=complementary], [aria-hidden=true], " +
	"#comments, .comments, .comment, .sidebar, .advert, .advertisement, .share, .social, .cookie-banner"

// invisible is removed before the recall pass.
const invisible = "script, style, noscript, template, svg, canvas"

const blocks = "h1, h2, h3, h4, h5, h6, p, li, blockquote, pre, table, dt, dd, figcaption"

// extractHTML returns the page title and readable text. A precision pass
// keeps block-level text inside the main content region; when that yields
// nothing, a recall pass keeps all visible body text.
func extractHTML(body []byte, contentType string) (title, content string, err error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return "Untitled", "", errNoHTMLContent
	}

	doc, err := parseHTML(body, contentType)
	if err != nil {
		return "", "", err
	}

	title = pageTitle(doc)

	content = precision(doc)
	if content == "" {
		// The precision pass pruned the tree, so recall starts from a fresh parse
		doc, err = parseHTML(body, contentType)
		if err != nil {
			return "", "", err
		}
		content = recallText(doc)
	}
	if content == "" {
		return title, "", errNoHTMLContent
	}
	return title, content, nil
}

// parseHTML decodes body to UTF-8 using the declared or sniffed charset.
func parseHTML(body []byte, contentType string) (*goquery.Document, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, fmt.Errorf("HTML extraction failed: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("HTML extraction failed: %w", err)
	}
	return doc, nil
}

func pageTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if t := collapse(og); t != "" {
			return t
		}
	}
	if t := collapse(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return "Untitled"
}

func precision(doc *goquery.Document) string {
	doc.Find(noise).Remove()

	root := doc.Find("body")
	for _, sel := range []string{"article", "main", "[role=main]"} {
		if s := doc.Find(sel).First(); s.Length() > 0 && collapse(s.Text()) != "" {
			root = s
			break
		}
	}

	var parts []string
	root.Find(blocks).Each(func(_ int, s *goquery.Selection) {
		// Nested blocks are emitted by their outermost ancestor
		if s.ParentsFiltered(blocks).Length() > 0 {
			return
		}
		var text string
		if goquery.NodeName(s) == "table" {
			text = tableText(s)
		} else {
			text = collapse(s.Text())
		}
		if text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n\n")
}

// tableText renders each row as "cell | cell".
func tableText(table *goquery.Selection) string {
	var rows []string
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("th, td").Each(func(_ int, c *goquery.Selection) {
			if t := collapse(c.Text()); t != "" {
				cells = append(cells, t)
			}
		})
		if len(cells) > 0 {
			rows = append(rows, strings.Join(cells, " | "))
		}
	})
	return strings.Join(rows, "\n")
}

func recallText(doc *goquery.Document) string {
	doc.Find(invisible).Remove()

	var lines []string
	for _, line := range strings.Split(doc.Find("body").Text(), "\n") {
		if line = collapse(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
