package loader

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDFPages returns the plain text of each page. When the PDF library
// cannot read the file, or reads no text at all, it falls back to scanning
// the raw content streams and returns everything as one page.
func extractPDFPages(path string) ([]string, error) {
	pages, libErr := readPDFPages(path)
	if libErr == nil && hasText(pages) {
		return pages, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	text := scanPDFText(data)
	if text == "" {
		if libErr != nil {
			return nil, fmt.Errorf("pdf: %w", libErr)
		}
		return nil, nil
	}
	return []string{text}, nil
}

func readPDFPages(path string) (pages []string, err error) {
	// the pdf package panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf: malformed document: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	n := r.NumPage()
	pages = make([]string, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, strings.TrimSpace(text))
	}
	return pages, nil
}

func hasText(pages []string) bool {
	for _, p := range pages {
		if p != "" {
			return true
		}
	}
	return false
}

// scanPDFText pulls string operands out of BT...ET text blocks. It only
// handles uncompressed content streams.
func scanPDFText(data []byte) string {
	var texts []string
	inText := false
	for i := 0; i < len(data)-1; i++ {
		if data[i] == 'B' && data[i+1] == 'T' && (i == 0 || !isAlpha(data[i-1])) {
			inText = true
			continue
		}
		if data[i] == 'E' && data[i+1] == 'T' && inText && (i+2 >= len(data) || !isAlpha(data[i+2])) {
			inText = false
			continue
		}
		if inText && data[i] == '(' {
			end := closingParen(data, i+1)
			if end < 0 {
				break
			}
			if text := unescapePDF(data[i+1 : end]); text != "" {
				texts = append(texts, text)
			}
			i = end
		}
	}
	return strings.Join(texts, " ")
}

// closingParen finds the unescaped ')' matching the '(' before start.
func closingParen(data []byte, start int) int {
	depth := 0
	for j := start; j < len(data); j++ {
		switch data[j] {
		case '\\':
			j++
		case '(':
			depth++
		case ')':
			if depth == 0 {
				return j
			}
			depth--
		}
	}
	return -1
}

func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

var pdfEscapes = strings.NewReplacer(
	`\n`, "\n",
	`\r`, "\r",
	`\t`, "\t",
	`\(`, "(",
	`\)`, ")",
	`\\`, `\`,
)

func unescapePDF(b []byte) string {
	return strings.TrimSpace(pdfEscapes.Replace(string(bytes.TrimSpace(b))))
}
