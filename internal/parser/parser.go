package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/unicode/norm"

	"study-rag/internal/models"
)

const pageSeparator = "\n\n"

var (
	docxParagraphRe = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	docxTextRe      = regexp.MustCompile(`(?s)<w:t(?: [^>]*)?>(.*?)</w:t>`)
	pptxTextRe      = regexp.MustCompile(`(?s)<a:t>(.*?)</a:t>`)
	pptxSlideRe     = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
)

// Extract reads a file's bytes into per-page text, choosing the reader by extension.
// Formats without physical pages map their natural unit (sheet, slide) to a page.
func Extract(filename string, data []byte) (*models.Extraction, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return ExtractPDF(data)
	case ".docx":
		return extractDOCX(data)
	case ".pptx":
		return extractPPTX(data)
	case ".xlsx":
		return extractXLSX(data)
	case ".xlsm":
		return extractXLSM(data)
	case ".txt", ".md":
		return newExtraction([]string{string(data)}), nil
	default:
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedFile, ext)
	}
}

// ExtractPDF returns the text of every page in order. A page that cannot be
// read becomes an empty string; a stream that is not a PDF fails with
// *models.ExtractionError.
func ExtractPDF(data []byte) (ex *models.Extraction, err error) {
	defer func() {
		if r := recover(); r != nil {
			ex, err = nil, &models.ExtractionError{Err: fmt.Errorf("pdf reader panic: %v", r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &models.ExtractionError{Err: err}
	}

	numPages := reader.NumPage()
	pages := make([]string, numPages)
	for i := 1; i <= numPages; i++ {
		text, err := pageText(reader, i)
		if err != nil {
			log.Warn().Err(err).Int("page", i).Msg("Failed to extract page text, keeping it empty")
			continue
		}
		pages[i-1] = text
	}
	return newExtraction(pages), nil
}

func pageText(reader *pdf.Reader, num int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("page %d: %v", num, r)
		}
	}()
	page := reader.Page(num)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

func extractDOCX(data []byte) (*models.Extraction, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &models.ExtractionError{Err: err}
	}
	defer r.Close()

	var paragraphs []string
	for _, p := range docxParagraphRe.FindAllString(r.Editable().GetContent(), -1) {
		var line strings.Builder
		for _, m := range docxTextRe.FindAllStringSubmatch(p, -1) {
			line.WriteString(html.UnescapeString(m[1]))
		}
		if strings.TrimSpace(line.String()) != "" {
			paragraphs = append(paragraphs, line.String())
		}
	}
	// DOCX has no page numbers
	return newExtraction([]string{strings.Join(paragraphs, "\n")}), nil
}

func extractPPTX(data []byte) (*models.Extraction, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &models.ExtractionError{Err: err}
	}

	slides := map[int]string{}
	for _, file := range zr.File {
		m := pptxSlideRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		rc, err := file.Open()
		if err != nil {
			slides[num] = ""
			continue
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			slides[num] = ""
			continue
		}
		var text []string
		for _, t := range pptxTextRe.FindAllStringSubmatch(string(raw), -1) {
			text = append(text, html.UnescapeString(t[1]))
		}
		slides[num] = strings.Join(text, " ")
	}

	nums := make([]int, 0, len(slides))
	for n := range slides {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	pages := make([]string, len(nums))
	for i, n := range nums {
		pages[i] = slides[n]
	}
	return newExtraction(pages), nil
}

func extractXLSX(data []byte) (*models.Extraction, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, &models.ExtractionError{Err: err}
	}

	pages := make([]string, 0, len(f.Sheets))
	for _, sheet := range f.Sheets {
		var text strings.Builder
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			for _, cell := range row.Cells {
				text.WriteString(cell.String() + "\t")
			}
			text.WriteString("\n")
		}
		pages = append(pages, text.String())
	}
	return newExtraction(pages), nil
}

func extractXLSM(data []byte) (*models.Extraction, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &models.ExtractionError{Err: err}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	pages := make([]string, len(sheets))
	for i, sheetName := range sheets {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			log.Warn().Err(err).Str("sheet", sheetName).Msg("Failed to read sheet, keeping it empty")
			continue
		}
		var text strings.Builder
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheetName))
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
		pages[i] = text.String()
	}
	return newExtraction(pages), nil
}

func newExtraction(texts []string) *models.Extraction {
	pages := make([]models.Page, len(texts))
	joined := make([]string, len(texts))
	for i, t := range texts {
		t = normalize(t)
		pages[i] = models.Page{Number: i + 1, Text: t}
		joined[i] = t
	}
	return &models.Extraction{
		Text:      strings.Join(joined, pageSeparator),
		PageCount: len(pages),
		Pages:     pages,
	}
}

// normalize folds ligatures and compatibility forms and drops NUL bytes,
// which postgres text columns reject.
func normalize(s string) string {
	if s == "" {
		return s
	}
	return norm.NFKC.String(strings.ReplaceAll(s, "\x00", ""))
}
