package normalizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"

	"docqa/internal/config"
	"docqa/internal/models"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrEmptyDocument     = errors.New("document contains no extractable text")
	ErrFetch             = errors.New("url fetch failed")
)

// Normalizer converts heterogeneous inputs into plain Unicode text.
type Normalizer struct {
	client   *http.Client
	maxBytes int64
}

func New(cfg *config.Config) *Normalizer {
	return &Normalizer{
		client:   &http.Client{Timeout: time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second},
		maxBytes: cfg.RAG.MaxUploadSize,
	}
}

// NormalizeFile extracts plain text from raw file bytes of the declared kind.
func (n *Normalizer) NormalizeFile(name string, data []byte, kind models.SourceType) (string, error) {
	var (
		text string
		err  error
	)
	switch kind {
	case models.SourceTypePDF:
		text, err = extractPDF(data)
	case models.SourceTypeDOCX:
		text, err = extractDOCX(data)
	case models.SourceTypeTXT:
		text, err = extractTXT(data)
	case models.SourceTypeMD:
		text, err = extractMarkdown(data)
	case models.SourceTypeXLSX:
		text, err = extractXLSX(data)
	case models.SourceTypeODS:
		text, err = extractODS(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, kind)
	}
	if err != nil {
		return "", fmt.Errorf("normalize %s: %w", name, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("normalize %s: %w", name, ErrEmptyDocument)
	}
	return text, nil
}

// FetchURL downloads a page and extracts its visible text.
func (n *Normalizer) FetchURL(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: invalid url %q", ErrFetch, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d from %s", ErrFetch, resp.StatusCode, rawURL)
	}

	body := io.LimitReader(resp.Body, n.maxBytes)
	text, err := extractHTML(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("fetch %s: %w", rawURL, ErrEmptyDocument)
	}
	log.Debug().Str("url", rawURL).Int("chars", len(text)).Msg("Fetched page text")
	return text, nil
}

// KindForName guesses the source type from a file name extension.
func KindForName(name string) (models.SourceType, error) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return "", fmt.Errorf("%w: no extension on %q", ErrUnsupportedFormat, name)
	}
	switch strings.ToLower(name[idx+1:]) {
	case "pdf":
		return models.SourceTypePDF, nil
	case "docx":
		return models.SourceTypeDOCX, nil
	case "txt":
		return models.SourceTypeTXT, nil
	case "md", "markdown":
		return models.SourceTypeMD, nil
	case "xlsx":
		return models.SourceTypeXLSX, nil
	case "ods":
		return models.SourceTypeODS, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", err
		}
		text.WriteString(pageText)
		text.WriteString("\n")
	}
	return text.String(), nil
}

func extractDOCX(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	defer r.Close()

	content := r.Editable().GetContent()
	return extractTextFromXML(content, "<w:t"), nil
}

func extractTXT(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errors.New("text file is not valid UTF-8")
	}
	return string(data), nil
}

func extractXLSX(data []byte) (string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, sheet := range f.Sheets {
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			for _, cell := range row.Cells {
				text.WriteString(cell.String() + "\t")
			}
			text.WriteString("\n")
		}
	}
	return text.String(), nil
}

func extractODS(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer f.Close()

	var text strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheetName))
		for _, row := range rows {
			for _, cell := range row {
				text.WriteString(cell + "\t")
			}
			text.WriteString("\n")
		}
	}
	return text.String(), nil
}

// extractTextFromXML pulls the character data out of repeated XML text
// elements, e.g. "<w:t" for DOCX runs.
func extractTextFromXML(xmlContent, openTag string) string {
	closeTag := "</" + openTag[1:] + ">"
	var text strings.Builder
	parts := strings.Split(xmlContent, openTag)
	for i, part := range parts {
		if i == 0 {
			continue
		}
		// a prefix match on another element name is not our tag
		if !strings.HasPrefix(part, ">") && !strings.HasPrefix(part, " ") && !strings.HasPrefix(part, "/") {
			continue
		}
		// skip the rest of the opening tag attributes
		gt := strings.Index(part, ">")
		if gt < 0 {
			continue
		}
		part = part[gt+1:]
		endIdx := strings.Index(part, closeTag)
		if endIdx >= 0 {
			text.WriteString(part[:endIdx] + " ")
		}
	}
	return text.String()
}
