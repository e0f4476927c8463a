package extraction

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	merchantPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^[A-Z][A-Z\s&]+[A-Z]$`),          // all caps company names
		regexp.MustCompile(`^[A-Za-z]+(?:\s+[A-Za-z]+){1,3}$`), // 1-4 word names
	}

	totalPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)total[:\s]*\$?([\d,]+\.\d{2})`),
		regexp.MustCompile(`(?i)amount[:\s]*\$?([\d,]+\.\d{2})`),
		regexp.MustCompile(`(?i)sum[:\s]*\$?([\d,]+\.\d{2})`),
		regexp.MustCompile(`(?m)\$([\d,]+\.\d{2})\s*$`),
		regexp.MustCompile(`(?i)([\d,]+\.\d{2})\s*(?:total|sum|amount)`),
	}

	taxPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)tax[:\s]*\$?([\d,]+\.\d{2})`),
		regexp.MustCompile(`(?i)hst[:\s]*\$?([\d,]+\.\d{2})`),
		regexp.MustCompile(`(?i)gst[:\s]*\$?([\d,]+\.\d{2})`),
		regexp.MustCompile(`(?i)pst[:\s]*\$?([\d,]+\.\d{2})`),
	}

	// Word boundaries keep a pattern from starting inside a longer number,
	// so "2024-01-15" is read as Y-M-D instead of "24-01-15".
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`),
		regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2}\b`),
		regexp.MustCompile(`\b\d{2,4}[/-]\d{1,2}[/-]\d{1,2}\b`),
		regexp.MustCompile(`\b[A-Za-z]{3,9}\s+\d{1,2},?\s+\d{4}\b`), // Jan 15, 2024
		regexp.MustCompile(`\b\d{1,2}\s+[A-Za-z]{3,9}\s+\d{4}\b`),   // 15 Jan 2024
	}

	dateLayouts = []string{
		"1/2/2006", "1-2-2006", "1/2/06", "1-2-06",
		"2006/1/2", "2006-1-2",
		"2/1/2006", "2-1-2006", "2/1/06", "2-1-06",
		"Jan 2, 2006", "January 2, 2006", "2 Jan 2006", "2 January 2006",
	}

	lineItemPattern = regexp.MustCompile(`^(.+?)\s+\$?([\d,]+\.\d{2})$`)
	lineItemSkip    = []string{"total", "tax", "tip", "subtotal", "change", "cash"}

	addressPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\d+\s+[A-Za-z\s]+(?:St|Street|Ave|Avenue|Rd|Road|Blvd|Boulevard|Dr|Drive)`),
		regexp.MustCompile(`[A-Za-z\s]+,\s*[A-Z]{2}\s+\d{5}`), // City, ST ZIP
	}

	phonePattern = regexp.MustCompile(`\(?(\d{3})\)?[-\s.]?(\d{3})[-\s.]?(\d{4})`)

	dollarPattern      = regexp.MustCompile(`\$[\d,]+\.\d{2}`)
	numericDatePattern = regexp.MustCompile(`\d{1,2}[/-]\d{1,2}[/-]\d{2,4}`)
	totalWordPattern   = regexp.MustCompile(`(?i)total`)
)

// Parse recovers structured receipt fields from raw OCR text.
// Every field is best effort: a field with no matching heuristic is left nil
// (or zero for the tax amount) and never causes an error.
func Parse(rawText string) Receipt {
	text := strings.TrimSpace(rawText)
	if text == "" {
		return Empty()
	}

	return Receipt{
		RawText:         text,
		MerchantName:    MerchantName(text),
		TotalAmount:     TotalAmount(text),
		Date:            TransactionDate(text),
		LineItems:       LineItems(text),
		TaxAmount:       TaxAmount(text),
		Address:         Address(text),
		Phone:           Phone(text),
		ConfidenceScore: Confidence(text),
	}
}

// MerchantName looks for the store name near the top of the receipt
func MerchantName(text string) *string {
	lines := strings.Split(text, "\n")

	head := lines
	if len(head) > 5 {
		head = head[:5]
	}
	for _, line := range head {
		line = strings.TrimSpace(line)
		if len(line) < 3 || len(line) > 50 {
			continue
		}
		for _, p := range merchantPatterns {
			if p.MatchString(line) {
				return &line
			}
		}
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) > 2 {
			return &line
		}
	}
	return nil
}

// TotalAmount returns the largest amount matched by any of the total patterns.
// Totals are usually the largest figure on a receipt, so the maximum wins over
// subtotals and line items that also match.
func TotalAmount(text string) *float64 {
	var (
		best  float64
		found bool
	)
	for _, p := range totalPatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			amount, err := parseAmount(m[1])
			if err != nil {
				continue
			}
			if !found || amount > best {
				best = amount
				found = true
			}
		}
	}
	if !found {
		return nil
	}
	return &best
}

// TaxAmount returns the first tax-like amount, or 0 when none is present
func TaxAmount(text string) float64 {
	for _, p := range taxPatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			if amount, err := parseAmount(m[1]); err == nil {
				return amount
			}
		}
	}
	return 0
}

// TransactionDate finds the first date-like substring and parses it
func TransactionDate(text string) *Date {
	for _, p := range datePatterns {
		match := p.FindString(text)
		if match == "" {
			continue
		}
		return parseDate(match)
	}
	return nil
}

// parseDate tries each known layout in order
func parseDate(s string) *Date {
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		d := NewDate(t.Year(), t.Month(), t.Day())
		return &d
	}
	return nil
}

// LineItems returns lines that end in a price, skipping summary lines
func LineItems(text string) []LineItem {
	items := make([]LineItem, 0)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		m := lineItemPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		price, err := parseAmount(m[2])
		if err != nil {
			continue
		}
		if isSummaryLine(name) {
			continue
		}
		items = append(items, LineItem{Name: name, Price: price})
	}
	return items
}

func isSummaryLine(name string) bool {
	lower := strings.ToLower(name)
	for _, skip := range lineItemSkip {
		if strings.Contains(lower, skip) {
			return true
		}
	}
	return false
}

// Address returns the first line that looks like a street address or "City, ST ZIP"
func Address(text string) *string {
	for _, line := range strings.Split(text, "\n") {
		for _, p := range addressPatterns {
			if p.MatchString(line) {
				addr := strings.TrimSpace(line)
				return &addr
			}
		}
	}
	return nil
}

// Phone returns the first North American phone number as (AAA) BBB-CCCC
func Phone(text string) *string {
	m := phonePattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	phone := fmt.Sprintf("(%s) %s-%s", m[1], m[2], m[3])
	return &phone
}

// Confidence scores how receipt-like the text is, in steps of 0.2
func Confidence(text string) float64 {
	score := 0.0

	if len(strings.TrimSpace(text)) > 10 {
		score += 0.2
	}
	if dollarPattern.MatchString(text) {
		score += 0.2
	}
	if numericDatePattern.MatchString(text) {
		score += 0.2
	}
	if totalWordPattern.MatchString(text) {
		score += 0.2
	}
	if len(strings.Split(text, "\n")) > 5 {
		score += 0.2
	}

	return clamp(score)
}

func parseAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return v, nil
}
