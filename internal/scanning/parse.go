package scanning

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// fieldsPrompt is the prompt shared by LLM-backed scanners.
const fieldsPrompt = `You are analyzing a receipt or invoice document. Carefully read all text in the image and extract the following information:

1. **Vendor**: The merchant, store or business name, usually the largest text at the top of the receipt. Examples: "Walmart", "CVS Pharmacy", "Shell".

2. **Date**: The transaction, purchase or invoice date, converted to ISO 8601 format (YYYY-MM-DD). Common printed formats: MM/DD/YYYY, DD/MM/YYYY, or written dates.

3. **Total Amount**: The final total, grand total or amount due, usually at the bottom and labeled "TOTAL", "Amount Due" or similar. Extract only the numeric value (e.g. 42.75 for $42.75).

Return ONLY valid JSON in this exact format:
{
  "vendor": "Store Name",
  "date": "YYYY-MM-DD",
  "amount": 0.00
}

Important:
- The vendor must be the actual business name printed on the receipt
- The date must be in YYYY-MM-DD format
- The amount must be a number (not a string), representing dollars and cents
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// dateFormats are the layouts accepted when normalizing extracted dates.
// MM/dd/yy and MM/dd/yyyy are the formats the bill entry form accepts;
// the rest show up on printed receipts.
var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"02-01-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

// normalizeDate converts a date string in any accepted format to ISO 8601.
// Returns ok=false when no format matches.
func normalizeDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, layout := range dateFormats {
		if d, err := time.Parse(layout, s); err == nil {
			return d.Format("2006-01-02"), true
		}
	}
	return "", false
}

// parseFieldsJSON parses the JSON emitted by an LLM scanner and normalizes
// the fields. Missing dates default to today, missing vendors to a placeholder,
// so the caller always gets a draft the user can correct.
func parseFieldsJSON(text string) (*ReceiptFields, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Models occasionally wrap the object in prose; cut to the outermost braces.
	start := strings.Index(text, "{")
	if start == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	end := strings.LastIndex(text, "}")
	if end == -1 || end < start {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[start : end+1]

	var fields ReceiptFields
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	normalizeFields(&fields)
	return &fields, nil
}

// normalizeFields applies the draft defaults to extracted fields.
func normalizeFields(fields *ReceiptFields) {
	if iso, ok := normalizeDate(fields.Date); ok {
		fields.Date = iso
	} else {
		fields.Date = time.Now().Format("2006-01-02")
	}

	fields.Vendor = strings.TrimSpace(fields.Vendor)
	if fields.Vendor == "" {
		fields.Vendor = "Unknown Vendor"
	}
}

var (
	// totalLine matches receipt lines that carry the final amount.
	totalLine = regexp.MustCompile(`(?i)\b(grand\s+total|amount\s+due|balance\s+due|total)\b`)

	// skipTotalLine filters out running subtotals and tax lines.
	skipTotalLine = regexp.MustCompile(`(?i)\b(sub\s*-?\s*total|tax|tip|change|cash|tend)\b`)

	// moneyValue matches a currency amount like $1,234.56 or 12.99.
	moneyValue = regexp.MustCompile(`\$?\s*((?:\d{1,3}(?:,\d{3})+|\d+)\.\d{2})`)

	// dateCandidate matches the date shapes printed on receipts.
	dateCandidate = regexp.MustCompile(`\b(\d{4}[-/]\d{1,2}[-/]\d{1,2}|\d{1,2}[-/]\d{1,2}[-/]\d{2,4})\b`)
)

// parseAmount converts a currency string such as "$1,234.56" to a float.
func parseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// parseReceiptText extracts vendor, date and amount from raw OCR output.
//
// Heuristics: the vendor is the first header-like line, the date is the first
// parseable date candidate, and the amount comes from a TOTAL-style line,
// falling back to the largest currency value on the receipt. Fields that
// cannot be recovered are left at their draft defaults for the user to fill in.
func parseReceiptText(text string) *ReceiptFields {
	fields := &ReceiptFields{}

	lines := strings.Split(text, "\n")

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if fields.Vendor == "" && looksLikeVendor(line) {
			fields.Vendor = line
		}

		if fields.Date == "" {
			if m := dateCandidate.FindString(line); m != "" {
				if iso, ok := normalizeDate(m); ok {
					fields.Date = iso
				}
			}
		}

		if fields.Amount == 0 && totalLine.MatchString(line) && !skipTotalLine.MatchString(line) {
			values := moneyValue.FindAllStringSubmatch(line, -1)
			if len(values) > 0 {
				// The amount is the last value on the line ("TOTAL 3 ITEMS 12.99").
				if v, ok := parseAmount(values[len(values)-1][1]); ok {
					fields.Amount = v
				}
			}
		}
	}

	if fields.Amount == 0 {
		fields.Amount = largestAmount(text)
	}

	normalizeFields(fields)
	return fields
}

// looksLikeVendor reports whether a line is a plausible store header.
func looksLikeVendor(line string) bool {
	if len(line) < 3 || len(line) > 60 {
		return false
	}
	if dateCandidate.MatchString(line) || moneyValue.MatchString(line) {
		return false
	}
	letters := 0
	for _, r := range line {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') {
			letters++
		}
	}
	return letters >= 3
}

// largestAmount returns the biggest currency value in the text, or zero.
func largestAmount(text string) float64 {
	var max float64
	for _, m := range moneyValue.FindAllStringSubmatch(text, -1) {
		if v, ok := parseAmount(m[1]); ok && v > max {
			max = v
		}
	}
	return max
}
