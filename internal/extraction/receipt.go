package extraction

import (
	"encoding/json"
	"fmt"
	"time"
)

// dateLayout is the ISO 8601 calendar date format used on the wire
const dateLayout = "2006-01-02"

// Date is a calendar date without a time component
type Date struct {
	time.Time
}

// NewDate creates a Date from year, month and day
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// String returns the date in YYYY-MM-DD format
func (d Date) String() string {
	return d.Format(dateLayout)
}

// MarshalJSON encodes the date as a YYYY-MM-DD string
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a YYYY-MM-DD string
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("unmarshaling date: %w", err)
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("parsing date %q: %w", s, err)
	}
	d.Time = t
	return nil
}

// LineItem is a single purchased item recovered from the receipt text
type LineItem struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Receipt contains the structured fields recovered from receipt text.
// Optional fields are nil when no heuristic matched.
type Receipt struct {
	MerchantName    *string    `json:"merchant_name"`
	TotalAmount     *float64   `json:"total_amount"`
	TaxAmount       float64    `json:"tax_amount"`
	Date            *Date      `json:"date"`
	LineItems       []LineItem `json:"line_items"`
	Address         *string    `json:"address"`
	Phone           *string    `json:"phone"`
	RawText         string     `json:"raw_text"`
	ConfidenceScore float64    `json:"confidence_score"`
}

// Empty returns the all-null receipt produced for unreadable input
func Empty() Receipt {
	return Receipt{LineItems: []LineItem{}}
}

// Status tags how an extraction run went
type Status string

const (
	// StatusOK means the image was preprocessed and produced text
	StatusOK Status = "ok"
	// StatusDegraded means preprocessing fell back to a plain grayscale decode
	StatusDegraded Status = "degraded"
	// StatusNoText means no text could be extracted from the image
	StatusNoText Status = "no_text"
)

// Result is the outcome of running the pipeline over one image
type Result struct {
	Status  Status  `json:"status"`
	Receipt Receipt `json:"receipt"`
}

// clamp keeps a score within [0,1]
func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
