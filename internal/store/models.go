package store

import (
	"math"
	"time"
)

type TestStatus string

const (
	StatusDraft     TestStatus = "draft"
	StatusActive    TestStatus = "active"
	StatusPaused    TestStatus = "paused"
	StatusCompleted TestStatus = "completed"
)

type TestType string

const (
	TypeConversion   TestType = "conversion"
	TypeEngagement   TestType = "engagement"
	TypeClickThrough TestType = "click_through"
)

type EventType string

const (
	EventView        EventType = "view"
	EventInteraction EventType = "interaction"
	EventConversion  EventType = "conversion"
)

// ValidEventType reports whether s names one of the three ledger event types.
func ValidEventType(s string) bool {
	switch EventType(s) {
	case EventView, EventInteraction, EventConversion:
		return true
	}
	return false
}

type Test struct {
	ID                string
	Name              string
	Type              TestType
	Status            TestStatus
	StartDate         time.Time
	EndDate           *time.Time
	MinimumSampleSize int
	ConfidenceLevel   int // 90, 95 or 99
	AutoDeclareWinner bool
	WinnerVariantID   *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Variant binds a test to an underlying creative (popup or form id,
// opaque to the engine) with an integer traffic percentage.
type Variant struct {
	ID           string
	TestID       string
	CreativeID   string
	TrafficSplit int // percent, 1-100; all variants of a test sum to 100
	Position     int // stable iteration order within the test
}

// Assignment is the sticky (visitor, test) -> variant binding. Created on
// first exposure, immutable afterward.
type Assignment struct {
	VisitorID string
	TestID    string
	VariantID string
	CreatedAt time.Time
}

type Event struct {
	ID        int64
	TestID    string
	VariantID string
	Type      EventType
	PageURL   string
	CreatedAt time.Time
}

// VariantMetrics is derived from the ledger, never stored.
type VariantMetrics struct {
	VariantID    string
	CreativeID   string
	TrafficSplit int
	Displays     int
	Interactions int
	Conversions  int
	// ConversionRate is conversions/displays as a percentage rounded to two
	// decimals. Display only; statistics operate on the raw counts.
	ConversionRate float64
}

// DailyPoint is one day of the per-variant time series.
type DailyPoint struct {
	Date        string // YYYY-MM-DD
	Views       int
	Conversions int
}

// Rate returns conversions/displays as a percentage rounded to two decimals.
func Rate(conversions, displays int) float64 {
	if displays == 0 {
		return 0
	}
	r := float64(conversions) / float64(displays) * 100
	return math.Round(r*100) / 100
}
