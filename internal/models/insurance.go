package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InsuranceStatus is derived on read from the deadline and listing state.
type InsuranceStatus string

const (
	InsuranceActive  InsuranceStatus = "active"
	InsuranceExpired InsuranceStatus = "expired"
	InsuranceResold  InsuranceStatus = "resold"
)

// InsuranceStatusFilter selects records in a tracker query.
type InsuranceStatusFilter string

const (
	InsuranceFilterAll     InsuranceStatusFilter = "all"
	InsuranceFilterActive  InsuranceStatusFilter = "active"
	InsuranceFilterExpired InsuranceStatusFilter = "expired"
)

// Valid reports whether f is a known filter.
func (f InsuranceStatusFilter) Valid() bool {
	return f == InsuranceFilterAll || f == InsuranceFilterActive || f == InsuranceFilterExpired
}

// InsuranceRecord is the tracker view of an insured license.
type InsuranceRecord struct {
	License      *License        `json:"license"`
	Status       InsuranceStatus `json:"status"`
	Deadline     time.Time       `json:"deadline"`
	InsuranceFee decimal.Decimal `json:"insurance_fee"`
	IsOverdue    bool            `json:"isOverdue"`
	DaysOverdue  int             `json:"daysOverdue"`
}

// InsuranceSummary aggregates the unpaginated filtered record set.
type InsuranceSummary struct {
	Total              int             `json:"total"`
	Expired            int             `json:"expired"`
	Overdue            int             `json:"overdue"`
	TotalInsuranceFees decimal.Decimal `json:"totalInsuranceFees"`
}

// InsuranceRecords is the response of an insurance tracker query.
type InsuranceRecords struct {
	Records    []*InsuranceRecord `json:"records"`
	Summary    InsuranceSummary   `json:"summary"`
	Pagination Pagination         `json:"pagination"`
}
