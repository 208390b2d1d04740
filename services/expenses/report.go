// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package expenses analyses departmental expense reports with a reasoning
// model and streams the model's reasoning summary as it is produced.
package expenses

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultPeriod is the only period shipped with the sample data.
const DefaultPeriod = "Q4_2024"

//go:embed data/expenses.yaml
var sampleData []byte

// Expense is one line of an expense report.
type Expense struct {
	Date        string  `yaml:"date" json:"date"`
	Employee    string  `yaml:"employee" json:"employee"`
	Category    string  `yaml:"category" json:"category"`
	Vendor      string  `yaml:"vendor" json:"vendor"`
	Amount      float64 `yaml:"amount" json:"amount"`
	Description string  `yaml:"description" json:"description"`
	ApprovedBy  string  `yaml:"approved_by" json:"approved_by"`
}

// Policy holds the company spending limits the model checks against.
type Policy struct {
	MealLimitPerPerson         float64 `yaml:"meal_limit_per_person" json:"meal_limit_per_person"`
	DomesticFlightClass        string  `yaml:"domestic_flight_class" json:"domestic_flight_class"`
	InternationalFlightClass   string  `yaml:"international_flight_class" json:"international_flight_class"`
	HotelNightlyLimit          float64 `yaml:"hotel_nightly_limit" json:"hotel_nightly_limit"`
	EquipmentApprovalThreshold float64 `yaml:"equipment_approval_threshold" json:"equipment_approval_threshold"`
	ReceiptRequiredAbove       float64 `yaml:"receipt_required_above" json:"receipt_required_above"`
}

// Report is a department's expenses for one period.
type Report struct {
	// Period is the display label, e.g. "Q4 2024 (Oct-Dec)".
	Period        string    `yaml:"period"`
	Department    string    `yaml:"department"`
	Budget        float64   `yaml:"budget"`
	Expenses      []Expense `yaml:"expenses"`
	CompanyPolicy Policy    `yaml:"company_policy"`
}

// CategoryTotal is the spend of one category.
type CategoryTotal struct {
	Category string
	Amount   float64
}

// Totals summarises a report's spend.
type Totals struct {
	Spent      float64
	Remaining  float64
	ByCategory []CategoryTotal
}

var (
	loadOnce sync.Once
	reports  map[string]Report
	loadErr  error
)

func loadSamples() (map[string]Report, error) {
	loadOnce.Do(func() {
		var doc struct {
			Periods map[string]Report `yaml:"periods"`
		}
		if err := yaml.Unmarshal(sampleData, &doc); err != nil {
			loadErr = fmt.Errorf("failed to parse expense samples: %w", err)
			return
		}
		reports = doc.Periods
	})
	return reports, loadErr
}

// Load returns the sample report for a period id such as "Q4_2024".
func Load(period string) (*Report, error) {
	all, err := loadSamples()
	if err != nil {
		return nil, err
	}
	r, ok := all[period]
	if !ok {
		return nil, fmt.Errorf("No expense data found for period: %s", period)
	}
	r.Expenses = append([]Expense(nil), r.Expenses...)
	return &r, nil
}

// Totals computes total spend, remaining budget and per-category spend.
// Categories are ordered by amount, largest first.
func (r *Report) Totals() Totals {
	byCat := make(map[string]float64)
	var spent float64
	for _, e := range r.Expenses {
		spent += e.Amount
		byCat[e.Category] += e.Amount
	}
	cats := make([]CategoryTotal, 0, len(byCat))
	for c, amt := range byCat {
		cats = append(cats, CategoryTotal{Category: c, Amount: amt})
	}
	sort.Slice(cats, func(i, j int) bool {
		if cats[i].Amount != cats[j].Amount {
			return cats[i].Amount > cats[j].Amount
		}
		return cats[i].Category < cats[j].Category
	})
	return Totals{Spent: spent, Remaining: r.Budget - spent, ByCategory: cats}
}

// Summary renders the totals as short plain text for the chat model.
func (t Totals) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total spend: %s\nRemaining budget: %s\nBy category:", FormatMoney(t.Spent), FormatMoney(t.Remaining))
	for _, c := range t.ByCategory {
		fmt.Fprintf(&b, "\n- %s: %s", c.Category, FormatMoney(c.Amount))
	}
	return b.String()
}

// BuildPrompt returns the analysis prompt for the reasoning model.
func BuildPrompt(r *Report) (string, error) {
	expensesJSON, err := json.MarshalIndent(r.Expenses, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode expenses: %w", err)
	}
	policyJSON, err := json.MarshalIndent(r.CompanyPolicy, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode policy: %w", err)
	}

	return fmt.Sprintf(`Analyse the following expense report for the %s department (%s).

EXPENSE DATA:
%s

COMPANY POLICY:
%s

BUDGET: %s

Please provide a thorough analysis including:
1. Total spending vs budget
2. Any policy violations or concerns
3. Spending patterns by category and employee
4. Specific items that need review
5. Recommendations for cost optimisation

Be specific and cite actual expense items when identifying issues.`,
		r.Department, r.Period, expensesJSON, policyJSON, FormatMoney(r.Budget)), nil
}

// FormatMoney renders v as "$1,234.56". Negative values get a leading "-".
func FormatMoney(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatFloat(v, 'f', 2, 64)
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, d := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	return sign + "$" + b.String() + "." + frac
}
