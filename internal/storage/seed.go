package storage

import (
	"github.com/Veraticus/dompet/internal/model"
)

type sampleRow struct {
	description string
	category    string
	kind        model.Kind
	amount      int64
	day         int
}

// Amounts are in thousands of the ledger's minor unit.
var sampleRows = []sampleRow{
	{kind: model.KindIncome, amount: 5000, description: "Monthly Salary", category: "Salary", day: 1},
	{kind: model.KindExpense, amount: 1200, description: "Rent Payment", category: "Housing", day: 5},
	{kind: model.KindExpense, amount: 85, description: "Grocery Shopping", category: "Food", day: 10},
	{kind: model.KindExpense, amount: 45, description: "Netflix Subscription", category: "Entertainment", day: 15},
	{kind: model.KindIncome, amount: 1000, description: "Freelance Work", category: "Side Hustle", day: 18},
	{kind: model.KindExpense, amount: 60, description: "Dinner With Friends", category: "Dining Out", day: 20},
	{kind: model.KindExpense, amount: 120, description: "Electric Bill", category: "Utilities", day: 25},
	{kind: model.KindExpense, amount: 35, description: "Gas", category: "Transportation", day: 28},
	{kind: model.KindIncome, amount: 250, description: "Tax Refund", category: "Other Income", day: 28},
}

// SampleTransactions returns a month of demo rows dated within month's
// calendar month, scaled by scale (e.g. 1000 for rupiah).
func SampleTransactions(month model.Date, scale int64) []model.NewTransaction {
	if scale <= 0 {
		scale = 1
	}
	t := month.Time()
	out := make([]model.NewTransaction, 0, len(sampleRows))
	for _, r := range sampleRows {
		out = append(out, model.NewTransaction{
			Kind:        r.kind,
			Amount:      r.amount * scale,
			Description: r.description,
			Category:    r.category,
			OccurredOn:  model.NewDate(t.Year(), t.Month(), r.day),
		})
	}
	return out
}
