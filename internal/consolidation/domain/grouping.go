package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// InvoiceGroup holds one customer's overdue invoices in a single currency.
type InvoiceGroup struct {
	CustomerID snowflake.ID
	Currency   string
	Invoices   []OverdueInvoice
}

func (g InvoiceGroup) Total() decimal.Decimal {
	total := decimal.Zero
	for _, inv := range g.Invoices {
		total = total.Add(inv.Amount)
	}
	return total
}

// OldestAgeDays returns whole days since the earliest due date.
func (g InvoiceGroup) OldestAgeDays(asOf time.Time) int {
	var oldest time.Time
	for i, inv := range g.Invoices {
		if i == 0 || inv.DueDate.Before(oldest) {
			oldest = inv.DueDate
		}
	}
	if oldest.IsZero() || !oldest.Before(asOf) {
		return 0
	}
	return int(asOf.Sub(oldest) / (24 * time.Hour))
}

type groupKey struct {
	customerID snowflake.ID
	currency   string
}

// GroupInvoices groups by (customer, currency). Groups below two invoices are
// dropped; groups above maxInvoices are returned separately and never truncated.
func GroupInvoices(invoices []OverdueInvoice, maxInvoices int) (groups []InvoiceGroup, oversized []InvoiceGroup) {
	index := make(map[groupKey]int)
	var all []InvoiceGroup
	for _, inv := range invoices {
		key := groupKey{customerID: inv.CustomerID, currency: strings.ToUpper(strings.TrimSpace(inv.Currency))}
		pos, ok := index[key]
		if !ok {
			pos = len(all)
			index[key] = pos
			all = append(all, InvoiceGroup{CustomerID: key.customerID, Currency: key.currency})
		}
		all[pos].Invoices = append(all[pos].Invoices, inv)
	}

	for _, group := range all {
		sort.SliceStable(group.Invoices, func(i, j int) bool {
			a, b := group.Invoices[i], group.Invoices[j]
			if !a.DueDate.Equal(b.DueDate) {
				return a.DueDate.Before(b.DueDate)
			}
			return a.ID < b.ID
		})
		switch n := len(group.Invoices); {
		case n < 2:
			continue
		case maxInvoices > 0 && n > maxInvoices:
			oversized = append(oversized, group)
		default:
			groups = append(groups, group)
		}
	}
	return groups, oversized
}

// SortCandidates orders by priority desc, base total desc, total desc, customer asc, currency asc.
func SortCandidates(candidates []ConsolidationCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		if c := a.TotalAmountBase.Cmp(b.TotalAmountBase); c != 0 {
			return c > 0
		}
		if c := a.TotalAmount.Cmp(b.TotalAmount); c != 0 {
			return c > 0
		}
		if a.CustomerID != b.CustomerID {
			return a.CustomerID < b.CustomerID
		}
		return a.Currency < b.Currency
	})
}
