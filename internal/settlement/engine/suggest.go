package engine

import (
	"sort"

	"splitledger/internal/settlement/models"
	id "splitledger/pkg/domain"
)

// SuggestSettlements produces transactions that zero a group's net balances
// by repeatedly matching the largest creditor with the largest debtor. This
// is a heuristic, not an optimal min-cash-flow solver (that problem is
// NP-hard in general): it runs in O(n log n) for n members and always
// terminates in at most n-1 transactions, each of which fully settles at
// least one member.
//
// The input must be zero-sum; nets that do not cancel are a ledger bug and
// yield suggestions only for the matched portion.
func SuggestSettlements(net map[id.UserID]int64) []models.Transaction {
	type stake struct {
		user   id.UserID
		amount int64
	}
	var creditors, debtors []stake
	for user, n := range net {
		switch {
		case n > 0:
			creditors = append(creditors, stake{user, n})
		case n < 0:
			debtors = append(debtors, stake{user, -n})
		}
	}
	// Largest stake first; ties broken by id for deterministic output.
	byAmount := func(s []stake) {
		sort.Slice(s, func(i, j int) bool {
			if s[i].amount != s[j].amount {
				return s[i].amount > s[j].amount
			}
			return s[i].user.String() < s[j].user.String()
		})
	}
	byAmount(creditors)
	byAmount(debtors)

	var out []models.Transaction
	ci, di := 0, 0
	for ci < len(creditors) && di < len(debtors) {
		c, d := &creditors[ci], &debtors[di]
		pay := min(c.amount, d.amount)
		out = append(out, models.Transaction{
			FromID:      d.user,
			ToID:        c.user,
			AmountCents: pay,
		})
		c.amount -= pay
		d.amount -= pay
		if c.amount == 0 {
			ci++
		}
		if d.amount == 0 {
			di++
		}
	}
	return out
}
