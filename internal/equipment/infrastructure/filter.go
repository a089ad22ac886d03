package infrastructure

import (
	"fmt"
	"strings"

	"github.com/aed-compliance/platform/internal/access"
	"github.com/aed-compliance/platform/internal/region"
)

// SidoLabels maps profile region codes onto the province labels stored in
// equipment rows.
type SidoLabels interface {
	SidoLabel(code string) string
}

var _ SidoLabels = (*region.Table)(nil)

// where accumulates AND-ed conditions with numbered placeholders.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	for _, a := range args {
		w.args = append(w.args, a)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
}

func (w *where) next() int {
	return len(w.args) + 1
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conds, " AND ")
}

// scopeColumns returns the province and district columns for a criterion.
func scopeColumns(c access.MatchCriterion) (sido, gugun string) {
	if c == access.MatchByJurisdiction {
		return "jurisdiction_sido", "jurisdiction_gugun"
	}
	return "sido", "gugun"
}

// applyFilter adds the scope conditions of f. A non-nil empty serial list
// and an unknown region code both render as FALSE.
func applyFilter(w *where, f access.EquipmentFilter, labels SidoLabels) {
	switch {
	case f.IsUnfiltered():
		return
	case f.MatchesNone():
		w.add("FALSE")
		return
	case f.ConstrainsSerials():
		w.add("equipment_serial = ANY(?)", f.EquipmentSerialIn)
		return
	}

	sidoCol, gugunCol := scopeColumns(f.Criterion)
	if f.Sido != nil {
		label := labels.SidoLabel(*f.Sido)
		if label == "" {
			w.add("FALSE")
			return
		}
		w.add(sidoCol+" = ?", label)
	}
	if f.Gugun != nil {
		w.add(gugunCol+" = ?", *f.Gugun)
	}
}

// ScopeClause renders f as a standalone WHERE clause.
func ScopeClause(f access.EquipmentFilter, labels SidoLabels) (string, []any) {
	w := &where{}
	applyFilter(w, f, labels)
	return w.String(), w.args
}
