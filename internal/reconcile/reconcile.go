// Package reconcile groups paid intents into one registrant per real person.
//
// Keys are "id:<account>" and "email:<normalized email>". Rows are folded into a
// disjoint set in (created_at, id) order; an account root always labels its set.
// When one email is seen under two accounts the earliest account keeps it and the
// collision is reported.
package reconcile

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/lojf/academy/internal/identity"
	"github.com/lojf/academy/internal/ledger"
	"github.com/lojf/academy/internal/logger"
)

// UnknownKey labels rows that carry neither an account nor an email.
const UnknownKey = "unknown"

type Group struct {
	Key      string           `json:"key"`
	Name     string           `json:"name,omitempty"`
	Emails   []string         `json:"emails,omitempty"`
	Count    int              `json:"count"`
	Totals   map[string]int64 `json:"totals"`
	Intents  []uint           `json:"intent_ids"`
	FirstAt  time.Time        `json:"first_paid_at"`
	LatestAt time.Time        `json:"latest_paid_at"`
}

// Conflict records an email claimed by a second account.
type Conflict struct {
	Email  string `json:"email"`
	Owner  string `json:"owner"`
	Other  string `json:"other"`
	Intent uint   `json:"intent_id"`
}

type Report struct {
	Groups    []Group    `json:"groups"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

type disjointSet struct {
	parent map[string]string
}

func newDisjointSet() *disjointSet {
	return &disjointSet{parent: map[string]string{}}
}

func (d *disjointSet) add(k string) {
	if _, ok := d.parent[k]; !ok {
		d.parent[k] = k
	}
}

func (d *disjointSet) find(k string) string {
	root := k
	for d.parent[root] != root {
		root = d.parent[root]
	}
	for k != root {
		next := d.parent[k]
		d.parent[k] = root
		k = next
	}
	return root
}

// union joins the sets of a and b. An "id:" root wins; otherwise a's root does.
func (d *disjointSet) union(a, b string) {
	ra, rb := d.find(a), d.find(b)
	if ra == rb {
		return
	}
	if isAccount(rb) && !isAccount(ra) {
		ra, rb = rb, ra
	}
	d.parent[rb] = ra
}

func isAccount(k string) bool { return strings.HasPrefix(k, "id:") }

// Resolve email for a row: the row's own, then the form snapshot's email, then head.email.
func rowEmail(in ledger.Intent) string {
	candidates := []interface{}{in.UserEmail, in.Form["email"]}
	if head, ok := in.Form["head"].(map[string]interface{}); ok {
		candidates = append(candidates, head["email"])
	}
	for _, c := range candidates {
		s, ok := c.(string)
		if !ok {
			continue
		}
		if e, valid := identity.NormEmail(s); valid && e != "" {
			return e
		}
	}
	return ""
}

// Build folds paid intents into registrant groups. It never fails on malformed rows.
func Build(intents []ledger.Intent) Report {
	rows := make([]ledger.Intent, len(intents))
	copy(rows, intents)
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].ID < rows[j].ID
	})

	ds := newDisjointSet()
	var report Report
	keys := make([]string, len(rows))

	for i, in := range rows {
		email := rowEmail(in)
		var ek string
		if email != "" {
			ek = "email:" + email
			ds.add(ek)
		}
		if acct := strings.TrimSpace(in.UserID); acct != "" {
			ik := "id:" + acct
			ds.add(ik)
			keys[i] = ik
			if ek == "" {
				continue
			}
			owner := ds.find(ek)
			if isAccount(owner) && owner != ds.find(ik) {
				report.Conflicts = append(report.Conflicts, Conflict{
					Email: email, Owner: owner, Other: ik, Intent: in.ID,
				})
				continue
			}
			ds.union(ik, ek)
			continue
		}
		if ek != "" {
			keys[i] = ek
			continue
		}
		keys[i] = UnknownKey
	}

	groups := map[string]*Group{}
	var order []string
	for i, in := range rows {
		label := keys[i]
		if label != UnknownKey {
			label = ds.find(label)
		}
		g, ok := groups[label]
		if !ok {
			g = &Group{Key: label, Totals: map[string]int64{}, FirstAt: in.CreatedAt}
			groups[label] = g
			order = append(order, label)
		}
		g.Count++
		if in.CreatedAt.After(g.LatestAt) {
			g.LatestAt = in.CreatedAt
		}
		g.Intents = append(g.Intents, in.ID)
		g.Totals[in.Currency] += in.Amount
		if g.Name == "" {
			g.Name = strings.TrimSpace(in.UserName)
		}
		if e := rowEmail(in); e != "" && !contains(g.Emails, e) {
			g.Emails = append(g.Emails, e)
		}
	}

	report.Groups = make([]Group, 0, len(order))
	for _, k := range order {
		report.Groups = append(report.Groups, *groups[k])
	}
	return report
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Source supplies paid intents.
type Source interface {
	ListPaid(ctx context.Context) ([]ledger.Intent, error)
}

// Reporter builds a fresh report from the ledger on every call.
type Reporter struct {
	src Source
	log logger.Logger
}

func NewReporter(src Source, log logger.Logger) *Reporter {
	return &Reporter{src: src, log: log}
}

func (r *Reporter) Report(ctx context.Context) (Report, error) {
	rows, err := r.src.ListPaid(ctx)
	if err != nil {
		return Report{}, err
	}
	rep := Build(rows)
	if len(rep.Conflicts) > 0 {
		r.log.Warn("email shared by several accounts", map[string]interface{}{"conflicts": len(rep.Conflicts)})
	}
	return rep, nil
}
