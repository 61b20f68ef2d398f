// Package bee defines the closed set of hive participants and the pane
// addressing table that maps each bee to its tmux pane.
package bee

import (
	"sort"

	apperrors "github.com/nyasuto/hive/internal/common/errors"
)

// Name identifies a hive participant.
type Name string

// The worker set is closed: one queen plus three workers. system and
// beekeeper are synthetic senders, all is the broadcast target.
const (
	Queen     Name = "queen"
	Developer Name = "developer"
	QA        Name = "qa"
	Analyst   Name = "analyst"

	System    Name = "system"
	Beekeeper Name = "beekeeper"
	All       Name = "all"
)

// Role describes what a bee does; behavior differences live in the role
// document injected at startup, not in code dispatch.
type Role string

const (
	RolePlanner Role = "planner"
	RoleWorker  Role = "worker"
)

var realBees = []Name{Queen, Developer, QA, Analyst}

var roles = map[Name]Role{
	Queen:     RolePlanner,
	Developer: RoleWorker,
	QA:        RoleWorker,
	Analyst:   RoleWorker,
}

// RealBees returns the concrete bees, in stable order.
func RealBees() []Name {
	out := make([]Name, len(realBees))
	copy(out, realBees)
	return out
}

// RoleOf returns the role of a real bee, or empty for synthetic names.
func RoleOf(n Name) Role {
	return roles[n]
}

// IsReal reports whether n is a concrete bee with a pane.
func (n Name) IsReal() bool {
	_, ok := roles[n]
	return ok
}

// IsSender reports whether n may appear in a from field.
func (n Name) IsSender() bool {
	return n.IsReal() || n == System || n == Beekeeper
}

// IsRecipient reports whether n may appear in a to field.
func (n Name) IsRecipient() bool {
	return n.IsReal() || n == All || n == Beekeeper
}

// IsAssignable reports whether a task may be assigned to n.
func (n Name) IsAssignable() bool {
	return n.IsReal()
}

func (n Name) String() string { return string(n) }

// Parse validates a raw string against the closed name set.
func Parse(raw string) (Name, error) {
	n := Name(raw)
	if n.IsReal() || n == System || n == Beekeeper || n == All {
		return n, nil
	}
	return "", apperrors.Validation("unknown bee name %q", raw)
}

// Panes is the process-wide immutable bee -> pane table, loaded once from
// configuration. Panes are opaque tmux target strings ("session:index").
type Panes struct {
	byBee map[Name]string
}

// NewPanes builds the addressing table. Every real bee must have a pane.
func NewPanes(mapping map[string]string) (*Panes, error) {
	byBee := make(map[Name]string, len(mapping))
	for raw, pane := range mapping {
		n, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		if !n.IsReal() {
			return nil, apperrors.Validation("pane mapping for non-addressable name %q", raw)
		}
		if pane == "" {
			return nil, apperrors.Validation("empty pane for bee %q", raw)
		}
		byBee[n] = pane
	}
	for _, b := range realBees {
		if _, ok := byBee[b]; !ok {
			return nil, apperrors.Validation("missing pane mapping for bee %q", b)
		}
	}
	return &Panes{byBee: byBee}, nil
}

// Resolve returns the pane bound to a bee.
func (p *Panes) Resolve(n Name) (string, error) {
	pane, ok := p.byBee[n]
	if !ok {
		return "", apperrors.NotFound("pane for bee", n.String())
	}
	return pane, nil
}

// Targets expands a recipient into concrete bees: all -> every real bee,
// otherwise the single named bee.
func (p *Panes) Targets(n Name) ([]Name, error) {
	if n == All {
		return RealBees(), nil
	}
	if !n.IsReal() {
		return nil, apperrors.Validation("cannot deliver to %q", n)
	}
	return []Name{n}, nil
}

// Bees returns every bee with a pane binding, in stable order.
func (p *Panes) Bees() []Name {
	out := make([]Name, 0, len(p.byBee))
	for b := range p.byBee {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
