// Package permission implements the permission gate: remembered
// grant/denial records consulted before any side-effecting operation runs.
package permission

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type classifies what a permission record covers.
type Type string

const (
	// TypeGlobal covers the whole session ("may this assistant act at all").
	TypeGlobal Type = "global"
	// TypeFolder covers a directory subtree.
	TypeFolder Type = "folder"
	// TypeCommand covers a command name.
	TypeCommand Type = "command"
	// TypeFile covers a single file path.
	TypeFile Type = "file"
)

// Category is the effect class a registry function declares. The dispatch
// loop maps categories onto record types before consulting the gate.
type Category string

const (
	EffectNone       Category = "none"
	EffectFilesystem Category = "filesystem"
	EffectProcess    Category = "process"
)

// Record is one remembered or one-shot permission decision.
type Record struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Scope     string    `json:"scope"`
	Granted   bool      `json:"granted"`
	Remember  bool      `json:"remember"`
	CreatedAt time.Time `json:"created_at"`
}

// Decision is the outcome of a gate check.
type Decision int

const (
	// DecisionAsk means no remembered record matched; the caller must park
	// a pending request and wait for the user.
	DecisionAsk Decision = iota
	DecisionAllow
	DecisionDeny
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionDeny:
		return "deny"
	default:
		return "ask"
	}
}

// Request describes a permission the loop needs before proceeding.
type Request struct {
	Type   Type   `json:"type"`
	Scope  string `json:"scope"`
	Reason string `json:"reason,omitempty"`
}

// Gate holds permission records for one session. Safe for concurrent use.
type Gate struct {
	mu      sync.RWMutex
	records []Record
}

// NewGate creates a gate seeded with existing records, usually loaded from
// the session store.
func NewGate(records []Record) *Gate {
	g := &Gate{}
	g.records = append(g.records, records...)
	return g
}

// Check returns the recorded decision for (typ, scope), or DecisionAsk when
// no record matches. The latest matching record wins, one-shot or
// remembered: once the user has answered, the gate never re-asks the same
// question within the session. A granted global record also covers narrower
// scopes; denials only match exactly.
func (g *Gate) Check(typ Type, scope string) Decision {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for i := len(g.records) - 1; i >= 0; i-- {
		r := g.records[i]
		if r.Type == typ && r.Scope == scope {
			if r.Granted {
				return DecisionAllow
			}
			return DecisionDeny
		}
	}

	if typ != TypeGlobal {
		for i := len(g.records) - 1; i >= 0; i-- {
			r := g.records[i]
			if r.Type == TypeGlobal && r.Granted {
				return DecisionAllow
			}
		}
	}

	return DecisionAsk
}

// Record stores a decision and returns the created record.
func (g *Gate) Record(typ Type, scope string, granted, remember bool) Record {
	rec := Record{
		ID:        uuid.New().String(),
		Type:      typ,
		Scope:     scope,
		Granted:   granted,
		Remember:  remember,
		CreatedAt: time.Now(),
	}

	g.mu.Lock()
	g.records = append(g.records, rec)
	g.mu.Unlock()

	return rec
}

// Records returns a copy of all stored records in insertion order.
func (g *Gate) Records() []Record {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Record, len(g.records))
	copy(out, g.records)
	return out
}

// HasGlobalGrant reports whether a granted global record exists, remembered
// or not. The conversation cannot leave its initial state without one.
func (g *Gate) HasGlobalGrant() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, r := range g.records {
		if r.Type == TypeGlobal && r.Granted {
			return true
		}
	}
	return false
}
