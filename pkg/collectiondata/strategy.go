package collectiondata

import "fmt"

// ChangeDetectionStrategy decides whether current data differs from the
// original snapshot.
type ChangeDetectionStrategy interface {
	Name() string
	HasDataChanged(current, original ReadOnly) bool
}

// SequenceChangeDetection treats any difference in membership or order as a
// change.
type SequenceChangeDetection struct{}

func (SequenceChangeDetection) Name() string { return "sequence" }

func (SequenceChangeDetection) HasDataChanged(current, original ReadOnly) bool {
	if current.Count() != original.Count() {
		return true
	}
	for i := 0; i < current.Count(); i++ {
		if current.Get(i).ID() != original.Get(i).ID() {
			return true
		}
	}
	return false
}

// SetChangeDetection ignores ordering and only compares membership.
type SetChangeDetection struct{}

func (SetChangeDetection) Name() string { return "set" }

func (SetChangeDetection) HasDataChanged(current, original ReadOnly) bool {
	if current.Count() != original.Count() {
		return true
	}
	for i := 0; i < current.Count(); i++ {
		if !original.Contains(current.Get(i).ID()) {
			return true
		}
	}
	return false
}

// StrategyByName resolves a strategy from its Name.
func StrategyByName(name string) (ChangeDetectionStrategy, error) {
	switch name {
	case "", "sequence":
		return SequenceChangeDetection{}, nil
	case "set":
		return SetChangeDetection{}, nil
	}
	return nil, fmt.Errorf("unknown change detection strategy %q", name)
}
