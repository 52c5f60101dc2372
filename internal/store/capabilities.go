package store

import "github.com/aleksaelezovic/bloomgraph/pkg/rdf"

// Capabilities is a fixed description of the graph for callers.
type Capabilities struct {
	// SizeAccurate is false: Size may be stale under concurrent writes
	SizeAccurate          bool
	AddAllowed            bool
	DeleteAllowed         bool
	CanBeEmpty            bool
	IteratorRemoveAllowed bool
	FindContractSafe      bool
	// HandlesLiteralTyping is false: literals match on their exact
	// lexical form, language and datatype
	HandlesLiteralTyping bool
}

var capabilities = Capabilities{
	SizeAccurate:          false,
	AddAllowed:            true,
	DeleteAllowed:         true,
	CanBeEmpty:            true,
	IteratorRemoveAllowed: false,
	FindContractSafe:      true,
	HandlesLiteralTyping:  false,
}

// StatisticsHandler estimates pattern cardinalities.
type StatisticsHandler interface {
	Statistic(s, p, o rdf.Term) int64
}
