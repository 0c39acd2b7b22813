package models

// allowedTransitions is the forward-only lifecycle table. The self-edges on
// ready and partially_published are the "nothing new succeeded" outcomes of
// a publish run. failed has no outgoing edges.
var allowedTransitions = map[ContentStatus]map[ContentStatus]bool{
	StatusUploaded: {
		StatusProcessing: true,
		StatusFailed:     true,
	},
	StatusProcessing: {
		StatusReady:  true,
		StatusFailed: true,
	},
	StatusReady: {
		StatusReady:              true,
		StatusPublished:          true,
		StatusPartiallyPublished: true,
	},
	StatusPartiallyPublished: {
		StatusPartiallyPublished: true,
		StatusPublished:          true,
	},
	StatusPublished: {},
	StatusFailed:    {},
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to ContentStatus) bool {
	return allowedTransitions[from][to]
}

// IsValid reports whether s is a known lifecycle status.
func (s ContentStatus) IsValid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// IsPublishable reports whether a publish run may start from s.
func IsPublishable(s ContentStatus) bool {
	return s == StatusReady || s == StatusPartiallyPublished
}

// Progress maps a settled status to a coarse percentage for clients.
func (s ContentStatus) Progress() int {
	switch s {
	case StatusProcessing:
		return 50
	case StatusReady, StatusPublished, StatusPartiallyPublished:
		return 100
	default:
		return 0
	}
}
