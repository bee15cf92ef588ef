package model

import "strings"

// Status is the lifecycle position of a verification.
type Status string

const (
	StatusStarted    Status = "STARTED"
	StatusProcessing Status = "PROCESSING"
	StatusModerating Status = "MODERATING"
	StatusComparing  Status = "COMPARING"
	StatusResizing   Status = "RESIZING"
	StatusSucceeded  Status = "SUCCEEDED"
	StatusFailed     Status = "FAILED"
)

// terminalRank is shared by both terminal states.
const terminalRank = 5

var ranks = map[Status]int{
	StatusStarted:    0,
	StatusProcessing: 1,
	StatusModerating: 2,
	StatusComparing:  3,
	StatusResizing:   4,
	StatusSucceeded:  terminalRank,
	StatusFailed:     terminalRank,
}

// ParseStatus maps stored values onto the enum. Legacy completion names
// written by earlier deployments are accepted.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "COMPLETED_SUCCESSFUL":
		return StatusSucceeded, true
	case "COMPLETED_FAILED":
		return StatusFailed, true
	}
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := ranks[st]
	return st, ok
}

// Rank orders statuses along the pipeline. Unknown statuses rank -1.
func (s Status) Rank() int {
	if r, ok := ranks[s]; ok {
		return r
	}
	return -1
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s.Rank() == terminalRank
}

// TerminalRank is the rank of SUCCEEDED and FAILED.
func TerminalRank() int { return terminalRank }

func (s Status) String() string { return string(s) }
