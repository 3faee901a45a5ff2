package model

import (
	"fmt"
	"sort"
)

// BoardType identifies a flight controller family. Lower values win when
// more than one board is detected.
type BoardType int

const (
	Navigator BoardType = iota + 1
	SerialBoard
)

func (t BoardType) String() string {
	switch t {
	case Navigator:
		return "Navigator"
	case SerialBoard:
		return "Serial"
	}
	return fmt.Sprintf("BoardType(%d)", int(t))
}

// Board is one detection result. Location is a device path for serial boards
// and empty for Navigator.
type Board struct {
	Type     BoardType `json:"type"`
	Location string    `json:"location,omitempty"`
}

func (b Board) String() string {
	if b.Location == "" {
		return b.Type.String()
	}
	return b.Type.String() + "@" + b.Location
}

// SortByPriority orders boards by type, keeping detector order among equals.
func SortByPriority(boards []Board) {
	sort.SliceStable(boards, func(i, j int) bool { return boards[i].Type < boards[j].Type })
}
