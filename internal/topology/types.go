package topology

import (
	"strconv"
	"strings"
)

// BuildingTopology is an immutable snapshot of a building's elevator topology.
// Only the subset needed to resolve floors to protocol identifiers is modeled.
type BuildingTopology struct {
	BuildingID string  `json:"buildingId"`
	Groups     []Group `json:"groups"`

	// Areas is the legacy fallback used when groups carry no destinations
	Areas []Destination `json:"areas,omitempty"`
}

// Group is one elevator group within a building
type Group struct {
	GroupID      string        `json:"groupId"`
	Lifts        []Lift        `json:"lifts"`
	Terminals    []Terminal    `json:"terminals"`
	Destinations []Destination `json:"destinations"`
}

// Lift is a single elevator and its boarding decks
type Lift struct {
	LiftID   int         `json:"lift_id,omitempty"`
	LiftName string      `json:"liftId,omitempty"`
	Decks    []Deck      `json:"decks,omitempty"`
	Floors   []LiftFloor `json:"floors,omitempty"`
}

// Deck is one boarding level of a lift car
type Deck struct {
	DeckAreaID int `json:"deck_area_id,omitempty"`
	AreaID     int `json:"area_id,omitempty"`
}

// LiftFloor is a floor served by a lift
type LiftFloor struct {
	GroupFloorID int `json:"group_floor_id"`
}

// Destination is a callable landing area
type Destination struct {
	AreaID       int    `json:"area_id"`
	ShortName    string `json:"short_name,omitempty"`
	GroupFloorID int    `json:"group_floor_id,omitempty"`
	GroupSide    int    `json:"group_side,omitempty"`
	Terminals    []int  `json:"terminals,omitempty"`
}

// Terminal is a registered call-input endpoint (virtual, LCS, DOP, ...)
type Terminal struct {
	TerminalID int    `json:"terminal_id"`
	Type       string `json:"type"`
}

// GroupByID returns the group with the given id, or the first group when the
// id is not present (single-group buildings commonly report group "1" only).
func (t *BuildingTopology) GroupByID(groupID string) *Group {
	for i := range t.Groups {
		if t.Groups[i].GroupID == groupID {
			return &t.Groups[i]
		}
	}
	if len(t.Groups) > 0 {
		return &t.Groups[0]
	}
	return nil
}

// LiftNumber derives the human lift number from a lift record. Numeric ids
// win; otherwise the tail of a "lift:1:1:7" style identifier is parsed.
func LiftNumber(l Lift) int {
	if l.LiftID != 0 {
		return l.LiftID
	}
	if l.LiftName != "" {
		parts := strings.Split(l.LiftName, ":")
		if n, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
			return n
		}
	}
	return 0
}

// DeckAreaIDs returns the deck area ids of a lift, used as allowed_lifts in
// destination calls.
func DeckAreaIDs(l Lift) []int {
	ids := make([]int, 0, len(l.Decks))
	for _, d := range l.Decks {
		if d.AreaID != 0 {
			ids = append(ids, d.AreaID)
		} else if d.DeckAreaID != 0 {
			ids = append(ids, d.DeckAreaID)
		}
	}
	return ids
}

// floorForDestination derives a floor number from an area id's thousands
// digits, falling back to digits parsed from the short name.
func floorForDestination(d Destination) int {
	if d.AreaID >= 1000 {
		return d.AreaID / 1000
	}
	digits := leadingDigits(d.ShortName)
	if digits != "" {
		if n, err := strconv.Atoi(digits); err == nil {
			return n
		}
	}
	return 0
}

func leadingDigits(s string) string {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end]
}
