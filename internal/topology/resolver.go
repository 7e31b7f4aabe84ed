package topology

import "sort"

// FloorArea is one candidate landing area for a floor
type FloorArea struct {
	AreaID    int
	Terminals []int
}

// FloorMapping is the derived floor to area index for one building group.
// Built once from a BuildingTopology and memoized by the cache.
type FloorMapping struct {
	ByFloor        map[int][]FloorArea
	ByGroupFloor   map[int][]FloorArea
	GroupTerminals []int
}

// BuildFloorMapping derives the floor/area mapping for a group. Destinations
// are preferred; the topology's legacy areas list is the fallback.
func BuildFloorMapping(t *BuildingTopology, groupID string) *FloorMapping {
	m := &FloorMapping{
		ByFloor:      make(map[int][]FloorArea),
		ByGroupFloor: make(map[int][]FloorArea),
	}

	group := t.GroupByID(groupID)

	destinations := t.Areas
	if group != nil && len(group.Destinations) > 0 {
		destinations = group.Destinations
	}

	for _, d := range destinations {
		area := FloorArea{AreaID: d.AreaID, Terminals: d.Terminals}
		if floor := floorForDestination(d); floor != 0 {
			m.ByFloor[floor] = append(m.ByFloor[floor], area)
		}
		if d.GroupFloorID != 0 {
			m.ByGroupFloor[d.GroupFloorID] = append(m.ByGroupFloor[d.GroupFloorID], area)
		}
	}

	if group != nil {
		seen := make(map[int]bool)
		for _, term := range group.Terminals {
			if !seen[term.TerminalID] {
				seen[term.TerminalID] = true
				m.GroupTerminals = append(m.GroupTerminals, term.TerminalID)
			}
		}
	}

	return m
}

// TerminalsForFloor returns the union of terminal ids across a floor's
// candidate areas.
func (m *FloorMapping) TerminalsForFloor(floor int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, area := range m.ByFloor[floor] {
		for _, t := range area.Terminals {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	sort.Ints(out)
	return out
}

// ResolveAreaID resolves a human floor number to a protocol area id.
//
// Candidates for the floor are scanned twice: first for one whose terminal
// list contains the preferred terminal and whose thousands digit matches the
// floor, then for any candidate passing the thousands-digit check. With no
// usable topology data the deterministic rule floor*1000 applies, shifted by
// 20 for group "2".
func (m *FloorMapping) ResolveAreaID(groupID string, floor, preferredTerminal int) int {
	candidates := m.ByFloor[floor]

	for _, c := range candidates {
		if c.AreaID/1000 == floor && containsInt(c.Terminals, preferredTerminal) {
			return c.AreaID
		}
	}
	for _, c := range candidates {
		if c.AreaID/1000 == floor {
			return c.AreaID
		}
	}

	areaID := floor * 1000
	if groupID == "2" {
		areaID += 20
	}
	return areaID
}

// PickTerminalID selects a protocol terminal id for a call.
//
// Preference order walks preferredTypes (default virtual): a terminal of the
// type that is both allowed and in the group's terminal list wins, then any
// terminal of the type. After the type scan any group terminal is taken, and
// finally the configured default.
func PickTerminalID(group *Group, groupTerminals []int, preferredTypes []string, allowedTerminals []int, typeOverrides map[int]string, defaultID int) int {
	if len(preferredTypes) == 0 {
		preferredTypes = []string{"virtual"}
	}

	types := make(map[int]string)
	if group != nil {
		for _, t := range group.Terminals {
			types[t.TerminalID] = t.Type
		}
	}
	for id, typ := range typeOverrides {
		types[id] = typ
	}

	for _, preferred := range preferredTypes {
		var anyOfType int
		found := false
		for _, id := range orderedTerminalIDs(types) {
			if types[id] != preferred {
				continue
			}
			if !found {
				anyOfType, found = id, true
			}
			if (len(allowedTerminals) == 0 || containsInt(allowedTerminals, id)) &&
				(len(groupTerminals) == 0 || containsInt(groupTerminals, id)) {
				return id
			}
		}
		if found {
			return anyOfType
		}
	}

	if len(groupTerminals) > 0 {
		return groupTerminals[0]
	}

	return defaultID
}

// orderedTerminalIDs returns map keys in stable ascending order
func orderedTerminalIDs(types map[int]string) []int {
	ids := make([]int, 0, len(types))
	for id := range types {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// IntersectTerminals returns the terminals present in both lists. Used to
// constrain the call terminal to one valid for the origin and the destination
// floor.
func IntersectTerminals(a, b []int) []int {
	var out []int
	for _, id := range a {
		if containsInt(b, id) {
			out = append(out, id)
		}
	}
	return out
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
