package elevator

import "strings"

// ParsePlaceID parses a robot place id of the form [building:]<id>[:<groupId>]
// into the protocol building id and group id. The group defaults to "1".
func ParsePlaceID(placeID string) (buildingID, groupID string) {
	groupID = "1"

	s := strings.TrimPrefix(placeID, "building:")
	parts := strings.SplitN(s, ":", 2)
	if len(parts) == 2 && parts[1] != "" {
		groupID = parts[1]
	}

	return "building:" + parts[0], groupID
}
