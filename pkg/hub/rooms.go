package hub

import (
	"fmt"
	"strings"
)

// Static room names.
const (
	RoomProjectList = "project-list"
	RoomOverview    = "overview"
	RoomFridayApp   = "friday-app"
)

// Prefixes for the parameterized room families.
const (
	projectRoomPrefix = "project-"
	runRoomPrefix     = "run-"
)

// ProjectRoom returns the room name carrying one project's run list.
func ProjectRoom(project string) string {
	return projectRoomPrefix + project
}

// RunRoom returns the room name carrying one run's live data.
func RunRoom(runID string) string {
	return runRoomPrefix + runID
}

// roomKind discriminates the room families for join validation and snapshots.
type roomKind int

const (
	roomInvalid roomKind = iota
	roomProjectList
	roomOverview
	roomProject
	roomRun
	roomFriday
)

// parseRoom classifies a room name and extracts its key (project name or
// run id). The static names are matched before the prefixed families, so
// "project-list" never parses as a project room for the project "list".
func parseRoom(name string) (roomKind, string, error) {
	switch name {
	case RoomProjectList:
		return roomProjectList, "", nil
	case RoomOverview:
		return roomOverview, "", nil
	case RoomFridayApp:
		return roomFriday, "", nil
	}
	if key, ok := strings.CutPrefix(name, runRoomPrefix); ok && key != "" {
		return roomRun, key, nil
	}
	if key, ok := strings.CutPrefix(name, projectRoomPrefix); ok && key != "" {
		return roomProject, key, nil
	}
	return roomInvalid, "", fmt.Errorf("unknown room %q", name)
}
