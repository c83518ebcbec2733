// Package hub is the room broadcast engine: it owns observer and worker
// WebSocket connections, room membership, and every fan-out that follows a
// data mutation.
//
// Delivery contract per room: a member first receives a synchronous snapshot
// on join, then every fact published to the room, in publish order, with no
// gap and no overlap between snapshot and stream. Cross-room ordering is not
// guaranteed.
package hub

import (
	"time"

	"github.com/runlens/runlens/pkg/models"
	"github.com/runlens/runlens/pkg/workerenv"
)

// Client command types (observer → server).
const (
	CmdJoinRoom             = "joinRoom"
	CmdLeaveRoom            = "leaveRoom"
	CmdForwardUserInput     = "forwardUserInput"
	CmdInterruptRun         = "interruptRun"
	CmdDeleteRuns           = "deleteRuns"
	CmdDeleteProjects       = "deleteProjects"
	CmdSendAssistantMessage = "sendAssistantMessage"
	CmdInterruptAssistant   = "interruptAssistant"
	CmdAssistantHistory     = "assistantHistory"
	CmdCleanHistory         = "cleanAssistantHistory"
	CmdGetWorkerConfig      = "getWorkerConfig"
	CmdSaveWorkerConfig     = "saveWorkerConfig"
	CmdVerifyWorkerEnv      = "verifyWorkerEnv"
	CmdInstallRequirements  = "installRequirements"
	CmdPing                 = "ping"
)

// Fact types (server → observer).
const (
	FactRoomJoined          = "roomJoined"
	FactRoomLeft            = "roomLeft"
	FactCommandResult       = "commandResult"
	FactProjectList         = "projectList"
	FactOverview            = "overview"
	FactProjectRuns         = "projectRuns"
	FactRunStatus           = "runStatus"
	FactReplyUpdate         = "replyUpdate"
	FactSpanUpdate          = "spanUpdate"
	FactInputRequested      = "inputRequested"
	FactInputRequestRemoved = "inputRequestRemoved"
	FactInputRequestsClear  = "inputRequestsCleared"
	FactAssistantReply      = "assistantReply"
	FactReplyingState       = "replyingState"
	FactProcessFailure      = "processFailure"
	FactError               = "error"
	FactPong                = "pong"
)

// Control message types (server → worker).
const (
	WorkerMsgUserInput = "userInput"
	WorkerMsgInterrupt = "interrupt"
)

// ClientCommand is the tagged union read from an observer connection. Type
// selects the command; the remaining fields are populated per command.
type ClientCommand struct {
	Type string `json:"type"`
	// Seq correlates the command with its commandResult. Optional;
	// zero means the client does not want a result.
	Seq int `json:"seq,omitempty"`

	// joinRoom / leaveRoom
	Room string `json:"room,omitempty"`

	// forwardUserInput
	RequestID string         `json:"requestId,omitempty"`
	Input     map[string]any `json:"input,omitempty"`

	// interruptRun
	RunID string `json:"runId,omitempty"`

	// deleteRuns / deleteProjects
	RunIDs   []string `json:"runIds,omitempty"`
	Projects []string `json:"projects,omitempty"`

	// sendAssistantMessage
	Msg *models.AssistantMessage `json:"msg,omitempty"`
	// assistantHistory cursor
	Before *time.Time `json:"before,omitempty"`

	// saveWorkerConfig
	Env *workerenv.Config `json:"env,omitempty"`
	// verifyWorkerEnv / installRequirements
	PythonEnv string `json:"pythonEnv,omitempty"`
}

// RoomJoinedPayload carries the synchronous join snapshot. Exactly one of
// the snapshot fields is set, matching the room family.
type RoomJoinedPayload struct {
	Type string `json:"type"`
	Room string `json:"room"`

	Projects []models.ProjectStats `json:"projects,omitempty"`
	Overview *models.OverviewData  `json:"overview,omitempty"`
	Runs     []models.Run          `json:"runs,omitempty"`
	Run      *models.RunSnapshot   `json:"runSnapshot,omitempty"`
	Friday   *FridaySnapshot       `json:"friday,omitempty"`
}

// FridaySnapshot is the friday-app join snapshot: the newest history page
// plus the current replying flag.
type FridaySnapshot struct {
	Replying bool                      `json:"replying"`
	History  models.AssistantReplyPage `json:"history"`
}

// CommandResultPayload reports the outcome of a mutating command. Failures
// travel as data on the socket, never as transport errors.
type CommandResultPayload struct {
	Type    string `json:"type"`
	Seq     int    `json:"seq,omitempty"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ProjectListPayload refreshes the project-list room.
type ProjectListPayload struct {
	Type     string                `json:"type"`
	Projects []models.ProjectStats `json:"projects"`
}

// OverviewPayload refreshes the overview room.
type OverviewPayload struct {
	Type     string               `json:"type"`
	Overview *models.OverviewData `json:"overview"`
}

// ProjectRunsPayload refreshes one project room's run list.
type ProjectRunsPayload struct {
	Type    string       `json:"type"`
	Project string       `json:"project"`
	Runs    []models.Run `json:"runs"`
}

// RunStatusPayload announces a lifecycle transition to the run's room.
type RunStatusPayload struct {
	Type   string           `json:"type"`
	RunID  string           `json:"runId"`
	Status models.RunStatus `json:"status"`
}

// ReplyUpdatePayload carries one reply, complete with its merged messages.
type ReplyUpdatePayload struct {
	Type  string        `json:"type"`
	RunID string        `json:"runId"`
	Reply *models.Reply `json:"reply"`
}

// SpanUpdatePayload carries the full span set of a run together with the
// aggregates derived from it.
type SpanUpdatePayload struct {
	Type        string                   `json:"type"`
	RunID       string                   `json:"runId"`
	Spans       []models.Span            `json:"spans"`
	SpanTree    []*models.SpanNode       `json:"spanTree,omitempty"`
	Trace       *models.Trace            `json:"trace,omitempty"`
	Invocations *models.ModelInvocations `json:"modelInvocations,omitempty"`
}

// InputRequestedPayload announces a new pending input request.
type InputRequestedPayload struct {
	Type    string               `json:"type"`
	RunID   string               `json:"runId"`
	Request *models.InputRequest `json:"request"`
}

// InputRequestRemovedPayload announces consumption of one input request.
type InputRequestRemovedPayload struct {
	Type      string `json:"type"`
	RunID     string `json:"runId"`
	RequestID string `json:"requestId"`
}

// InputRequestsClearedPayload tells the run room to drop every pending
// input request, without enumerating them.
type InputRequestsClearedPayload struct {
	Type  string `json:"type"`
	RunID string `json:"runId"`
}

// AssistantReplyPayload carries one assistant reply with its accumulated
// content. Override tells the client to replace its local copy wholesale.
type AssistantReplyPayload struct {
	Type     string                 `json:"type"`
	Reply    *models.AssistantReply `json:"reply"`
	Override bool                   `json:"override"`
}

// ReplyingStatePayload announces the assistant busy flag.
type ReplyingStatePayload struct {
	Type     string `json:"type"`
	Replying bool   `json:"replying"`
}

// ProcessFailurePayload reports an assistant worker launch failure to the
// connection that initiated the turn.
type ProcessFailurePayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// workerControlMessage is the control frame sent to a worker connection.
type workerControlMessage struct {
	Type      string         `json:"type"`
	RequestID string         `json:"requestId,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
}
