package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/runlens/runlens/pkg/merge"
	"github.com/runlens/runlens/pkg/models"
	"github.com/runlens/runlens/pkg/services"
	"github.com/runlens/runlens/pkg/trace"
	"github.com/runlens/runlens/pkg/workerenv"
)

// AssistantLauncher spawns one assistant worker turn for the given user
// query and blocks until the worker process exits. Implemented by
// workerenv.Launcher.
type AssistantLauncher interface {
	LaunchAssistant(ctx context.Context, query string) error
}

// Hub owns every live connection and room. One instance per server process.
type Hub struct {
	runs          *services.RunService
	replies       *services.ReplyService
	spans         *services.SpanService
	inputRequests *services.InputRequestService
	assistant     *services.AssistantService
	launcher      AssistantLauncher
	workerEnv     *workerenv.Manager

	// Active observer connections: connection_id → *Connection
	connections map[string]*Connection
	mu          sync.RWMutex

	// Room membership. Each room carries its own mutex: holding it across
	// membership changes, snapshot reads, and publishes is what serializes
	// delivery per room.
	rooms   map[string]*room
	roomsMu sync.Mutex

	// Worker control channels: run_id → *workerConn
	workers   map[string]*workerConn
	workersMu sync.RWMutex

	// Assistant busy flag and the cancel handle of the in-flight turn.
	// Owned by the hub, never persisted.
	replying   bool
	turnCancel context.CancelFunc
	replyingMu sync.Mutex

	// Write timeout for WebSocket sends
	writeTimeout time.Duration
}

type room struct {
	mu      sync.Mutex
	members map[string]*Connection
}

// Connection represents a single observer WebSocket client.
//
// joined is accessed without a lock: all reads and writes happen on the
// goroutine that owns the connection (HandleConnection's read loop and its
// deferred cleanup).
type Connection struct {
	ID     string
	Conn   *websocket.Conn
	joined map[string]bool // rooms this connection has joined
	ctx    context.Context
	cancel context.CancelFunc
	// writeMu serializes writes: snapshots and room publishes may target
	// the same connection from different goroutines.
	writeMu sync.Mutex
}

// New creates a Hub wired to the given services.
func New(
	runs *services.RunService,
	replies *services.ReplyService,
	spans *services.SpanService,
	inputRequests *services.InputRequestService,
	assistant *services.AssistantService,
	launcher AssistantLauncher,
	workerEnv *workerenv.Manager,
	writeTimeout time.Duration,
) *Hub {
	return &Hub{
		runs:          runs,
		replies:       replies,
		spans:         spans,
		inputRequests: inputRequests,
		assistant:     assistant,
		launcher:      launcher,
		workerEnv:     workerEnv,
		connections:   make(map[string]*Connection),
		rooms:         make(map[string]*room),
		workers:       make(map[string]*workerConn),
		writeTimeout:  writeTimeout,
	}
}

// HandleConnection manages the lifecycle of one observer connection. Called
// by the WebSocket HTTP handler after upgrade. Blocks until the connection
// closes.
func (h *Hub) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:     connID,
		Conn:   conn,
		joined: make(map[string]bool),
		ctx:    ctx,
		cancel: cancel,
	}

	h.registerConnection(c)
	defer h.unregisterConnection(c)

	h.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": connID,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Connection closed or error — exit read loop
			return
		}

		var cmd ClientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			slog.Warn("Invalid WebSocket command",
				"connection_id", connID, "error", err)
			continue
		}

		h.dispatch(ctx, c, &cmd)
	}
}

// dispatch routes one client command. Every command type is handled; an
// unknown type is answered with an error fact rather than dropped.
func (h *Hub) dispatch(ctx context.Context, c *Connection, cmd *ClientCommand) {
	switch cmd.Type {
	case CmdJoinRoom:
		h.handleJoin(ctx, c, cmd)
	case CmdLeaveRoom:
		h.LeaveRoom(c, cmd.Room)
		h.sendJSON(c, map[string]string{"type": FactRoomLeft, "room": cmd.Room})
	case CmdForwardUserInput:
		h.handleForwardUserInput(ctx, c, cmd)
	case CmdInterruptRun:
		h.handleInterrupt(ctx, c, cmd)
	case CmdDeleteRuns:
		h.handleDeleteRuns(ctx, c, cmd)
	case CmdDeleteProjects:
		h.handleDeleteProjects(ctx, c, cmd)
	case CmdSendAssistantMessage:
		h.handleAssistantMessage(ctx, c, cmd)
	case CmdInterruptAssistant:
		h.handleInterruptAssistant(c, cmd)
	case CmdAssistantHistory:
		h.handleAssistantHistory(ctx, c, cmd)
	case CmdCleanHistory:
		h.handleCleanHistory(ctx, c, cmd)
	case CmdGetWorkerConfig:
		h.handleGetWorkerConfig(c, cmd)
	case CmdSaveWorkerConfig:
		h.handleSaveWorkerConfig(c, cmd)
	case CmdVerifyWorkerEnv:
		h.handleVerifyWorkerEnv(ctx, c, cmd)
	case CmdInstallRequirements:
		h.handleInstallRequirements(c, cmd)
	case CmdPing:
		h.sendJSON(c, map[string]string{"type": FactPong})
	default:
		h.sendJSON(c, map[string]string{
			"type":    FactError,
			"message": fmt.Sprintf("unknown command type %q", cmd.Type),
		})
	}
}

// handleJoin validates the room, registers membership, and sends the
// snapshot, all under the room lock. Registration happens before the
// snapshot read: a publish racing with the join either completes before the
// snapshot (its effect is in the snapshot) or is delivered after it.
func (h *Hub) handleJoin(ctx context.Context, c *Connection, cmd *ClientCommand) {
	kind, key, err := parseRoom(cmd.Room)
	if err != nil {
		h.result(c, cmd.Seq, false, err.Error(), nil)
		return
	}

	// Validate the backing entity before touching membership.
	switch kind {
	case roomProject:
		exists, eErr := h.runs.ProjectExists(ctx, key)
		if eErr != nil {
			h.result(c, cmd.Seq, false, "failed to validate project", nil)
			return
		}
		if !exists {
			h.result(c, cmd.Seq, false, fmt.Sprintf("project %q not found", key), nil)
			return
		}
	case roomRun:
		exists, eErr := h.runs.RunExists(ctx, key)
		if eErr != nil {
			h.result(c, cmd.Seq, false, "failed to validate run", nil)
			return
		}
		if !exists {
			h.result(c, cmd.Seq, false, fmt.Sprintf("run %q not found", key), nil)
			return
		}
	}

	r := h.getOrCreateRoom(cmd.Room)
	r.mu.Lock()
	defer r.mu.Unlock()

	r.members[c.ID] = c
	c.joined[cmd.Room] = true

	snapshot, err := h.buildSnapshot(ctx, kind, key, cmd.Room)
	if err != nil {
		// Roll the membership back: the client never saw a snapshot, so it
		// must not receive stream facts either.
		delete(r.members, c.ID)
		delete(c.joined, cmd.Room)
		slog.Error("Failed to build join snapshot", "room", cmd.Room, "error", err)
		h.result(c, cmd.Seq, false, "failed to load room snapshot", nil)
		return
	}

	h.sendJSON(c, snapshot)
	h.result(c, cmd.Seq, true, "", nil)
}

// buildSnapshot assembles the join payload for one room.
func (h *Hub) buildSnapshot(ctx context.Context, kind roomKind, key, roomName string) (*RoomJoinedPayload, error) {
	out := &RoomJoinedPayload{Type: FactRoomJoined, Room: roomName}

	switch kind {
	case roomProjectList:
		stats, err := h.runs.ProjectStats(ctx)
		if err != nil {
			return nil, err
		}
		out.Projects = stats

	case roomOverview:
		overview, err := h.runs.Overview(ctx)
		if err != nil {
			return nil, err
		}
		out.Overview = overview

	case roomProject:
		runs, err := h.runs.ListRunsByProject(ctx, key)
		if err != nil {
			return nil, err
		}
		out.Runs = runs

	case roomRun:
		snap, err := h.RunSnapshot(ctx, key)
		if err != nil {
			return nil, err
		}
		out.Run = snap

	case roomFriday:
		history, err := h.assistant.History(ctx, nil, 0)
		if err != nil {
			return nil, err
		}
		// The snapshot passes through the same reconciliation clients fold
		// stream facts with, so snapshot and stream agree on identity order.
		history.Replies = merge.AssistantReplies(nil, history.Replies, false)
		h.replyingMu.Lock()
		replying := h.replying
		h.replyingMu.Unlock()
		out.Friday = &FridaySnapshot{Replying: replying, History: *history}
	}

	return out, nil
}

// RunSnapshot loads everything a run room member needs to render from
// scratch. Also served over REST for full reloads.
func (h *Hub) RunSnapshot(ctx context.Context, runID string) (*models.RunSnapshot, error) {
	run, err := h.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	replies, err := h.replies.ListReplies(ctx, runID)
	if err != nil {
		return nil, err
	}
	spans, err := h.spans.ListByConversation(ctx, runID)
	if err != nil {
		return nil, err
	}
	pending, err := h.inputRequests.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	// Fold every collection through the same reconciliation the stream facts
	// use. Span ordering in particular lives here, not in the store.
	spans = merge.Spans(nil, spans)
	snap := &models.RunSnapshot{
		Run:           run,
		InputRequests: merge.InputRequests(nil, pending),
		Replies:       replies,
		Spans:         spans,
		SpanTree:      trace.BuildForest(spans),
		Trace:         trace.Derive(runID, spans),
	}
	if len(spans) > 0 {
		snap.Invocations = trace.ModelInvocations(runID, spans)
	}
	return snap, nil
}

// LeaveRoom removes the connection from a room. Leaving a room the
// connection never joined is a no-op.
func (h *Hub) LeaveRoom(c *Connection, roomName string) {
	h.roomsMu.Lock()
	r := h.rooms[roomName]
	h.roomsMu.Unlock()
	if r == nil {
		delete(c.joined, roomName)
		return
	}

	r.mu.Lock()
	delete(r.members, c.ID)
	empty := len(r.members) == 0
	r.mu.Unlock()
	delete(c.joined, roomName)

	if empty {
		h.dropRoomIfEmpty(roomName)
	}
}

// dropRoomIfEmpty removes the room entry when no member remains. Re-checked
// under roomsMu because a join may have raced the leave.
func (h *Hub) dropRoomIfEmpty(roomName string) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	r := h.rooms[roomName]
	if r == nil {
		return
	}
	r.mu.Lock()
	empty := len(r.members) == 0
	r.mu.Unlock()
	if empty {
		delete(h.rooms, roomName)
	}
}

func (h *Hub) getOrCreateRoom(roomName string) *room {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	r := h.rooms[roomName]
	if r == nil {
		r = &room{members: make(map[string]*Connection)}
		h.rooms[roomName] = r
	}
	return r
}

// publish delivers one fact to every member of a room, serialized under the
// room lock. Publishing to an absent or empty room is a no-op.
func (h *Hub) publish(roomName string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal room fact", "room", roomName, "error", err)
		return
	}

	h.roomsMu.Lock()
	r := h.rooms[roomName]
	h.roomsMu.Unlock()
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.members {
		if err := h.sendRaw(c, data); err != nil {
			slog.Warn("Failed to send to WebSocket client",
				"connection_id", c.ID, "room", roomName, "error", err)
		}
	}
}

// ActiveConnections returns the count of active observer connections.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// memberCount returns the number of members in a room.
// Unexported — used by tests to poll instead of sleeping.
func (h *Hub) memberCount(roomName string) int {
	h.roomsMu.Lock()
	r := h.rooms[roomName]
	h.roomsMu.Unlock()
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (h *Hub) registerConnection(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c.ID] = c
}

// unregisterConnection removes a connection from every room it joined, then
// from the connection map.
func (h *Hub) unregisterConnection(c *Connection) {
	for roomName := range c.joined {
		h.LeaveRoom(c, roomName)
	}

	h.mu.Lock()
	delete(h.connections, c.ID)
	h.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

// result sends a commandResult when the client asked for one (seq != 0), or
// when the command failed. Silent success on unsequenced commands keeps the
// fast path quiet.
func (h *Hub) result(c *Connection, seq int, success bool, message string, data any) {
	if seq == 0 && success {
		return
	}
	h.sendJSON(c, CommandResultPayload{
		Type:    FactCommandResult,
		Seq:     seq,
		Success: success,
		Message: message,
		Data:    data,
	})
}

// sendJSON marshals and sends a JSON message to a single connection.
func (h *Hub) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message",
			"connection_id", c.ID, "error", err)
		return
	}
	if err := h.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message",
			"connection_id", c.ID, "error", err)
	}
}

// sendRaw sends raw bytes to a single connection with a write timeout.
func (h *Hub) sendRaw(c *Connection, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
