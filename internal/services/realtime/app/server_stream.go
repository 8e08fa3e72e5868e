package server

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// streamRecord tracks one live broadcast: the owning member, the session that
// started it, and the viewer identity set.
type streamRecord struct {
	ownerUserID  string
	streamID     string
	ownerSession *wsSession
	viewers      map[string]struct{}
}

type streamSnapshot struct {
	UserID   string `json:"userId"`
	StreamID string `json:"streamId"`
}

type streamStartedPayload struct {
	UserID   string `json:"userId"`
	StreamID string `json:"streamId"`
}

type streamEndedPayload struct {
	UserID string `json:"userId"`
}

type viewerPayload struct {
	ViewerUserID string `json:"viewerUserId"`
}

type viewerCountPayload struct {
	StreamerID string `json:"streamerId"`
	Count      int    `json:"count"`
}

// startStream transitions the member to live. A second start for the same
// member silently replaces the record; viewers of the old record are not
// notified.
func (h *hub) startStream(session *wsSession, userID string) (string, []*wsPeer) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	streamID := userID + "-" + strconv.FormatInt(h.now().UnixNano(), 10)
	h.streams[userID] = &streamRecord{
		ownerUserID:  userID,
		streamID:     streamID,
		ownerSession: session,
		viewers:      make(map[string]struct{}),
	}
	return streamID, h.peersLocked()
}

// stopStream ends a live broadcast. Not live means no-op.
func (h *hub) stopStream(userID string) ([]*wsPeer, []*wsPeer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	record, ok := h.streams[strings.TrimSpace(userID)]
	if !ok {
		return nil, nil, false
	}
	viewers := h.viewerPeersLocked(record)
	delete(h.streams, record.ownerUserID)
	return viewers, h.peersLocked(), true
}

// joinStream registers a viewer on a live broadcast. An absent broadcast is a
// silent no-op; a duplicate join leaves the viewer set unchanged.
func (h *hub) joinStream(viewerUserID string, streamerUserID string) (*wsPeer, int, []*wsPeer, bool) {
	viewerUserID = strings.TrimSpace(viewerUserID)
	streamerUserID = strings.TrimSpace(streamerUserID)
	if viewerUserID == "" || streamerUserID == "" {
		return nil, 0, nil, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	record, ok := h.streams[streamerUserID]
	if !ok {
		return nil, 0, nil, false
	}
	record.viewers[viewerUserID] = struct{}{}
	return record.ownerSession.peer, len(record.viewers), h.peersLocked(), true
}

// leaveStream removes a viewer from a live broadcast. Unknown broadcast or
// viewer means no-op.
func (h *hub) leaveStream(viewerUserID string, streamerUserID string) (*wsPeer, int, []*wsPeer, bool) {
	viewerUserID = strings.TrimSpace(viewerUserID)
	streamerUserID = strings.TrimSpace(streamerUserID)

	h.mu.Lock()
	defer h.mu.Unlock()

	record, ok := h.streams[streamerUserID]
	if !ok {
		return nil, 0, nil, false
	}
	if _, watching := record.viewers[viewerUserID]; !watching {
		return nil, 0, nil, false
	}
	delete(record.viewers, viewerUserID)
	return record.ownerSession.peer, len(record.viewers), h.peersLocked(), true
}

// viewerCount is a pure read; 0 when the member is not live.
func (h *hub) viewerCount(streamerUserID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	record, ok := h.streams[strings.TrimSpace(streamerUserID)]
	if !ok {
		return 0
	}
	return len(record.viewers)
}

func (h *hub) activeStreams() []streamSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snapshots := make([]streamSnapshot, 0, len(h.streams))
	for _, record := range h.streams {
		snapshots = append(snapshots, streamSnapshot{
			UserID:   record.ownerUserID,
			StreamID: record.streamID,
		})
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].UserID < snapshots[j].UserID
	})
	return snapshots
}

func (h *hub) viewerPeersLocked(record *streamRecord) []*wsPeer {
	peers := make([]*wsPeer, 0, len(record.viewers))
	viewerIDs := make([]string, 0, len(record.viewers))
	for viewerUserID := range record.viewers {
		viewerIDs = append(viewerIDs, viewerUserID)
	}
	sort.Strings(viewerIDs)
	for _, viewerUserID := range viewerIDs {
		peers = append(peers, h.userPeersLocked(viewerUserID)...)
	}
	return peers
}

type streamOwnerPayload struct {
	UserID string `json:"userId"`
}

type streamViewerPayload struct {
	UserID     string `json:"userId"`
	StreamerID string `json:"streamerId"`
}

type viewerCountRequestPayload struct {
	StreamerID string `json:"streamerId"`
}

func handleStartStreamFrame(session *wsSession, h *hub, frame wsFrame) {
	var payload streamOwnerPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid startStream payload")
		return
	}

	streamID, peers := h.startStream(session, payload.UserID)
	if streamID == "" {
		return
	}
	broadcast(peers, wsFrame{
		Type: "streamStarted",
		Payload: mustJSON(streamStartedPayload{
			UserID:   strings.TrimSpace(payload.UserID),
			StreamID: streamID,
		}),
	})
}

func handleStopStreamFrame(session *wsSession, h *hub, frame wsFrame) {
	var payload streamOwnerPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid stopStream payload")
		return
	}

	viewers, peers, ok := h.stopStream(payload.UserID)
	if !ok {
		return
	}
	ended := wsFrame{
		Type:    "streamEnded",
		Payload: mustJSON(streamEndedPayload{UserID: strings.TrimSpace(payload.UserID)}),
	}
	for _, viewer := range viewers {
		_ = viewer.writeFrame(ended)
	}
	broadcast(peers, ended)
}

func handleJoinStreamFrame(session *wsSession, h *hub, frame wsFrame) {
	var payload streamViewerPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid joinStream payload")
		return
	}

	streamerPeer, count, peers, ok := h.joinStream(payload.UserID, payload.StreamerID)
	if !ok {
		return
	}
	if streamerPeer != nil {
		_ = streamerPeer.writeFrame(wsFrame{
			Type:    "viewerJoined",
			Payload: mustJSON(viewerPayload{ViewerUserID: strings.TrimSpace(payload.UserID)}),
		})
	}
	broadcast(peers, wsFrame{
		Type: "viewerCount",
		Payload: mustJSON(viewerCountPayload{
			StreamerID: strings.TrimSpace(payload.StreamerID),
			Count:      count,
		}),
	})
}

func handleLeaveStreamFrame(session *wsSession, h *hub, frame wsFrame) {
	var payload streamViewerPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid leaveStream payload")
		return
	}

	streamerPeer, count, peers, ok := h.leaveStream(payload.UserID, payload.StreamerID)
	if !ok {
		return
	}
	if streamerPeer != nil {
		_ = streamerPeer.writeFrame(wsFrame{
			Type:    "viewerLeft",
			Payload: mustJSON(viewerPayload{ViewerUserID: strings.TrimSpace(payload.UserID)}),
		})
	}
	broadcast(peers, wsFrame{
		Type: "viewerCount",
		Payload: mustJSON(viewerCountPayload{
			StreamerID: strings.TrimSpace(payload.StreamerID),
			Count:      count,
		}),
	})
}

func handleActiveStreamsFrame(session *wsSession, h *hub, frame wsFrame) {
	_ = session.peer.writeFrame(wsFrame{
		Type:      "activeStreams",
		RequestID: frame.RequestID,
		Payload:   mustJSON(h.activeStreams()),
	})
}

func handleViewerCountFrame(session *wsSession, h *hub, frame wsFrame) {
	var payload viewerCountRequestPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid getViewerCount payload")
		return
	}
	streamerID := strings.TrimSpace(payload.StreamerID)
	if streamerID == "" {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "streamerId is required")
		return
	}

	_ = session.peer.writeFrame(wsFrame{
		Type:      "viewerCount",
		RequestID: frame.RequestID,
		Payload: mustJSON(viewerCountPayload{
			StreamerID: streamerID,
			Count:      h.viewerCount(streamerID),
		}),
	})
}
