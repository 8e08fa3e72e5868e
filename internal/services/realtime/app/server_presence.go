package server

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// hub owns every process-wide registry: the session table, the presence set,
// and the live-stream records. All mutation happens under one mutex; handlers
// compute delivery targets under the lock and write frames after releasing it.
type hub struct {
	mu       sync.Mutex
	now      func() time.Time
	sessions map[*wsSession]struct{}
	byUser   map[string]map[*wsSession]struct{}
	presence map[string]struct{}
	streams  map[string]*streamRecord
}

func newHub(now func() time.Time) *hub {
	if now == nil {
		now = time.Now
	}
	return &hub{
		now:      now,
		sessions: make(map[*wsSession]struct{}),
		byUser:   make(map[string]map[*wsSession]struct{}),
		presence: make(map[string]struct{}),
		streams:  make(map[string]*streamRecord),
	}
}

func (h *hub) register(session *wsSession) {
	h.mu.Lock()
	h.sessions[session] = struct{}{}
	h.mu.Unlock()
}

// join announces a member identity for a connection. Duplicate joins are
// idempotent; an empty identity is accepted with no observable effect.
func (h *hub) join(session *wsSession, userID string) ([]string, []*wsPeer) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	session.setUserID(userID)
	sessions, ok := h.byUser[userID]
	if !ok {
		sessions = make(map[*wsSession]struct{})
		h.byUser[userID] = sessions
	}
	sessions[session] = struct{}{}
	h.presence[userID] = struct{}{}

	return h.presenceSnapshotLocked(), h.peersLocked()
}

// disconnect removes the session and returns everything the transport must
// emit: the presence broadcast, the implicit stream stop if the member owned
// a live stream, and one viewer exit per stream the member was watching.
func (h *hub) disconnect(session *wsSession) disconnectCleanup {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.sessions, session)

	userID := session.currentUserID()
	if userID == "" {
		return disconnectCleanup{}
	}

	if sessions, ok := h.byUser[userID]; ok {
		delete(sessions, session)
		if len(sessions) == 0 {
			delete(h.byUser, userID)
		}
	}
	delete(h.presence, userID)

	cleanup := disconnectCleanup{
		userID: userID,
		users:  h.presenceSnapshotLocked(),
		peers:  h.peersLocked(),
	}

	if record, ok := h.streams[userID]; ok && record.ownerSession == session {
		cleanup.stoppedOwnerUserID = userID
		cleanup.stoppedViewerPeers = h.viewerPeersLocked(record)
		delete(h.streams, userID)
	}

	for streamerUserID, record := range h.streams {
		if _, watching := record.viewers[userID]; !watching {
			continue
		}
		delete(record.viewers, userID)
		cleanup.viewerExits = append(cleanup.viewerExits, viewerExitCleanup{
			streamerUserID: streamerUserID,
			streamerPeer:   record.ownerSession.peer,
			count:          len(record.viewers),
		})
	}
	sort.Slice(cleanup.viewerExits, func(i, j int) bool {
		return cleanup.viewerExits[i].streamerUserID < cleanup.viewerExits[j].streamerUserID
	})

	return cleanup
}

func (h *hub) isPresent(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.presence[userID]
	return ok
}

// sessionsFor returns the write halves of every session announced as userID.
func (h *hub) sessionsFor(userID string) []*wsPeer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.userPeersLocked(userID)
}

func (h *hub) userPeersLocked(userID string) []*wsPeer {
	sessions, ok := h.byUser[userID]
	if !ok {
		return nil
	}
	peers := make([]*wsPeer, 0, len(sessions))
	for session := range sessions {
		peers = append(peers, session.peer)
	}
	return peers
}

func (h *hub) peersLocked() []*wsPeer {
	peers := make([]*wsPeer, 0, len(h.sessions))
	for session := range h.sessions {
		peers = append(peers, session.peer)
	}
	return peers
}

func (h *hub) presenceSnapshotLocked() []string {
	users := make([]string, 0, len(h.presence))
	for userID := range h.presence {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

type disconnectCleanup struct {
	userID             string
	users              []string
	peers              []*wsPeer
	stoppedOwnerUserID string
	stoppedViewerPeers []*wsPeer
	viewerExits        []viewerExitCleanup
}

type viewerExitCleanup struct {
	streamerUserID string
	streamerPeer   *wsPeer
	count          int
}

func emitDisconnectCleanup(cleanup disconnectCleanup) {
	if cleanup.userID == "" {
		return
	}

	broadcast(cleanup.peers, wsFrame{
		Type:    "activeUsers",
		Payload: mustJSON(cleanup.users),
	})

	if cleanup.stoppedOwnerUserID != "" {
		ended := wsFrame{
			Type:    "streamEnded",
			Payload: mustJSON(streamEndedPayload{UserID: cleanup.stoppedOwnerUserID}),
		}
		for _, viewer := range cleanup.stoppedViewerPeers {
			_ = viewer.writeFrame(ended)
		}
		broadcast(cleanup.peers, ended)
	}

	for _, exit := range cleanup.viewerExits {
		if exit.streamerPeer != nil {
			_ = exit.streamerPeer.writeFrame(wsFrame{
				Type:    "viewerLeft",
				Payload: mustJSON(viewerPayload{ViewerUserID: cleanup.userID}),
			})
		}
		broadcast(cleanup.peers, wsFrame{
			Type: "viewerCount",
			Payload: mustJSON(viewerCountPayload{
				StreamerID: exit.streamerUserID,
				Count:      exit.count,
			}),
		})
	}
}

type joinRoomPayload struct {
	UserID string `json:"userId"`
}

func handleJoinRoomFrame(session *wsSession, h *hub, frame wsFrame) {
	var payload joinRoomPayload
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid joinRoom payload")
			return
		}
	}

	userID := strings.TrimSpace(payload.UserID)
	if session.authUserID != "" {
		userID = session.authUserID
	}

	users, peers := h.join(session, userID)
	if users == nil {
		return
	}
	broadcast(peers, wsFrame{
		Type:    "activeUsers",
		Payload: mustJSON(users),
	})
}
