package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	messagesdomain "github.com/devorbit/devorbit/internal/services/messages/domain"
	notificationsdomain "github.com/devorbit/devorbit/internal/services/notifications/domain"
)

type wsTestFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type fakeWSAuthorizer struct {
	userID  string
	authErr error
}

func (f fakeWSAuthorizer) Authenticate(_ context.Context, _ string) (string, error) {
	if f.authErr != nil {
		return "", f.authErr
	}
	if strings.TrimSpace(f.userID) == "" {
		return "", errors.New("missing user id")
	}
	return strings.TrimSpace(f.userID), nil
}

type fakeUserDirectory struct {
	mu        sync.Mutex
	existing  map[string]bool
	ops       *opLog
	accepted  [][2]string
	rejected  [][2]string
	acceptErr error
}

func (f *fakeUserDirectory) Exists(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[userID], nil
}

func (f *fakeUserDirectory) AcceptConnectionRequest(_ context.Context, acceptorUserID string, requesterUserID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acceptErr != nil {
		return f.acceptErr
	}
	f.accepted = append(f.accepted, [2]string{acceptorUserID, requesterUserID})
	f.ops.record("mutate")
	return nil
}

func (f *fakeUserDirectory) RejectConnectionRequest(_ context.Context, ownerUserID string, requesterUserID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = append(f.rejected, [2]string{ownerUserID, requesterUserID})
	f.ops.record("mutate")
	return nil
}

type fakeMessageWriter struct {
	mu      sync.Mutex
	sent    []messagesdomain.Message
	sendErr error
}

func (f *fakeMessageWriter) Send(_ context.Context, senderUserID string, receiverUserID string, body string) (messagesdomain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return messagesdomain.Message{}, f.sendErr
	}
	message := messagesdomain.Message{
		ID:             "msg-1",
		SenderUserID:   senderUserID,
		ReceiverUserID: receiverUserID,
		Body:           body,
		Read:           false,
		CreatedAt:      time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
	}
	f.sent = append(f.sent, message)
	return message, nil
}

type fakeNotificationWriter struct {
	mu      sync.Mutex
	created []notificationsdomain.CreateInput
	ops     *opLog
}

func (f *fakeNotificationWriter) Create(_ context.Context, input notificationsdomain.CreateInput) (notificationsdomain.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, input)
	f.ops.record("notify")
	return notificationsdomain.Notification{
		ID:              "ntf-1",
		RecipientUserID: input.RecipientUserID,
		SenderUserID:    input.SenderUserID,
		Type:            input.Type,
		Message:         input.Message,
		Read:            false,
		CreatedAt:       time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
	}, nil
}

// opLog captures cross-collaborator call ordering.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) record(op string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.ops = append(l.ops, op)
	l.mu.Unlock()
}

func (l *opLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

func newTestServer(t *testing.T, collaborators Collaborators) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHandler(collaborators))
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, err := dialWSWithServerURL(srv.URL, "/ws", "")
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func dialWSWithServerURL(httpURL string, path string, cookie string) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + path
	if strings.TrimSpace(cookie) == "" {
		return websocket.Dial(wsURL, "", httpURL)
	}
	cfg, err := websocket.NewConfig(wsURL, httpURL)
	if err != nil {
		return nil, err
	}
	cfg.Header = make(http.Header)
	cfg.Header.Set("Cookie", cookie)
	return websocket.DialConfig(cfg)
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	if err := json.NewEncoder(conn).Encode(frame); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) wsTestFrame {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var got wsTestFrame
	if err := json.NewDecoder(conn).Decode(&got); err != nil {
		t.Fatalf("decode server frame: %v", err)
	}
	return got
}

func expectFrame(t *testing.T, conn *websocket.Conn, frameType string) wsTestFrame {
	t.Helper()
	got := readFrame(t, conn)
	if got.Type != frameType {
		t.Fatalf("frame type = %q, want %q", got.Type, frameType)
	}
	return got
}

func decodeUsers(t *testing.T, payload json.RawMessage) []string {
	t.Helper()
	var users []string
	if err := json.Unmarshal(payload, &users); err != nil {
		t.Fatalf("decode activeUsers payload: %v", err)
	}
	return users
}

func joinRoom(t *testing.T, conn *websocket.Conn, userID string) []string {
	t.Helper()
	writeFrame(t, conn, map[string]any{
		"type":    "joinRoom",
		"payload": map[string]any{"userId": userID},
	})
	got := expectFrame(t, conn, "activeUsers")
	return decodeUsers(t, got.Payload)
}

// probeActiveStreams round-trips a request/response frame, proving every
// previously triggered emission toward this connection has been read.
func probeActiveStreams(t *testing.T, conn *websocket.Conn, requestID string) []streamSnapshot {
	t.Helper()
	writeFrame(t, conn, map[string]any{
		"type":       "getActiveStreams",
		"request_id": requestID,
	})
	got := expectFrame(t, conn, "activeStreams")
	if got.RequestID != requestID {
		t.Fatalf("request id = %q, want %q", got.RequestID, requestID)
	}
	var snapshots []streamSnapshot
	if err := json.Unmarshal(got.Payload, &snapshots); err != nil {
		t.Fatalf("decode activeStreams payload: %v", err)
	}
	return snapshots
}

func TestJoinRoomBroadcastsSortedActiveUsers(t *testing.T) {
	srv := newTestServer(t, Collaborators{})

	connZed := dialWS(t, srv)
	if got := joinRoom(t, connZed, "zed"); len(got) != 1 || got[0] != "zed" {
		t.Fatalf("activeUsers = %v, want [zed]", got)
	}

	connAbe := dialWS(t, srv)
	if got := joinRoom(t, connAbe, "abe"); len(got) != 2 || got[0] != "abe" || got[1] != "zed" {
		t.Fatalf("activeUsers = %v, want [abe zed]", got)
	}

	// The earlier connection receives the same broadcast.
	got := expectFrame(t, connZed, "activeUsers")
	if users := decodeUsers(t, got.Payload); len(users) != 2 || users[0] != "abe" {
		t.Fatalf("broadcast activeUsers = %v, want [abe zed]", users)
	}
}

func TestJoinRoomIsIdempotent(t *testing.T) {
	srv := newTestServer(t, Collaborators{})

	conn := dialWS(t, srv)
	joinRoom(t, conn, "alice")
	if got := joinRoom(t, conn, "alice"); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("activeUsers = %v, want [alice]", got)
	}
}

func TestJoinRoomEmptyUserIDHasNoEffect(t *testing.T) {
	srv := newTestServer(t, Collaborators{})

	conn := dialWS(t, srv)
	writeFrame(t, conn, map[string]any{
		"type":    "joinRoom",
		"payload": map[string]any{"userId": "  "},
	})

	// No presence broadcast happened: the probe reply is the next frame.
	probeActiveStreams(t, conn, "req-probe")
}

func TestPresenceDropsUserAfterDisconnect(t *testing.T) {
	srv := newTestServer(t, Collaborators{})

	connAlice := dialWS(t, srv)
	joinRoom(t, connAlice, "alice")

	connBob := dialWS(t, srv)
	joinRoom(t, connBob, "bob")
	expectFrame(t, connAlice, "activeUsers")

	_ = connBob.Close()

	got := expectFrame(t, connAlice, "activeUsers")
	users := decodeUsers(t, got.Payload)
	if len(users) != 1 || users[0] != "alice" {
		t.Fatalf("activeUsers after disconnect = %v, want [alice]", users)
	}
}

func TestStartStreamThenViewerCountIsZero(t *testing.T) {
	srv := newTestServer(t, Collaborators{})

	conn := dialWS(t, srv)
	joinRoom(t, conn, "alice")

	writeFrame(t, conn, map[string]any{
		"type":    "startStream",
		"payload": map[string]any{"userId": "alice"},
	})
	started := expectFrame(t, conn, "streamStarted")
	if !strings.Contains(string(started.Payload), `"alice"`) {
		t.Fatalf("streamStarted payload = %s, expected alice", string(started.Payload))
	}

	writeFrame(t, conn, map[string]any{
		"type":       "getViewerCount",
		"request_id": "req-count",
		"payload":    map[string]any{"streamerId": "alice"},
	})
	reply := expectFrame(t, conn, "viewerCount")
	if reply.RequestID != "req-count" {
		t.Fatalf("request id = %q, want req-count", reply.RequestID)
	}
	var count viewerCountPayload
	if err := json.Unmarshal(reply.Payload, &count); err != nil {
		t.Fatalf("decode viewerCount payload: %v", err)
	}
	if count.Count != 0 {
		t.Fatalf("viewer count = %d, want 0", count.Count)
	}
}

func TestJoinStreamWithoutLiveStreamIsSilentNoop(t *testing.T) {
	srv := newTestServer(t, Collaborators{})

	conn := dialWS(t, srv)
	joinRoom(t, conn, "bob")

	writeFrame(t, conn, map[string]any{
		"type":    "joinStream",
		"payload": map[string]any{"userId": "bob", "streamerId": "alice"},
	})

	// No viewerJoined, no viewerCount: the probe reply is the next frame.
	if streams := probeActiveStreams(t, conn, "req-probe"); len(streams) != 0 {
		t.Fatalf("activeStreams = %v, want empty", streams)
	}
}

func TestDuplicateJoinStreamKeepsViewerCountAtOne(t *testing.T) {
	srv := newTestServer(t, Collaborators{})

	streamer := dialWS(t, srv)
	joinRoom(t, streamer, "alice")
	writeFrame(t, streamer, map[string]any{
		"type":    "startStream",
		"payload": map[string]any{"userId": "alice"},
	})
	expectFrame(t, streamer, "streamStarted")

	viewer := dialWS(t, srv)
	joinRoom(t, viewer, "bob")
	expectFrame(t, streamer, "activeUsers")

	for i := 0; i < 2; i++ {
		writeFrame(t, viewer, map[string]any{
			"type":    "joinStream",
			"payload": map[string]any{"userId": "bob", "streamerId": "alice"},
		})
		reply := expectFrame(t, viewer, "viewerCount")
		var count viewerCountPayload
		if err := json.Unmarshal(reply.Payload, &count); err != nil {
			t.Fatalf("decode viewerCount payload: %v", err)
		}
		if count.Count != 1 {
			t.Fatalf("viewer count after join %d = %d, want 1", i+1, count.Count)
		}
	}
}

func TestStopStreamEmitsTargetedAndBroadcastStreamEnded(t *testing.T) {
	srv := newTestServer(t, Collaborators{})

	streamer := dialWS(t, srv)
	joinRoom(t, streamer, "alice")
	writeFrame(t, streamer, map[string]any{
		"type":    "startStream",
		"payload": map[string]any{"userId": "alice"},
	})
	expectFrame(t, streamer, "streamStarted")

	viewers := make([]*websocket.Conn, 0, 2)
	for _, viewerID := range []string{"v1", "v2"} {
		viewer := dialWS(t, srv)
		joinRoom(t, viewer, viewerID)
		expectFrame(t, streamer, "activeUsers")
		for _, other := range viewers {
			expectFrame(t, other, "activeUsers")
		}

		writeFrame(t, viewer, map[string]any{
			"type":    "joinStream",
			"payload": map[string]any{"userId": viewerID, "streamerId": "alice"},
		})
		expectFrame(t, streamer, "viewerJoined")
		expectFrame(t, streamer, "viewerCount")
		expectFrame(t, viewer, "viewerCount")
		for _, other := range viewers {
			expectFrame(t, other, "viewerCount")
		}
		viewers = append(viewers, viewer)
	}

	writeFrame(t, streamer, map[string]any{
		"type":    "stopStream",
		"payload": map[string]any{"userId": "alice"},
	})

	// Each viewer gets a targeted streamEnded followed by the broadcast copy.
	for _, viewer := range viewers {
		expectFrame(t, viewer, "streamEnded")
		expectFrame(t, viewer, "streamEnded")
		probeActiveStreams(t, viewer, "req-viewer-probe")
	}

	// The streamer was not a viewer: broadcast copy only.
	expectFrame(t, streamer, "streamEnded")
	if streams := probeActiveStreams(t, streamer, "req-streamer-probe"); len(streams) != 0 {
		t.Fatalf("activeStreams after stop = %v, want empty", streams)
	}
}

func TestStopStreamWithoutLiveStreamIsNoop(t *testing.T) {
	srv := newTestServer(t, Collaborators{})

	conn := dialWS(t, srv)
	joinRoom(t, conn, "alice")
	writeFrame(t, conn, map[string]any{
		"type":    "stopStream",
		"payload": map[string]any{"userId": "alice"},
	})

	probeActiveStreams(t, conn, "req-probe")
}

func TestSecondStartStreamReplacesRecordWithNewStreamID(t *testing.T) {
	srv := newTestServer(t, Collaborators{})

	conn := dialWS(t, srv)
	joinRoom(t, conn, "alice")

	streamIDs := make([]string, 0, 2)
	for i := 0; i < 2; i++ {
		writeFrame(t, conn, map[string]any{
			"type":    "startStream",
			"payload": map[string]any{"userId": "alice"},
		})
		started := expectFrame(t, conn, "streamStarted")
		var payload streamStartedPayload
		if err := json.Unmarshal(started.Payload, &payload); err != nil {
			t.Fatalf("decode streamStarted payload: %v", err)
		}
		streamIDs = append(streamIDs, payload.StreamID)
	}

	if streamIDs[0] == streamIDs[1] {
		t.Fatalf("stream ids must differ, both %q", streamIDs[0])
	}
	streams := probeActiveStreams(t, conn, "req-probe")
	if len(streams) != 1 {
		t.Fatalf("active streams = %d, want 1", len(streams))
	}
	if streams[0].StreamID != streamIDs[1] {
		t.Fatalf("live stream id = %q, want %q", streams[0].StreamID, streamIDs[1])
	}
}

func TestViewerDisconnectLeavesStream(t *testing.T) {
	srv := newTestServer(t, Collaborators{})

	streamer := dialWS(t, srv)
	joinRoom(t, streamer, "alice")
	writeFrame(t, streamer, map[string]any{
		"type":    "startStream",
		"payload": map[string]any{"userId": "alice"},
	})
	expectFrame(t, streamer, "streamStarted")

	viewer := dialWS(t, srv)
	joinRoom(t, viewer, "bob")
	expectFrame(t, streamer, "activeUsers")
	writeFrame(t, viewer, map[string]any{
		"type":    "joinStream",
		"payload": map[string]any{"userId": "bob", "streamerId": "alice"},
	})
	expectFrame(t, streamer, "viewerJoined")
	expectFrame(t, streamer, "viewerCount")

	_ = viewer.Close()

	expectFrame(t, streamer, "activeUsers")
	left := expectFrame(t, streamer, "viewerLeft")
	if !strings.Contains(string(left.Payload), `"bob"`) {
		t.Fatalf("viewerLeft payload = %s, expected bob", string(left.Payload))
	}
	reply := expectFrame(t, streamer, "viewerCount")
	var count viewerCountPayload
	if err := json.Unmarshal(reply.Payload, &count); err != nil {
		t.Fatalf("decode viewerCount payload: %v", err)
	}
	if count.Count != 0 {
		t.Fatalf("viewer count after disconnect = %d, want 0", count.Count)
	}
}

func TestLeaveStreamNotifiesStreamerAndResetsCount(t *testing.T) {
	srv := newTestServer(t, Collaborators{})

	streamer := dialWS(t, srv)
	joinRoom(t, streamer, "alice")
	writeFrame(t, streamer, map[string]any{
		"type":    "startStream",
		"payload": map[string]any{"userId": "alice"},
	})
	expectFrame(t, streamer, "streamStarted")

	viewer := dialWS(t, srv)
	joinRoom(t, viewer, "bob")
	expectFrame(t, streamer, "activeUsers")
	writeFrame(t, viewer, map[string]any{
		"type":    "joinStream",
		"payload": map[string]any{"userId": "bob", "streamerId": "alice"},
	})
	expectFrame(t, streamer, "viewerJoined")
	expectFrame(t, streamer, "viewerCount")
	expectFrame(t, viewer, "viewerCount")

	writeFrame(t, viewer, map[string]any{
		"type":    "leaveStream",
		"payload": map[string]any{"userId": "bob", "streamerId": "alice"},
	})

	left := expectFrame(t, streamer, "viewerLeft")
	if !strings.Contains(string(left.Payload), `"bob"`) {
		t.Fatalf("viewerLeft payload = %s, expected bob", string(left.Payload))
	}
	reply := expectFrame(t, viewer, "viewerCount")
	var count viewerCountPayload
	if err := json.Unmarshal(reply.Payload, &count); err != nil {
		t.Fatalf("decode viewerCount payload: %v", err)
	}
	if count.StreamerID != "alice" || count.Count != 0 {
		t.Fatalf("viewerCount = %+v, want alice/0", count)
	}
}

func TestLeaveStreamByNonViewerIsNoop(t *testing.T) {
	srv := newTestServer(t, Collaborators{})

	streamer := dialWS(t, srv)
	joinRoom(t, streamer, "alice")
	writeFrame(t, streamer, map[string]any{
		"type":    "startStream",
		"payload": map[string]any{"userId": "alice"},
	})
	expectFrame(t, streamer, "streamStarted")

	other := dialWS(t, srv)
	joinRoom(t, other, "bob")
	expectFrame(t, streamer, "activeUsers")

	writeFrame(t, other, map[string]any{
		"type":    "leaveStream",
		"payload": map[string]any{"userId": "bob", "streamerId": "alice"},
	})

	probeActiveStreams(t, other, "req-probe")
}

func TestOwnerDisconnectStopsStream(t *testing.T) {
	srv := newTestServer(t, Collaborators{})

	streamer := dialWS(t, srv)
	joinRoom(t, streamer, "alice")
	writeFrame(t, streamer, map[string]any{
		"type":    "startStream",
		"payload": map[string]any{"userId": "alice"},
	})
	expectFrame(t, streamer, "streamStarted")

	viewer := dialWS(t, srv)
	joinRoom(t, viewer, "bob")
	expectFrame(t, streamer, "activeUsers")
	writeFrame(t, viewer, map[string]any{
		"type":    "joinStream",
		"payload": map[string]any{"userId": "bob", "streamerId": "alice"},
	})
	expectFrame(t, viewer, "viewerCount")

	_ = streamer.Close()

	expectFrame(t, viewer, "activeUsers")
	expectFrame(t, viewer, "streamEnded")
	expectFrame(t, viewer, "streamEnded")
	if streams := probeActiveStreams(t, viewer, "req-probe"); len(streams) != 0 {
		t.Fatalf("activeStreams after owner disconnect = %v, want empty", streams)
	}
}

func TestSignalRelayForwardsOfferToTarget(t *testing.T) {
	srv := newTestServer(t, Collaborators{})

	caller := dialWS(t, srv)
	joinRoom(t, caller, "alice")
	callee := dialWS(t, srv)
	joinRoom(t, callee, "bob")
	expectFrame(t, caller, "activeUsers")

	writeFrame(t, caller, map[string]any{
		"type": "offer",
		"payload": map[string]any{
			"sender": "alice",
			"target": "bob",
			"offer":  map[string]any{"sdp": "v=0", "type": "offer"},
		},
	})

	got := expectFrame(t, callee, "offer")
	var relayed struct {
		Sender string `json:"sender"`
		Offer  struct {
			SDP string `json:"sdp"`
		} `json:"offer"`
		Target string `json:"target"`
	}
	if err := json.Unmarshal(got.Payload, &relayed); err != nil {
		t.Fatalf("decode relayed offer: %v", err)
	}
	if relayed.Sender != "alice" {
		t.Fatalf("relayed sender = %q, want alice", relayed.Sender)
	}
	if relayed.Offer.SDP != "v=0" {
		t.Fatalf("relayed sdp = %q, want v=0", relayed.Offer.SDP)
	}
	if relayed.Target != "" {
		t.Fatalf("relayed target = %q, want omitted", relayed.Target)
	}
}

func TestSignalRelayDropsAbsentTargetSilently(t *testing.T) {
	srv := newTestServer(t, Collaborators{})

	caller := dialWS(t, srv)
	joinRoom(t, caller, "alice")

	writeFrame(t, caller, map[string]any{
		"type": "ice-candidate",
		"payload": map[string]any{
			"sender":    "alice",
			"target":    "carol",
			"candidate": map[string]any{"candidate": "candidate:0"},
		},
	})

	// Dropped with no error back: the probe reply is the next frame.
	probeActiveStreams(t, caller, "req-probe")
}

func TestSendMessagePersistsBeforeDelivery(t *testing.T) {
	messages := &fakeMessageWriter{}
	srv := newTestServer(t, Collaborators{Messages: messages})

	alice := dialWS(t, srv)
	joinRoom(t, alice, "alice")
	bob := dialWS(t, srv)
	joinRoom(t, bob, "bob")
	expectFrame(t, alice, "activeUsers")

	writeFrame(t, alice, map[string]any{
		"type": "sendMessage",
		"payload": map[string]any{
			"senderId":   "alice",
			"receiverId": "bob",
			"message":    "hi",
		},
	})

	got := expectFrame(t, bob, "receiveMessage")
	var delivered receiveMessagePayload
	if err := json.Unmarshal(got.Payload, &delivered); err != nil {
		t.Fatalf("decode receiveMessage payload: %v", err)
	}
	if delivered.Message != "hi" {
		t.Fatalf("delivered message = %q, want hi", delivered.Message)
	}
	if delivered.SenderID != "alice" {
		t.Fatalf("delivered senderId = %q, want alice", delivered.SenderID)
	}
	if delivered.IsRead {
		t.Fatal("delivered message must be unread")
	}

	messages.mu.Lock()
	defer messages.mu.Unlock()
	if len(messages.sent) != 1 {
		t.Fatalf("persisted messages = %d, want 1", len(messages.sent))
	}
	if messages.sent[0].Body != "hi" || messages.sent[0].ReceiverUserID != "bob" {
		t.Fatalf("persisted message = %+v, want body hi to bob", messages.sent[0])
	}
}

func TestSendMessageWithoutEchoToSender(t *testing.T) {
	messages := &fakeMessageWriter{}
	srv := newTestServer(t, Collaborators{Messages: messages})

	alice := dialWS(t, srv)
	joinRoom(t, alice, "alice")

	writeFrame(t, alice, map[string]any{
		"type": "sendMessage",
		"payload": map[string]any{
			"senderId":   "alice",
			"receiverId": "bob",
			"message":    "hi",
		},
	})

	// Receiver offline, sender gets no echo: the probe reply is next.
	probeActiveStreams(t, alice, "req-probe")
}

func TestSendMessagePersistFailureDropsDelivery(t *testing.T) {
	messages := &fakeMessageWriter{sendErr: errors.New("store down")}
	srv := newTestServer(t, Collaborators{Messages: messages})

	alice := dialWS(t, srv)
	joinRoom(t, alice, "alice")
	bob := dialWS(t, srv)
	joinRoom(t, bob, "bob")
	expectFrame(t, alice, "activeUsers")

	writeFrame(t, alice, map[string]any{
		"type": "sendMessage",
		"payload": map[string]any{
			"senderId":   "alice",
			"receiverId": "bob",
			"message":    "hi",
		},
	})

	// Drain the sender's handler first; a delivery write toward bob would
	// have happened before this probe returned.
	probeActiveStreams(t, alice, "req-probe-alice")
	probeActiveStreams(t, bob, "req-probe-bob")
}

func TestAcceptRequestMutatesBeforeNotifying(t *testing.T) {
	ops := &opLog{}
	users := &fakeUserDirectory{
		existing: map[string]bool{"alice": true, "bob": true},
		ops:      ops,
	}
	notifications := &fakeNotificationWriter{ops: ops}
	srv := newTestServer(t, Collaborators{Users: users, Notifications: notifications})

	alice := dialWS(t, srv)
	joinRoom(t, alice, "alice")

	writeFrame(t, alice, map[string]any{
		"type":    "acceptRequest",
		"payload": map[string]any{"userId": "bob", "senderId": "alice"},
	})

	got := expectFrame(t, alice, "newNotification")
	var delivered newNotificationPayload
	if err := json.Unmarshal(got.Payload, &delivered); err != nil {
		t.Fatalf("decode newNotification payload: %v", err)
	}
	if delivered.SenderID != "bob" {
		t.Fatalf("notification senderId = %q, want bob", delivered.SenderID)
	}
	if delivered.Type != notificationsdomain.TypeConnectionAccepted {
		t.Fatalf("notification type = %q, want %q", delivered.Type, notificationsdomain.TypeConnectionAccepted)
	}

	users.mu.Lock()
	if len(users.accepted) != 1 || users.accepted[0] != [2]string{"bob", "alice"} {
		t.Fatalf("accepted calls = %v, want [[bob alice]]", users.accepted)
	}
	users.mu.Unlock()

	if got := ops.snapshot(); len(got) != 2 || got[0] != "mutate" || got[1] != "notify" {
		t.Fatalf("collaborator call order = %v, want [mutate notify]", got)
	}
}

func TestAcceptRequestUnknownUserIsDropped(t *testing.T) {
	ops := &opLog{}
	users := &fakeUserDirectory{
		existing: map[string]bool{"bob": true},
		ops:      ops,
	}
	notifications := &fakeNotificationWriter{ops: ops}
	srv := newTestServer(t, Collaborators{Users: users, Notifications: notifications})

	alice := dialWS(t, srv)
	joinRoom(t, alice, "alice")

	writeFrame(t, alice, map[string]any{
		"type":    "acceptRequest",
		"payload": map[string]any{"userId": "bob", "senderId": "alice"},
	})

	probeActiveStreams(t, alice, "req-probe")
	if got := ops.snapshot(); len(got) != 0 {
		t.Fatalf("collaborator calls = %v, want none", got)
	}
}

func TestAcceptRequestMutationFailureSkipsNotification(t *testing.T) {
	ops := &opLog{}
	users := &fakeUserDirectory{
		existing:  map[string]bool{"alice": true, "bob": true},
		ops:       ops,
		acceptErr: errors.New("store down"),
	}
	notifications := &fakeNotificationWriter{ops: ops}
	srv := newTestServer(t, Collaborators{Users: users, Notifications: notifications})

	alice := dialWS(t, srv)
	joinRoom(t, alice, "alice")

	writeFrame(t, alice, map[string]any{
		"type":    "acceptRequest",
		"payload": map[string]any{"userId": "bob", "senderId": "alice"},
	})

	probeActiveStreams(t, alice, "req-probe")
	notifications.mu.Lock()
	defer notifications.mu.Unlock()
	if len(notifications.created) != 0 {
		t.Fatalf("notifications created = %d, want 0", len(notifications.created))
	}
}

func TestRejectRequestNotifiesRequester(t *testing.T) {
	ops := &opLog{}
	users := &fakeUserDirectory{
		existing: map[string]bool{"alice": true, "bob": true},
		ops:      ops,
	}
	notifications := &fakeNotificationWriter{ops: ops}
	srv := newTestServer(t, Collaborators{Users: users, Notifications: notifications})

	alice := dialWS(t, srv)
	joinRoom(t, alice, "alice")

	writeFrame(t, alice, map[string]any{
		"type":    "rejectRequest",
		"payload": map[string]any{"userId": "bob", "senderId": "alice"},
	})

	got := expectFrame(t, alice, "newNotification")
	if !strings.Contains(string(got.Payload), notificationsdomain.TypeConnectionRejected) {
		t.Fatalf("notification payload = %s, expected rejected type", string(got.Payload))
	}
	users.mu.Lock()
	defer users.mu.Unlock()
	if len(users.rejected) != 1 || users.rejected[0] != [2]string{"bob", "alice"} {
		t.Fatalf("rejected calls = %v, want [[bob alice]]", users.rejected)
	}
}

func TestFollowNotifiesCounterpartyOnly(t *testing.T) {
	ops := &opLog{}
	users := &fakeUserDirectory{
		existing: map[string]bool{"alice": true, "bob": true},
		ops:      ops,
	}
	notifications := &fakeNotificationWriter{ops: ops}
	srv := newTestServer(t, Collaborators{Users: users, Notifications: notifications})

	bob := dialWS(t, srv)
	joinRoom(t, bob, "bob")

	writeFrame(t, bob, map[string]any{
		"type":    "follow",
		"payload": map[string]any{"userId": "alice", "followUserId": "bob"},
	})

	got := expectFrame(t, bob, "newNotification")
	if !strings.Contains(string(got.Payload), notificationsdomain.TypeFollow) {
		t.Fatalf("notification payload = %s, expected follow type", string(got.Payload))
	}

	// Notify-only: the realtime layer never touches the follow graph.
	users.mu.Lock()
	defer users.mu.Unlock()
	if len(users.accepted) != 0 || len(users.rejected) != 0 {
		t.Fatal("follow must not mutate relationship state")
	}
}

func TestMentorshipRequestNotifiesMentor(t *testing.T) {
	ops := &opLog{}
	users := &fakeUserDirectory{
		existing: map[string]bool{"alice": true, "mentor-1": true},
		ops:      ops,
	}
	notifications := &fakeNotificationWriter{ops: ops}
	srv := newTestServer(t, Collaborators{Users: users, Notifications: notifications})

	mentor := dialWS(t, srv)
	joinRoom(t, mentor, "mentor-1")

	writeFrame(t, mentor, map[string]any{
		"type":    "mentorship-request",
		"payload": map[string]any{"userId": "alice", "mentorId": "mentor-1"},
	})

	got := expectFrame(t, mentor, "newNotification")
	if !strings.Contains(string(got.Payload), notificationsdomain.TypeMentorshipRequest) {
		t.Fatalf("notification payload = %s, expected mentorship request type", string(got.Payload))
	}
}

func TestAcceptMentorshipNotifiesMentee(t *testing.T) {
	ops := &opLog{}
	users := &fakeUserDirectory{
		existing: map[string]bool{"mentor-1": true, "mentee-1": true},
		ops:      ops,
	}
	notifications := &fakeNotificationWriter{ops: ops}
	srv := newTestServer(t, Collaborators{Users: users, Notifications: notifications})

	mentee := dialWS(t, srv)
	joinRoom(t, mentee, "mentee-1")

	writeFrame(t, mentee, map[string]any{
		"type":    "acceptMentorship",
		"payload": map[string]any{"userId": "mentor-1", "menteeId": "mentee-1"},
	})

	got := expectFrame(t, mentee, "newNotification")
	var delivered newNotificationPayload
	if err := json.Unmarshal(got.Payload, &delivered); err != nil {
		t.Fatalf("decode newNotification payload: %v", err)
	}
	if delivered.SenderID != "mentor-1" {
		t.Fatalf("notification senderId = %q, want mentor-1", delivered.SenderID)
	}
	if delivered.Type != notificationsdomain.TypeMentorshipAccepted {
		t.Fatalf("notification type = %q, want %q", delivered.Type, notificationsdomain.TypeMentorshipAccepted)
	}
}

func TestWebSocketUnknownTypeReturnsError(t *testing.T) {
	srv := newTestServer(t, Collaborators{})

	conn := dialWS(t, srv)
	writeFrame(t, conn, map[string]any{
		"type":       "unknownEvent",
		"request_id": "req-bad-1",
		"payload":    map[string]any{},
	})

	got := expectFrame(t, conn, "error")
	if got.RequestID != "req-bad-1" {
		t.Fatalf("request id = %q, want req-bad-1", got.RequestID)
	}
	if !strings.Contains(string(got.Payload), "INVALID_ARGUMENT") {
		t.Fatalf("error payload = %s, expected INVALID_ARGUMENT code", string(got.Payload))
	}
}

func TestWebSocketAuthRequiredWithoutCookie(t *testing.T) {
	srv := httptest.NewServer(NewHandlerWithAuthorizer(fakeWSAuthorizer{userID: "alice"}, Collaborators{}))
	t.Cleanup(srv.Close)

	if _, err := dialWSWithServerURL(srv.URL, "/ws", ""); err == nil {
		t.Fatal("expected dial failure without token cookie")
	}
}

func TestWebSocketAuthIdentityOverridesAnnouncedUserID(t *testing.T) {
	srv := httptest.NewServer(NewHandlerWithAuthorizer(fakeWSAuthorizer{userID: "alice"}, Collaborators{}))
	t.Cleanup(srv.Close)

	conn, err := dialWSWithServerURL(srv.URL, "/ws", tokenCookieName+"=token-1")
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})

	writeFrame(t, conn, map[string]any{
		"type":    "joinRoom",
		"payload": map[string]any{"userId": "mallory"},
	})
	got := expectFrame(t, conn, "activeUsers")
	users := decodeUsers(t, got.Payload)
	if len(users) != 1 || users[0] != "alice" {
		t.Fatalf("activeUsers = %v, want [alice]", users)
	}
}
