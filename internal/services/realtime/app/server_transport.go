package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// wsSession is the per-connection record: the write half plus the member
// identity the connection announced, if any.
type wsSession struct {
	mu         sync.Mutex
	peer       *wsPeer
	authUserID string
	userID     string
}

func newWSSession(peer *wsPeer, authUserID string) *wsSession {
	return &wsSession{
		peer:       peer,
		authUserID: authUserID,
	}
}

func (s *wsSession) setUserID(userID string) {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
}

func (s *wsSession) currentUserID() string {
	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()
	return userID
}

type wsUserIDContextKey struct{}

// NewHandler creates realtime routes for tests and offline paths.
// WebSocket auth is intentionally disabled in this constructor.
func NewHandler(collaborators Collaborators) http.Handler {
	return newHandler(nil, false, collaborators)
}

// NewHandlerWithAuthorizer creates realtime routes with enforced websocket
// identity checks.
func NewHandlerWithAuthorizer(authorizer wsAuthorizer, collaborators Collaborators) http.Handler {
	return newHandler(authorizer, true, collaborators)
}

func newHandler(authorizer wsAuthorizer, requireAuth bool, collaborators Collaborators) http.Handler {
	h := newHub(time.Now)
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, h, collaborators)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if requireAuth {
			if authorizer == nil {
				http.Error(w, "websocket auth is not configured", http.StatusServiceUnavailable)
				return
			}

			accessToken := accessTokenFromRequest(r)
			if accessToken == "" {
				log.Printf("realtime: websocket unauthorized: missing do_token for host=%q remote=%s path=%q", r.Host, r.RemoteAddr, r.URL.Path)
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}

			userID, err := authorizer.Authenticate(r.Context(), accessToken)
			if err != nil || strings.TrimSpace(userID) == "" {
				if err != nil {
					log.Printf("realtime: websocket unauthorized: auth introspection failed for host=%q remote=%s path=%q err=%v", r.Host, r.RemoteAddr, r.URL.Path, err)
				} else {
					log.Printf("realtime: websocket unauthorized: empty user id after auth for host=%q remote=%s path=%q", r.Host, r.RemoteAddr, r.URL.Path)
				}
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), wsUserIDContextKey{}, strings.TrimSpace(userID))
			r = r.WithContext(ctx)
		}

		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

func accessTokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	cookie, err := r.Cookie(tokenCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func handleWSConn(conn *websocket.Conn, h *hub, collaborators Collaborators) {
	defer func() {
		_ = conn.Close()
	}()

	ctx := context.Background()
	authUserID := ""
	if request := conn.Request(); request != nil {
		ctx = request.Context()
		if resolved, ok := request.Context().Value(wsUserIDContextKey{}).(string); ok {
			authUserID = strings.TrimSpace(resolved)
		}
	}

	decoder := json.NewDecoder(conn)
	session := newWSSession(newWSPeer(json.NewEncoder(conn)), authUserID)
	h.register(session)
	defer func() { emitDisconnectCleanup(h.disconnect(session)) }()

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(session.peer, "", "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeWSError(session.peer, frame.RequestID, "RESOURCE_EXHAUSTED", "rate limit exceeded")
			return
		}

		switch frame.Type {
		case "joinRoom":
			handleJoinRoomFrame(session, h, frame)
		case "startStream":
			handleStartStreamFrame(session, h, frame)
		case "stopStream":
			handleStopStreamFrame(session, h, frame)
		case "joinStream":
			handleJoinStreamFrame(session, h, frame)
		case "leaveStream":
			handleLeaveStreamFrame(session, h, frame)
		case "getActiveStreams":
			handleActiveStreamsFrame(session, h, frame)
		case "getViewerCount":
			handleViewerCountFrame(session, h, frame)
		case "offer", "answer", "ice-candidate":
			handleSignalFrame(session, h, frame)
		case "sendMessage":
			handleSendMessageFrame(ctx, session, h, collaborators, frame)
		case "acceptRequest", "rejectRequest":
			handleConnectionDecisionFrame(ctx, session, h, collaborators, frame)
		case "follow", "unfollow":
			handleFollowFrame(ctx, session, h, collaborators, frame)
		case "mentorship-request", "acceptMentorship", "rejectMentorship":
			handleMentorshipFrame(ctx, session, h, collaborators, frame)
		default:
			_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "unsupported frame type")
		}
	}
}

func broadcast(peers []*wsPeer, frame wsFrame) {
	for _, peer := range peers {
		_ = peer.writeFrame(frame)
	}
}

func writeWSError(peer *wsPeer, requestID string, code string, message string) error {
	return peer.writeFrame(wsFrame{
		Type:      "error",
		RequestID: requestID,
		Payload: mustJSON(wsErrorEnvelope{
			Error: wsError{
				Code:      code,
				Message:   message,
				Retryable: false,
			},
		}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
