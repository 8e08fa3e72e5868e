// Package server hosts the realtime gateway: the WebSocket surface that
// coordinates presence, live streams, call signaling, and chat/notification
// delivery for connected members.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/devorbit/devorbit/internal/platform/timeouts"
	messagesdomain "github.com/devorbit/devorbit/internal/services/messages/domain"
	notificationsdomain "github.com/devorbit/devorbit/internal/services/notifications/domain"
)

const (
	tokenCookieName = "do_token"

	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3

	maxMessageBodyRunes = 2000
)

// Config defines the inputs for the realtime transport boundary.
//
// The settings intentionally keep the gateway transport-only: durable state
// lives behind the collaborator interfaces, identity behind token
// introspection.
type Config struct {
	HTTPAddr            string
	AuthBaseURL         string
	OAuthResourceSecret string
	ReadHeaderTimeout   time.Duration
	ShutdownTimeout     time.Duration
}

// UserDirectory resolves member identities and mutates the connection graph.
type UserDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
	AcceptConnectionRequest(ctx context.Context, acceptorUserID string, requesterUserID string) error
	RejectConnectionRequest(ctx context.Context, ownerUserID string, requesterUserID string) error
}

// MessageWriter persists direct chat messages before delivery.
type MessageWriter interface {
	Send(ctx context.Context, senderUserID string, receiverUserID string, body string) (messagesdomain.Message, error)
}

// NotificationWriter persists social notifications before delivery.
type NotificationWriter interface {
	Create(ctx context.Context, input notificationsdomain.CreateInput) (notificationsdomain.Notification, error)
}

// Collaborators bundles the persistence services the gateway dispatches to.
// Nil fields disable the corresponding events (logged and dropped).
type Collaborators struct {
	Users         UserDirectory
	Messages      MessageWriter
	Notifications NotificationWriter
}

// Server hosts the realtime HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
}

// NewServer builds a configured realtime server.
func NewServer(config Config, collaborators Collaborators) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	authorizer := newIntrospectionAuthorizer(config)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(authorizer, authorizer != nil, collaborators),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
	}, nil
}

// Run creates and serves a realtime server until the context ends.
//
// Operators can treat this as the lifecycle boundary for the realtime
// surface.
func Run(ctx context.Context, config Config, collaborators Collaborators) error {
	server, err := NewServer(config, collaborators)
	if err != nil {
		return fmt.Errorf("init realtime server: %w", err)
	}

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve realtime: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("realtime server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("realtime server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
