package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/soukly/convo/internal/attach"
	"github.com/soukly/convo/internal/bus"
	"github.com/soukly/convo/internal/compose"
	"github.com/soukly/convo/internal/gateway"
	"github.com/soukly/convo/internal/geo"
	"github.com/soukly/convo/internal/messages"
	"github.com/soukly/convo/internal/presence"
	"github.com/soukly/convo/internal/registry"
	"github.com/soukly/convo/internal/session"
	"github.com/soukly/convo/internal/store"
	"github.com/soukly/convo/internal/typing"
)

// archiveReader loads older history pages into the live message window.
type archiveReader interface {
	LoadPage(st *messages.Store, conversationID string, before int64, limit int) error
}

// Server manages the HTTP control API on the profile's Unix domain socket.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates the control API server bound to the profile's socket.
func NewServer(
	p Params,
	logger *zap.Logger,
	st *messages.Store,
	reg *registry.Registry,
	composer *compose.Composer,
	coord *typing.Coordinator,
	tracker *presence.Tracker,
	pipeline *attach.Pipeline,
	geocoder *geo.Client,
	gw *gateway.Gateway,
	ar archiveReader,
	db *store.DB,
	b *bus.Bus,
) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.Profile)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	// Set socket permissions to 0600.
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", handleStatus(p, gw, reg, b))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", handleListConversations(reg))
			r.Get("/{conversationID}", handleGetConversation(reg, coord, tracker))
			r.Post("/{conversationID}/select", handleSelectConversation(reg, composer, st, ar))
			r.Get("/{conversationID}/messages", handleListMessages(st, ar))
			r.Post("/{conversationID}/typing", handleTyping(coord))
		})

		r.Route("/messages", func(r chi.Router) {
			r.Post("/", handleSendMessage(composer, pipeline, geocoder))
			r.Get("/search", handleSearchMessages(db))
			r.Post("/{messageID}/edit", handleEditMessage(composer))
			r.Post("/{messageID}/delete", handleDeleteMessage(composer))
		})

		r.Get("/presence/{peerID}", handleGetPresence(tracker))
		r.Get("/places", handleSearchPlaces(geocoder))
	})

	return &Server{
		httpServer: &http.Server{Handler: r},
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start begins serving API requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("control API starting", zap.String("socket", s.socketPath))
	err := s.httpServer.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("control API stopping")
	_ = s.httpServer.Shutdown(ctx)
	_ = os.Remove(s.socketPath)
}
