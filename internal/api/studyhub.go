package api

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/studyhub/internal/chat"
	"github.com/npezzotti/studyhub/internal/config"
	"github.com/npezzotti/studyhub/internal/database"
	"github.com/npezzotti/studyhub/internal/groups"
	"github.com/npezzotti/studyhub/internal/progress"
	"github.com/npezzotti/studyhub/internal/resources"
	"github.com/npezzotti/studyhub/internal/server"
	"github.com/npezzotti/studyhub/internal/stats"
)

type StudyHubApp struct {
	log            *log.Logger
	db             database.Repository
	srv            *http.Server
	cs             *server.ChatServer
	sio            *server.SocketIOHandler
	stats          stats.StatsProvider
	chat           *chat.Service
	groups         *groups.Service
	resources      *resources.Service
	progress       *progress.Service
	signingKey     []byte
	allowedOrigins []string
	now            func() time.Time
}

func NewStudyHubApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, chatSvc *chat.Service,
	db database.Repository, su stats.StatsProvider, cfg *config.Config) (*StudyHubApp, error) {
	files, err := resources.NewFileStore(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}

	s := &StudyHubApp{
		log:            logger,
		db:             db,
		cs:             cs,
		stats:          su,
		chat:           chatSvc,
		groups:         groups.NewService(logger, db, su),
		resources:      resources.NewService(logger, db, files, su),
		progress:       progress.NewService(db),
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
		now:            database.Now,
	}
	s.sio = server.NewSocketIOHandler(logger, cs, s.authenticateSocket, cfg.AllowedOrigins)

	mux.HandleFunc("GET /api/health", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.register)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/me", s.authMiddleware(s.me))
	mux.HandleFunc("GET /api/chat/messages/{room}", s.authMiddleware(s.getMessages))
	mux.HandleFunc("GET /api/groups", s.authMiddleware(s.listGroups))
	mux.HandleFunc("GET /api/groups/my-groups", s.authMiddleware(s.myGroups))
	mux.HandleFunc("GET /api/groups/{id}", s.authMiddleware(s.getGroup))
	mux.HandleFunc("POST /api/groups/create", s.authMiddleware(s.createGroup))
	mux.HandleFunc("POST /api/groups/join/{id}", s.authMiddleware(s.joinGroup))
	mux.HandleFunc("POST /api/groups/join-by-code", s.authMiddleware(s.joinGroupByCode))
	mux.HandleFunc("POST /api/groups/leave/{id}", s.authMiddleware(s.leaveGroup))
	mux.HandleFunc("DELETE /api/groups/{id}", s.authMiddleware(s.deleteGroup))
	mux.HandleFunc("GET /api/resources", s.authMiddleware(s.listResources))
	mux.HandleFunc("POST /api/resources/upload", s.authMiddleware(s.uploadResource))
	mux.HandleFunc("GET /api/resources/download/{id}", s.authMiddleware(s.downloadResource))
	mux.HandleFunc("DELETE /api/resources/{id}", s.authMiddleware(s.deleteResource))
	mux.HandleFunc("GET /api/progress/summary", s.authMiddleware(s.progressSummary))
	mux.HandleFunc("GET /ws", s.wsAuthMiddleware(s.serveWs))
	mux.Handle("/socket.io/", s.sio)
	mux.Handle("GET "+resources.URLPrefix, http.StripPrefix(resources.URLPrefix, http.FileServer(noListingFS{http.Dir(files.Dir())})))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = handlers.CombinedLoggingHandler(logger.Writer(), h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s, nil
}

// noListingFS serves files only. Directories look missing, so stored
// names cannot be enumerated without a token.
type noListingFS struct {
	fs http.FileSystem
}

func (n noListingFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fs.ErrNotExist
	}

	return f, nil
}

func (s *StudyHubApp) Start() error {
	go func() {
		if err := s.sio.Serve(); err != nil {
			s.log.Printf("socket.io: %v", err)
		}
	}()

	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *StudyHubApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if err := s.sio.Close(); err != nil {
		return fmt.Errorf("socket.io shutdown: %w", err)
	}

	return nil
}
