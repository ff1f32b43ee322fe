package ptah

import (
	"context"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/oshokin/ptah/internal/config"
	domain "github.com/oshokin/ptah/internal/domain/build"
	"github.com/oshokin/ptah/internal/domain/device"
	"github.com/oshokin/ptah/internal/logger"
)

// Service abstracts the business operations the transport layer depends on.
type Service interface {
	Config() *config.Config
	Prepare(ctx context.Context, id device.ID, profile string) (*domain.Context, error)
	Build(ctx context.Context, id device.ID) (string, error)
	EncodeToken(ctx context.Context, id device.ID, profile string) (string, error)
	VerifyToken(ctx context.Context, profile, token string) (bool, error)
	DecodeToken(token string) (jwt.MapClaims, error)
}

// Server implements the HTTP API.
type Server struct {
	// service provides the business logic.
	service Service
}

// NewServer wires the provided service implementation into HTTP handlers.
func NewServer(service Service) *Server {
	return &Server{
		service: service,
	}
}

// Handler returns the router with every route registered.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(logRequests)

	router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)

	router.HandleFunc("/build/prepare/{mac}", s.prepare).Methods(http.MethodPost)
	router.HandleFunc("/build/{mac}", s.build).Methods(http.MethodGet, http.MethodPost)

	router.HandleFunc("/ptah_profiles/", s.profiles).Methods(http.MethodGet)
	router.HandleFunc("/ptah_profiles/names", s.profileNames).Methods(http.MethodGet)

	router.HandleFunc("/jwt/encode/{mac}", s.encodeToken).Methods(http.MethodPost)
	router.HandleFunc("/jwt/decode", s.decodeToken).Methods(http.MethodPost)
	router.HandleFunc("/jwt/verify", s.verifyToken).Methods(http.MethodPost)

	return router
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter

	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// logRequests tags the request logger with a request ID and logs every answered request.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			started  = time.Now()
			recorder = &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			ctx      = logger.WithFields(r.Context(),
				"http_request_id", uuid.NewString(),
				"method", r.Method,
				"path", r.URL.Path)
		)

		next.ServeHTTP(recorder, r.WithContext(ctx))

		logger.DebugKV(ctx, "Request served", "status", recorder.status, "duration", time.Since(started))
	})
}
