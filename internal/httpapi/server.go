// Package httpapi exposes the facade's capability surface over HTTP using a
// mux + writeJSON/writeError handler shape, with bearer auth checked via a
// constant-time comparison.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/2keychains/2kc/common/trace"
	"github.com/2keychains/2kc/internal/audit"
	"github.com/2keychains/2kc/internal/brokererr"
	"github.com/2keychains/2kc/internal/facade"
	"github.com/2keychains/2kc/internal/observability"
)

// Server is the HTTP front door to a Standalone facade.
type Server struct {
	addr   string
	token  string
	fc     *facade.Standalone
	trail  audit.Sink
	logger *slog.Logger
	server *http.Server
}

// New wires a Server. token must be non-empty; callers check this at
// startup since a missing token is a hard configuration failure.
func New(addr, token string, fc *facade.Standalone, trail audit.Sink, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{addr: addr, token: token, fc: fc, trail: trail, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.withTrace(s.withAuthExempt(s.handleHealth)))
	mux.HandleFunc("/api/secrets", s.withTrace(s.withAuth(s.handleSecretsCollection)))
	mux.HandleFunc("/api/secrets/resolve/", s.withTrace(s.withAuth(s.handleSecretsResolve)))
	mux.HandleFunc("/api/secrets/", s.withTrace(s.withAuth(s.handleSecretsItem)))
	mux.HandleFunc("/api/requests", s.withTrace(s.withAuth(s.handleRequests)))
	mux.HandleFunc("/api/grants/", s.withTrace(s.withAuth(s.handleGrants)))
	mux.HandleFunc("/api/inject", s.withTrace(s.withAuth(s.handleInject)))
	mux.HandleFunc("/api/audit/", s.withTrace(s.withAuth(s.handleAudit)))
	mux.HandleFunc("/", s.withTrace(s.withAuthExempt(s.handleNotFound)))

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start begins listening and serving in the background, returning once the
// listener is bound.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return brokererr.Wrap(brokererr.ServerError, "listening on "+s.addr, err)
	}
	s.logger.Info("http server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.checkAuth(r) {
			writeError(w, http.StatusUnauthorized, "Invalid or missing auth token")
			return
		}
		next(w, r)
	}
}

func (s *Server) withAuthExempt(next http.HandlerFunc) http.HandlerFunc {
	return next
}

// withTrace stamps every request with a correlation id and logs its
// start, the id flowing into the request context so downstream
// writeDomainError calls can attach it to the logger.
func (s *Server) withTrace(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := trace.GenerateID()
		ctx := trace.WithTraceID(r.Context(), id)
		r = r.WithContext(ctx)
		observability.WithTrace(ctx, s.logger).Info("request", "method", r.Method, "path", r.URL.Path)
		next(w, r)
	}
}

// checkAuth constant-time-compares the bearer token, length-checked first
// without branching on content before the length check.
func (s *Server) checkAuth(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	provided := header[len(prefix):]
	if len(provided) != len(s.token) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(s.token)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h, err := s.fc.Health(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleSecretsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		listing, err := s.fc.ListSecrets(r.Context())
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, listing)
	case http.MethodPost:
		var body struct {
			Ref   string   `json:"ref"`
			Value string   `json:"value"`
			Tags  []string `json:"tags"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		uuid, err := s.fc.AddSecret(r.Context(), body.Ref, body.Value, body.Tags)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"uuid": uuid})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSecretsItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/secrets/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		listing, err := s.fc.GetSecretMetadata(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, listing)
	case http.MethodDelete:
		if err := s.fc.RemoveSecret(r.Context(), id); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSecretsResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	refOrUUID := strings.TrimPrefix(r.URL.Path, "/api/secrets/resolve/")
	if refOrUUID == "" {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	listing, err := s.fc.ResolveSecret(r.Context(), refOrUUID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		SecretUUIDs []string `json:"secretUuids"`
		Reason      string   `json:"reason"`
		TaskRef     string   `json:"taskRef"`
		Duration    int      `json:"duration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req, err := s.fc.CreateRequest(r.Context(), body.SecretUUIDs, body.Reason, body.TaskRef, body.Duration)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleGrants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	requestID := strings.TrimPrefix(r.URL.Path, "/api/grants/")
	if requestID == "" {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	approved, err := s.fc.ValidateGrant(r.Context(), requestID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, approved)
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		RequestID  string   `json:"requestId"`
		EnvVarName string   `json:"envVarName"`
		Command    []string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.fc.Inject(r.Context(), facade.InjectRequest{
		RequestID:  body.RequestID,
		EnvVarName: body.EnvVarName,
		Command:    body.Command,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	requestID := strings.TrimPrefix(r.URL.Path, "/api/audit/")
	if requestID == "" {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	events, err := s.trail.ListByRequest(r.Context(), requestID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Not Found")
}

// writeDomainError maps a *brokererr.Error to an HTTP status, eliding the
// internal message on 5xx per the error-envelope contract.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "internal error"
	switch brokererr.KindOf(err) {
	case brokererr.InvalidInput, brokererr.DuplicateRef, brokererr.EmptyCommand, brokererr.PlaceholderOutOfScope:
		status = http.StatusBadRequest
		message = err.Error()
	case brokererr.NotFound, brokererr.GrantNotFound:
		status = http.StatusNotFound
		message = err.Error()
	case brokererr.NotApproved, brokererr.NotValid, brokererr.GrantNotValid, brokererr.AlreadyRevoked, brokererr.AlreadyUsed:
		status = http.StatusConflict
		message = err.Error()
	case brokererr.AuthFailure:
		status = http.StatusUnauthorized
		message = err.Error()
	default:
		observability.WithTrace(r.Context(), s.logger).Error("request failed", "err", observability.RedactValues(err.Error(), s.token))
	}
	writeError(w, status, message)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg, "statusCode": status})
}
