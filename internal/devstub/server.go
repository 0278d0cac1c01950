package devstub

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vhorizon/authstate/internal/logger"
	"github.com/vhorizon/authstate/jwt"
	"github.com/vhorizon/authstate/session"
)

// ErrUserExists is returned by AddUser for an email that is already registered.
var ErrUserExists = errors.New("devstub: user already registered")

// Config configures a Server.
type Config struct {
	// APIKey must be presented in the apikey header of every request.
	APIKey string
	// JWTSecret signs access tokens (HS256).
	JWTSecret []byte
	// AccessTTL is the lifetime of issued access tokens. Defaults to one hour.
	AccessTTL time.Duration
}

type account struct {
	user     session.User
	password string // argon2id PHC string
}

// Server is an in-memory auth backend.
type Server struct {
	apiKey string
	ttl    time.Duration
	tokens *jwt.Manager
	log    *zap.Logger
	router chi.Router

	mu      sync.Mutex
	byEmail map[string]*account
	byID    map[string]*account
	refresh map[string]string          // refresh token -> user id
	roles   map[string]map[string]bool // user id -> role set
}

// New returns a Server. A nil logger disables logging.
func New(cfg Config, log *zap.Logger) (*Server, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("devstub: APIKey is required")
	}
	if len(cfg.JWTSecret) < 16 {
		return nil, errors.New("devstub: JWTSecret must be at least 16 bytes")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}
	mgr, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.MethodHS256,
		Secret:        cfg.JWTSecret,
		Audience:      "authenticated",
		AccessTTL:     cfg.AccessTTL,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		apiKey:  cfg.APIKey,
		ttl:     cfg.AccessTTL,
		tokens:  mgr,
		log:     logger.OrNop(log).With(logger.Component("devstub")),
		router:  chi.NewRouter(),
		byEmail: make(map[string]*account),
		byID:    make(map[string]*account),
		refresh: make(map[string]string),
		roles:   make(map[string]map[string]bool),
	}
	s.routes()
	return s, nil
}

// Handler returns the stub's HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(s.requireAPIKey)

	r.Route("/auth/v1", func(r chi.Router) {
		r.Post("/token", s.handleToken)
		r.Post("/signup", s.handleSignUp)
		r.Get("/user", s.handleUser)
		r.Post("/logout", s.handleLogout)
	})
	r.Get("/rest/v1/user_roles", s.handleUserRoles)
}

// AddUser registers a confirmed user and returns it.
func (s *Server) AddUser(email, password string, metadata map[string]any) (*session.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, errors.New("devstub: email and password are required")
	}
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return nil, ErrUserExists
	}
	now := time.Now().UTC()
	acc := &account{
		user: session.User{
			ID:               uuid.NewString(),
			Aud:              "authenticated",
			Role:             "authenticated",
			Email:            email,
			EmailConfirmedAt: &now,
			AppMetadata:      map[string]any{"provider": "email"},
			UserMetadata:     metadata,
			CreatedAt:        &now,
			UpdatedAt:        &now,
		},
		password: hash,
	}
	s.byEmail[email] = acc
	s.byID[acc.user.ID] = acc
	u := acc.user
	return &u, nil
}

// Grant assigns role to userID in the user_roles table.
func (s *Server) Grant(userID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.roles[userID]
	if !ok {
		set = make(map[string]bool)
		s.roles[userID] = set
	}
	set[role] = true
}

// Revoke removes role from userID.
func (s *Server) Revoke(userID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roles[userID], role)
}

// ExpireRefreshTokens invalidates every outstanding refresh token.
func (s *Server) ExpireRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.refresh)
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "no_api_key", "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

/* ==== AUTH ==== */

type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *session.User `json:"user"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "could not parse request body")
		return
	}

	var acc *account
	switch grant := r.URL.Query().Get("grant_type"); grant {
	case "password":
		acc = s.checkPassword(body.Email, body.Password)
		if acc == nil {
			writeError(w, http.StatusBadRequest, "invalid_credentials", "Invalid login credentials")
			return
		}
	case "refresh_token":
		acc = s.consumeRefresh(body.RefreshToken)
		if acc == nil {
			writeError(w, http.StatusBadRequest, "refresh_token_not_found", "Invalid Refresh Token")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant_type "+grant)
		return
	}

	resp, err := s.issue(acc)
	if err != nil {
		s.log.Error("issue token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unexpected_failure", "could not issue token")
		return
	}
	s.log.Debug("token issued", logger.UserID(acc.user.ID))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string         `json:"email"`
		Password string         `json:"password"`
		Data     map[string]any `json:"data"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "could not parse request body")
		return
	}
	if len(body.Password) < 6 {
		writeError(w, http.StatusUnprocessableEntity, "weak_password", "Password should be at least 6 characters")
		return
	}
	u, err := s.AddUser(body.Email, body.Password, body.Data)
	if errors.Is(err, ErrUserExists) {
		writeError(w, http.StatusUnprocessableEntity, "user_already_exists", "User already registered")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	s.mu.Lock()
	acc := s.byID[u.ID]
	s.mu.Unlock()
	resp, err := s.issue(acc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "unexpected_failure", "could not issue token")
		return
	}
	s.log.Info("user signed up", logger.UserID(u.ID))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, acc.user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	for tok, id := range s.refresh {
		if id == acc.user.ID {
			delete(s.refresh, tok)
		}
	}
	s.mu.Unlock()
	s.log.Info("user signed out", logger.UserID(acc.user.ID))
	w.WriteHeader(http.StatusNoContent)
}

// authenticate verifies the bearer access token and resolves its user, writing
// a 401 when either fails.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*account, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		writeError(w, http.StatusUnauthorized, "no_authorization", "missing bearer token")
		return nil, false
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT: "+err.Error())
		return nil, false
	}
	s.mu.Lock()
	acc := s.byID[claims.Subject]
	s.mu.Unlock()
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "user_not_found", "User from sub claim in JWT does not exist")
		return nil, false
	}
	return acc, true
}

func (s *Server) checkPassword(email, password string) *account {
	s.mu.Lock()
	acc := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	s.mu.Unlock()
	if acc == nil {
		return nil
	}
	ok, err := verifyPassword(password, acc.password)
	if err != nil || !ok {
		return nil
	}
	return acc
}

// consumeRefresh redeems a refresh token once.
func (s *Server) consumeRefresh(token string) *account {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.refresh[token]
	if !ok {
		return nil
	}
	delete(s.refresh, token)
	return s.byID[id]
}

func (s *Server) issue(acc *account) (*tokenResponse, error) {
	access, err := s.tokens.Issue(acc.user.ID, jwt.Claims{
		Email:        acc.user.Email,
		Role:         acc.user.Role,
		SessionID:    uuid.NewString(),
		AAL:          "aal1",
		AppMetadata:  acc.user.AppMetadata,
		UserMetadata: acc.user.UserMetadata,
	})
	if err != nil {
		return nil, err
	}
	refresh := uuid.NewString()

	s.mu.Lock()
	s.refresh[refresh] = acc.user.ID
	s.mu.Unlock()

	u := acc.user
	return &tokenResponse{
		AccessToken:  access,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.ttl / time.Second),
		ExpiresAt:    time.Now().Add(s.ttl).Unix(),
		RefreshToken: refresh,
		User:         &u,
	}, nil
}

/* ==== REST ==== */

// handleUserRoles answers the single query shape the roles store sends:
// user_id=eq.X&role=eq.Y.
func (s *Server) handleUserRoles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, okUser := strings.CutPrefix(q.Get("user_id"), "eq.")
	role, okRole := strings.CutPrefix(q.Get("role"), "eq.")
	if !okUser || !okRole {
		writeError(w, http.StatusBadRequest, "PGRST100", "user_id and role filters are required")
		return
	}

	type row struct {
		Role string `json:"role"`
	}
	rows := []row{}
	s.mu.Lock()
	if s.roles[userID][role] {
		rows = append(rows, row{Role: role})
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, rows)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"code": status, "error_code": code, "msg": msg})
}
