// Package httpapi implements the thin HTTP/JSON request surface spec.md §6
// describes: five endpoints translating JSON requests into store.Store and
// reuseindex calls. Grounded on docker-compose's api/v1.NewServer — a
// gorilla/mux router wired into a small server struct exposing
// http.Handler, with one method per route decoding/encoding JSON by hand.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/release-engineering/odcs/internal/compose"
	"github.com/release-engineering/odcs/internal/odcserrors"
	"github.com/release-engineering/odcs/internal/reuseindex"
	"github.com/release-engineering/odcs/internal/store"
)

// Authenticator resolves the caller identity for a request and reports
// whether that caller may submit the given source type. Kerberos/OIDC
// remain named but unimplemented per spec.md's explicit scoping; Anonymous
// is the only concrete implementation wired by default.
type Authenticator interface {
	Authenticate(r *http.Request) (owner string, err error)
	Authorize(owner string, sourceType compose.SourceType) error
}

// Anonymous treats every caller as owner "anonymous" and authorizes every
// source type — the zero-configuration default.
type Anonymous struct{}

func (Anonymous) Authenticate(*http.Request) (string, error) { return "anonymous", nil }
func (Anonymous) Authorize(string, compose.SourceType) error { return nil }

// Clock abstracts time.Now for deterministic tests, matching the rest of
// the orchestrator's clockwork.Clock usage at the points that matter
// (DELETE's time_to_expire, PATCH's renewal).
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config tunes the server's derived-path rendering.
type Config struct {
	TargetDir    string
	TargetDirURL string
	DefaultTTL   time.Duration
	MaxTTL       time.Duration
}

// Server implements http.Handler for the five /composes endpoints.
type Server struct {
	router *mux.Router
	store  store.Store
	auth   Authenticator
	clock  Clock
	logger *slog.Logger
	cfg    Config
}

// New builds a Server. auth defaults to Anonymous{} and clock to the real
// wall clock when nil.
func New(s store.Store, auth Authenticator, clock Clock, logger *slog.Logger, cfg Config) *Server {
	if auth == nil {
		auth = Anonymous{}
	}
	if clock == nil {
		clock = realClock{}
	}

	srv := &Server{store: s, auth: auth, clock: clock, logger: logger, cfg: cfg}
	r := mux.NewRouter()
	r.HandleFunc("/composes", srv.createCompose).Methods(http.MethodPost)
	r.HandleFunc("/composes", srv.listComposes).Methods(http.MethodGet)
	r.HandleFunc("/composes/{id:[0-9]+}", srv.getCompose).Methods(http.MethodGet)
	r.HandleFunc("/composes/{id:[0-9]+}", srv.patchCompose).Methods(http.MethodPatch)
	r.HandleFunc("/composes/{id:[0-9]+}", srv.deleteCompose).Methods(http.MethodDelete)
	srv.router = r
	return srv
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// createRequest mirrors spec.md §6's POST body shape.
type createRequest struct {
	Source struct {
		Type     compose.SourceType `json:"type"`
		Source   string             `json:"source"`
		Packages string             `json:"packages"`
		Sigkeys  string             `json:"sigkeys"`
	} `json:"source"`
	Flags         []string `json:"flags"`
	Results       []string `json:"results"`
	Arches        string   `json:"arches"`
	SecondsToLive int64    `json:"seconds_to_live"`
}

func (s *Server) createCompose(w http.ResponseWriter, r *http.Request) {
	owner, err := s.auth.Authenticate(r)
	if err != nil {
		writeStatus(w, s.logger, http.StatusUnauthorized, err)
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, odcserrors.Wrap(odcserrors.InvalidInput, err, "decoding request body"))
		return
	}
	if !req.Source.Type.Valid() {
		writeError(w, s.logger, odcserrors.New(odcserrors.InvalidInput, "unknown source type %q", req.Source.Type))
		return
	}
	if err := s.auth.Authorize(owner, req.Source.Type); err != nil {
		writeStatus(w, s.logger, http.StatusForbidden, err)
		return
	}

	ttl := s.cfg.DefaultTTL
	if req.SecondsToLive > 0 {
		ttl = time.Duration(req.SecondsToLive) * time.Second
	}
	if s.cfg.MaxTTL > 0 && ttl > s.cfg.MaxTTL {
		ttl = s.cfg.MaxTTL
	}

	c := &compose.Compose{
		Owner:         owner,
		SourceType:    req.Source.Type,
		Source:        req.Source.Source,
		Packages:      req.Source.Packages,
		Sigkeys:       req.Source.Sigkeys,
		Arches:        req.Arches,
		Flags:         parseFlags(req.Flags),
		Results:       parseResults(req.Results),
		TimeSubmitted: s.clock.Now(),
		TimeToExpire:  s.clock.Now().Add(ttl),
	}

	created, err := s.store.CreateCompose(r.Context(), c)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, toJSON(created, s.cfg))
}

func (s *Server) listComposes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filters{
		Owner:      q.Get("owner"),
		SourceType: compose.SourceType(q.Get("source_type")),
		State:      compose.State(q.Get("state")),
	}
	p := store.Pagination{}
	if v := q.Get("limit"); v != "" {
		p.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		p.Offset, _ = strconv.Atoi(v)
	}
	o := store.Ordering{Column: q.Get("order_by"), Desc: q.Get("order") == "desc"}

	composes, err := s.store.FindComposes(r.Context(), f, p, o)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	out := make([]composeJSON, 0, len(composes))
	for _, c := range composes {
		out = append(out, toJSON(c, s.cfg))
	}
	writeJSON(w, s.logger, http.StatusOK, out)
}

func (s *Server) getCompose(w http.ResponseWriter, r *http.Request) {
	id, err := idFromRequest(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	c, err := s.store.GetCompose(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, toJSON(c, s.cfg))
}

// patchCompose implements spec.md §6's resurrection/renewal rule: a
// removed or failed compose is resubmitted as a fresh wait row; a done
// compose has its expiration extended and propagated via reuseindex.Renew;
// any other state is rejected.
func (s *Server) patchCompose(w http.ResponseWriter, r *http.Request) {
	id, err := idFromRequest(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	owner, err := s.auth.Authenticate(r)
	if err != nil {
		writeStatus(w, s.logger, http.StatusUnauthorized, err)
		return
	}

	c, err := s.store.GetCompose(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	switch c.State {
	case compose.StateRemoved, compose.StateFailed:
		fresh := &compose.Compose{
			Owner:         owner,
			SourceType:    c.SourceType,
			Source:        c.Source,
			Packages:      c.Packages,
			Builds:        c.Builds,
			Sigkeys:       c.Sigkeys,
			Arches:        c.Arches,
			Flags:         c.Flags,
			Results:       c.Results,
			KojiEvent:     c.KojiEvent,
			TimeSubmitted: s.clock.Now(),
			TimeToExpire:  s.clock.Now().Add(s.cfg.DefaultTTL),
		}
		created, err := s.store.CreateCompose(r.Context(), fresh)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		writeJSON(w, s.logger, http.StatusOK, toJSON(created, s.cfg))

	case compose.StateDone:
		var req struct {
			SecondsToLive int64 `json:"seconds_to_live"`
		}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, s.logger, odcserrors.Wrap(odcserrors.InvalidInput, err, "decoding request body"))
				return
			}
		}
		ttl := s.cfg.DefaultTTL
		if req.SecondsToLive > 0 {
			ttl = time.Duration(req.SecondsToLive) * time.Second
		}
		if s.cfg.MaxTTL > 0 && ttl > s.cfg.MaxTTL {
			ttl = s.cfg.MaxTTL
		}

		newExpiry := s.clock.Now().Add(ttl)
		if err := reuseindex.Renew(r.Context(), s.store, c, newExpiry); err != nil {
			writeError(w, s.logger, err)
			return
		}
		refreshed, err := s.store.GetCompose(r.Context(), id)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		writeJSON(w, s.logger, http.StatusOK, toJSON(refreshed, s.cfg))

	default:
		writeError(w, s.logger, odcserrors.New(odcserrors.InvalidState, "compose %d is in state %s, cannot be patched", id, c.State))
	}
}

// deleteCompose implements early deletion (spec.md §4.10): a done or
// failed compose is marked for removal on the Expirer's next sweep and the
// call returns 202 to signal that deletion is asynchronous.
func (s *Server) deleteCompose(w http.ResponseWriter, r *http.Request) {
	id, err := idFromRequest(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	owner, err := s.auth.Authenticate(r)
	if err != nil {
		writeStatus(w, s.logger, http.StatusUnauthorized, err)
		return
	}

	if err := s.store.RequestRemoval(r.Context(), id, owner, s.clock.Now()); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusAccepted, map[string]string{
		"message": "compose scheduled for removal; artifacts are deleted asynchronously",
	})
}

func idFromRequest(r *http.Request) (int64, error) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, odcserrors.New(odcserrors.InvalidInput, "invalid compose id %q", idStr)
	}
	return id, nil
}

func parseFlags(names []string) compose.Flags {
	lookup := map[string]compose.Flags{
		"no_deps":                        compose.FlagNoDeps,
		"no_inheritance":                 compose.FlagNoInheritance,
		"check_deps":                     compose.FlagCheckDeps,
		"include_unpublished_pulp_repos": compose.FlagIncludeUnpublishedPulpRepos,
	}
	var f compose.Flags
	for _, n := range names {
		f |= lookup[n]
	}
	return f
}

func parseResults(names []string) compose.Results {
	lookup := map[string]compose.Results{
		"repository": compose.ResultRepository,
		"iso":        compose.ResultISO,
		"boot.iso":   compose.ResultBootISO,
		"ostree":     compose.ResultOSTree,
	}
	var res compose.Results
	for _, n := range names {
		res |= lookup[n]
	}
	return res
}

type composeJSON struct {
	ID             int64    `json:"id"`
	Owner          string   `json:"owner"`
	Source         string   `json:"source"`
	SourceType     string   `json:"source_type"`
	Packages       string   `json:"packages,omitempty"`
	Arches         string   `json:"arches,omitempty"`
	Sigkeys        string   `json:"sigkeys,omitempty"`
	State          string   `json:"state"`
	StateName      string   `json:"state_name"`
	StateReason    string   `json:"state_reason,omitempty"`
	TimeSubmitted  string   `json:"time_submitted"`
	TimeDone       *string  `json:"time_done,omitempty"`
	TimeRemoved    *string  `json:"time_removed,omitempty"`
	ResultRepo     string   `json:"result_repo,omitempty"`
	ResultRepofile string   `json:"result_repofile,omitempty"`
	Flags          []string `json:"flags"`
	Results        []string `json:"results"`
	KojiEvent      *int64   `json:"koji_event,omitempty"`
	KojiTaskID     *int64   `json:"koji_task_id,omitempty"`
}

func toJSON(c *compose.Compose, cfg Config) composeJSON {
	paths := c.DerivedPaths(cfg.TargetDir, cfg.TargetDirURL)
	out := composeJSON{
		ID:             c.ID,
		Owner:          c.Owner,
		Source:         c.Source,
		SourceType:     string(c.SourceType),
		Packages:       c.Packages,
		Arches:         c.Arches,
		Sigkeys:        c.Sigkeys,
		State:          string(c.State),
		StateName:      string(c.State),
		StateReason:    c.StateReason,
		TimeSubmitted:  c.TimeSubmitted.UTC().Format(time.RFC3339),
		ResultRepo:     paths.ResultRepoURL,
		ResultRepofile: paths.ResultRepofileURL,
		Flags:          c.Flags.Names(),
		Results:        c.Results.Names(),
		KojiEvent:      c.KojiEvent,
		KojiTaskID:     c.KojiTaskID,
	}
	if c.TimeDone != nil {
		v := c.TimeDone.UTC().Format(time.RFC3339)
		out.TimeDone = &v
	}
	if c.TimeRemoved != nil {
		v := c.TimeRemoved.UTC().Format(time.RFC3339)
		out.TimeRemoved = &v
	}
	return out
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encoding response failed", "error", err)
	}
}

// writeError maps an odcserrors.Kind to the wire status table in spec.md
// §6: 400 (invalid input/transition/state), 403 (unauthorized), 404 (not
// found), 500 (everything else). 401 is never reached through this path —
// Authenticate failures go through writeStatus directly, since a single
// odcserrors.Unauthorized Kind can't distinguish "who are you" from "you
// can't do that".
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	var odcsErr *odcserrors.Error
	if errors.As(err, &odcsErr) {
		switch odcsErr.Kind {
		case odcserrors.InvalidInput, odcserrors.InvalidTransition, odcserrors.InvalidState, odcserrors.ValidationFailure:
			status = http.StatusBadRequest
		case odcserrors.Unauthorized:
			status = http.StatusForbidden
		case odcserrors.NotFound:
			status = http.StatusNotFound
		default:
			status = http.StatusInternalServerError
		}
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	}
	writeJSON(w, logger, status, map[string]string{"message": err.Error()})
}

// writeStatus writes err at an explicit status code, bypassing the
// odcserrors.Kind mapping in writeError. Used for the auth-layer 401/403
// split that a single Unauthorized Kind can't express.
func writeStatus(w http.ResponseWriter, logger *slog.Logger, status int, err error) {
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	}
	writeJSON(w, logger, status, map[string]string{"message": err.Error()})
}
