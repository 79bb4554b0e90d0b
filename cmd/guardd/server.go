package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/trackforge/go-guard/guard"
	"github.com/trackforge/go-guard/logger"
	"github.com/trackforge/go-guard/scoring"
	"github.com/trackforge/go-guard/store"
)

const (
	syncCacheTTL        = 10 * time.Minute
	leaderboardCacheTTL = 30 * time.Second
	rankCacheTTL        = time.Minute
)

type server struct {
	log     logger.Logger
	guard   *guard.Guard
	scoring *scoring.Client
	store   *store.Store
}

func newServer(log logger.Logger, g *guard.Guard, sc *scoring.Client, st *store.Store) *server {
	return &server{
		log:     log.WithPrefix("[api]"),
		guard:   g,
		scoring: sc,
		store:   st,
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /members/{handle}", s.handleSync)
	mux.HandleFunc("PUT /members/{handle}", s.handleRename)
	mux.HandleFunc("GET /members/{handle}", s.handleGetMember)
	mux.HandleFunc("DELETE /members/{handle}", s.handleDelete)
	mux.HandleFunc("GET /leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /rank/{handle}", s.handleRank)
	mux.HandleFunc("POST /referrals/{handle}", s.handleCreateReferral)
	mux.HandleFunc("POST /referrals/{handle}/redeem", s.handleRedeemReferral)
	mux.HandleFunc("GET /referrals/{handle}", s.handleReferralStats)
	mux.HandleFunc("GET /admin/cache/stats", s.handleCacheStats)
	mux.HandleFunc("POST /admin/cache/clear", s.handleCacheClear)
	mux.HandleFunc("GET /admin/stats", s.handleStats)
	return s.withRequestLog(mux)
}

func (s *server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r)
		s.log.With(map[string]interface{}{
			"request_id": requestID,
			"remote":     clientAddr(r),
		}).Debug("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

// clientAddr is the per-caller rate limit identifier.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// syncMember runs the expensive scoring fetch behind the guard and persists
// the result. Cached fetches still refresh the stored row.
func (s *server) syncMember(ctx context.Context, w http.ResponseWriter, r *http.Request, handle string) (*scoring.Summary, bool) {
	outcome := s.guard.Do(ctx, guard.Request{
		Operation:  "scoring.fetch",
		Identifier: clientAddr(r),
		Rule:       "sync",
		Args:       []any{handle},
		CacheTTL:   syncCacheTTL,
	}, func(ctx context.Context) (any, error) {
		summary, err := s.scoring.Fetch(ctx, handle)
		if errors.Is(err, scoring.ErrHandleNotFound) {
			return nil, guard.Terminal(err)
		}
		if err != nil {
			return nil, err
		}
		return summary, nil
	})
	if !s.finishOutcome(w, outcome) {
		return nil, false
	}
	summary := outcome.Value.(*scoring.Summary)
	if err := s.store.Upsert(ctx, store.Member{
		Handle: summary.Handle,
		Score:  summary.Score,
		Tier:   summary.Tier,
	}); err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return summary, true
}

func (s *server) handleSync(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	summary, ok := s.syncMember(r.Context(), w, r, handle)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("member %s synced", handle),
		"data":    summary,
	})
}

func (s *server) handleRename(w http.ResponseWriter, r *http.Request) {
	oldHandle := r.PathValue("handle")
	newHandle := r.URL.Query().Get("handle")
	if newHandle == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing handle query parameter"})
		return
	}
	if err := s.store.Rename(r.Context(), oldHandle, newHandle); err != nil {
		s.writeError(w, err)
		return
	}
	summary, ok := s.syncMember(r.Context(), w, r, newHandle)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("member %s renamed to %s", oldHandle, newHandle),
		"data":    summary,
	})
}

func (s *server) handleGetMember(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	outcome := s.guard.Do(r.Context(), guard.Request{
		Operation:  "store.get",
		Identifier: clientAddr(r),
		Rule:       "lookup",
		Args:       []any{handle},
		CacheTTL:   -1, // row reads are cheap, always hit the store
		MinDelay:   -1,
	}, func(ctx context.Context) (any, error) {
		member, err := s.store.Get(ctx, handle)
		if errors.Is(err, store.ErrNotFound) {
			return nil, guard.Terminal(err)
		}
		return member, err
	})
	if !s.finishOutcome(w, outcome) {
		return
	}
	s.writeJSON(w, http.StatusOK, outcome.Value)
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	if err := s.store.Delete(r.Context(), handle); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("member %s deleted", handle),
	})
}

func (s *server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	outcome := s.guard.Do(r.Context(), guard.Request{
		Operation:  "store.leaderboard",
		Identifier: clientAddr(r),
		Rule:       "leaderboard",
		CacheTTL:   leaderboardCacheTTL,
		MinDelay:   -1,
	}, func(ctx context.Context) (any, error) {
		return s.store.Leaderboard(ctx, 10)
	})
	if !s.finishOutcome(w, outcome) {
		return
	}
	s.writeJSON(w, http.StatusOK, outcome.Value)
}

func (s *server) handleRank(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	outcome := s.guard.Do(r.Context(), guard.Request{
		Operation:  "store.rank",
		Identifier: clientAddr(r),
		Rule:       "lookup",
		Args:       []any{handle},
		CacheTTL:   rankCacheTTL,
		MinDelay:   -1,
	}, func(ctx context.Context) (any, error) {
		ranked, err := s.store.Rank(ctx, handle)
		if errors.Is(err, store.ErrNotFound) {
			return nil, guard.Terminal(err)
		}
		return ranked, err
	})
	if !s.finishOutcome(w, outcome) {
		return
	}
	s.writeJSON(w, http.StatusOK, outcome.Value)
}

func (s *server) handleCreateReferral(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	if _, err := s.store.Get(r.Context(), handle); err != nil {
		s.writeError(w, err)
		return
	}
	ref, err := s.store.ReferralCode(r.Context(), handle)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ref)
}

func (s *server) handleRedeemReferral(w http.ResponseWriter, r *http.Request) {
	invitee := r.PathValue("handle")
	code := r.URL.Query().Get("code")
	if code == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing code query parameter"})
		return
	}
	// only tracked members may redeem
	if _, err := s.store.Get(r.Context(), invitee); err != nil {
		s.writeError(w, err)
		return
	}
	use, err := s.store.Redeem(r.Context(), invitee, code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, use)
}

func (s *server) handleReferralStats(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	outcome := s.guard.Do(r.Context(), guard.Request{
		Operation:  "store.referral",
		Identifier: clientAddr(r),
		Rule:       "lookup",
		Args:       []any{handle},
		CacheTTL:   -1, // stats mutate on every redemption
		MinDelay:   -1,
	}, func(ctx context.Context) (any, error) {
		return s.store.ReferralStats(ctx, handle)
	})
	if !s.finishOutcome(w, outcome) {
		return
	}
	s.writeJSON(w, http.StatusOK, outcome.Value)
}

func (s *server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.guard.CacheStats())
}

func (s *server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.guard.ClearCache()
	s.writeJSON(w, http.StatusOK, map[string]any{"message": "cache cleared"})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.guard.Stats())
}

// finishOutcome translates denials and failures into responses. It returns
// true when the outcome carries a value for the handler to render.
func (s *server) finishOutcome(w http.ResponseWriter, outcome guard.Outcome) bool {
	switch outcome.Kind {
	case guard.KindResult:
		return true
	case guard.KindDenied:
		s.writeDenied(w, outcome)
		return false
	default:
		s.writeError(w, outcome.Err)
		return false
	}
}

func (s *server) writeDenied(w http.ResponseWriter, outcome guard.Outcome) {
	// sub-second waits round up so the header never tells a denied caller
	// to retry immediately
	retry := int(math.Ceil(outcome.RetryAfterSeconds))
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	status := http.StatusServiceUnavailable
	message := "Service temporarily unavailable. Please try again later."
	switch outcome.Deny {
	case guard.DenyThrottled:
		message = "Request throttled. Please wait before retrying."
	case guard.DenyRateLimitedGlobal:
		message = "Service temporarily overloaded. Please try again later."
	case guard.DenyRateLimitedClient:
		status = http.StatusTooManyRequests
		message = "Rate limit exceeded. Please slow down."
	}
	s.writeJSON(w, status, map[string]any{
		"error":       message,
		"kind":        outcome.Deny.String(),
		"retry_after": outcome.RetryAfterSeconds,
	})
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, scoring.ErrHandleNotFound),
		errors.Is(err, store.ErrInvalidCode):
		s.writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.Is(err, store.ErrSelfReferral):
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	case errors.Is(err, store.ErrAlreadyReferred):
		s.writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	case errors.Is(err, scoring.ErrUnreachable):
		s.writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
	default:
		s.log.Error("request failed: %v", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func (s *server) writeJSON(w http.ResponseWriter, status int, val any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(val); err != nil {
		s.log.Error("writing response: %v", err)
	}
}
