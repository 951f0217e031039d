package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/anatolykoptev/scrapegate/internal/accountstore"
	"github.com/anatolykoptev/scrapegate/internal/classify"
	"github.com/anatolykoptev/scrapegate/internal/dispatch"
	"github.com/anatolykoptev/scrapegate/internal/dto"
	"github.com/anatolykoptev/scrapegate/internal/queue"
	"github.com/anatolykoptev/scrapegate/internal/upstream"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dto.OK("ok", nil))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dto.OK("ok", s.dispatcher.GetStats()))
}

// handleStatsHistory exposes the in-memory ring buffer SUPPLEMENTED
// FEATURE 7 (SPEC_FULL.md §5.7) adds on top of GetStats: the last 200
// readings, oldest first, with no external persistence.
func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dto.OK("ok", s.dispatcher.GetStatsHistory()))
}

func (s *Server) handleTweets(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	count := dto.TweetsCount.Clamp(r.URL.Query().Get("count"))
	path := fmt.Sprintf("/users/%s/tweets?count=%d", username, count)
	s.fetch(w, r, "tweet", queue.Medium, false, path)
}

func (s *Server) handleTweetsLatest(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	path := fmt.Sprintf("/users/%s/tweets/latest", username)
	s.fetch(w, r, "tweet", queue.Medium, false, path)
}

func (s *Server) handleTweetsReplies(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	count := dto.TweetsCount.Clamp(r.URL.Query().Get("count"))
	path := fmt.Sprintf("/users/%s/replies?count=%d", username, count)
	s.fetch(w, r, "tweet", queue.Medium, false, path)
}

// handleSearch requires an authenticated account: unlike timeline/profile
// lookups, X's search surface isn't reachable with a bare guest token.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	count := dto.SearchCount.Clamp(r.URL.Query().Get("count"))
	mode := dto.ParseSearchMode(r.URL.Query().Get("mode"))
	path := fmt.Sprintf("/search?q=%s&count=%d&mode=%s", q, count, mode)
	s.fetch(w, r, "search", queue.Medium, true, path)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	path := fmt.Sprintf("/users/%s", username)
	s.fetch(w, r, "profile", queue.Medium, false, path)
}

func (s *Server) handleFollowers(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	count := dto.FollowsCount.Clamp(r.URL.Query().Get("count"))
	path := fmt.Sprintf("/users/%s/followers?count=%d", username, count)
	s.fetch(w, r, "profile", queue.Low, false, path)
}

func (s *Server) handleFollowing(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	count := dto.FollowsCount.Clamp(r.URL.Query().Get("count"))
	path := fmt.Sprintf("/users/%s/following?count=%d", username, count)
	s.fetch(w, r, "profile", queue.Low, false, path)
}

func (s *Server) handleTweetByID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	path := fmt.Sprintf("/tweets/%s", id)
	s.fetch(w, r, "tweet", queue.Medium, false, path)
}

// fetch admits a single read-only operation against the upstream at
// cfg.BaseURL+path, under opName's operation-class deadline and the given
// admission priority, and writes the upstream's raw JSON body back as the
// envelope's data. The upstream's actual response schema is opaque to
// this gateway (spec.md §1: "we do not specify the upstream site's
// protocol"), so the body is passed through verbatim rather than
// unmarshaled into a typed struct. requiresAuth selects Execute vs.
// ExecuteOpts's guest-session fallback (SPEC_FULL.md §5.4).
func (s *Server) fetch(w http.ResponseWriter, r *http.Request, opName string, priority queue.Priority, requiresAuth bool, path string) {
	url := s.cfg.BaseURL + path

	op := func(ctx context.Context, client *upstream.Client, acc accountstore.Account) (json.RawMessage, error) {
		data, resp, err := client.Do(http.MethodGet, url, map[string]string{}, nil)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, string(data))
		}
		return json.RawMessage(data), nil
	}

	fut, err := dispatch.ExecuteOpts(s.dispatcher, opName, priority, requiresAuth, op)
	if err != nil {
		writeError(w, err)
		return
	}

	val, err := fut.Wait(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.OK("ok", val))
}

func writeJSON(w http.ResponseWriter, status int, env dto.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// noUsableAccountsMsg mirrors dispatch's distinct "no usable accounts"
// message (spec.md §7) so it can be mapped to its own status here without
// importing internal/dispatch's unexported sentinel.
const noUsableAccountsMsg = "No usable accounts available"

func writeError(w http.ResponseWriter, err error) {
	msg := classify.Truncate(err.Error(), 300)

	switch {
	case errors.Is(err, queue.ErrQueueFull):
		writeJSON(w, http.StatusServiceUnavailable, dto.Fail(msg, "QUEUE_FULL"))
	case err.Error() == noUsableAccountsMsg:
		writeJSON(w, http.StatusServiceUnavailable, dto.Fail(msg, "NO_USABLE_ACCOUNTS"))
	default:
		kind := classify.Classify(err.Error())
		writeJSON(w, classify.ToExternalStatus(kind), dto.Fail(msg, kind.String()))
	}
}
