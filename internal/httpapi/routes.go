package httpapi

import "net/http"

const apiPrefix = "/api/v3"

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+apiPrefix+"/health", s.handleHealth)
	mux.HandleFunc("GET "+apiPrefix+"/stats", s.handleStats)
	mux.HandleFunc("GET "+apiPrefix+"/stats/history", s.handleStatsHistory)

	mux.HandleFunc("GET "+apiPrefix+"/tweets/{username}", s.handleTweets)
	mux.HandleFunc("GET "+apiPrefix+"/tweets/{username}/latest", s.handleTweetsLatest)
	mux.HandleFunc("GET "+apiPrefix+"/tweets/{username}/replies", s.handleTweetsReplies)
	mux.HandleFunc("GET "+apiPrefix+"/search", s.handleSearch)
	mux.HandleFunc("GET "+apiPrefix+"/profile/{username}", s.handleProfile)
	mux.HandleFunc("GET "+apiPrefix+"/followers/{username}", s.handleFollowers)
	mux.HandleFunc("GET "+apiPrefix+"/following/{username}", s.handleFollowing)
	mux.HandleFunc("GET "+apiPrefix+"/tweet/{id}", s.handleTweetByID)

	if s.cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.cfg.MetricsHandler)
	}
}
