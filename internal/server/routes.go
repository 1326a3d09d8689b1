package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Schedules
	mux.HandleFunc("/api/schedules", s.handleSchedulesRoute)  // GET (list), POST (create)
	mux.HandleFunc("/api/schedules/", s.handleScheduleRoutes) // GET/PUT/DELETE /{id}, POST /{id}/trigger

	// API routes - Sources
	mux.HandleFunc("/api/sources", s.handleSourcesRoute)  // GET (list), POST (create)
	mux.HandleFunc("/api/sources/", s.handleSourceRoutes) // GET/PUT/DELETE /{id}

	// API routes - Instagram batch scrapes
	mux.HandleFunc("/api/instagram/scrape-all", s.app.InstagramHandler.ScrapeAllHandler)

	// API routes - Broker jobs
	mux.HandleFunc("/api/jobs/status", s.app.JobsHandler.GetJobStatusHandler)
	mux.HandleFunc("/api/jobs/cancel", s.app.JobsHandler.CancelJobsHandler)

	// API routes - Run history
	mux.HandleFunc("/api/runs", s.app.RunsHandler.ListRunsHandler)
	mux.HandleFunc("/api/runs/", s.app.RunsHandler.GetRunHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleSchedulesRoute routes /api/schedules by method
func (s *Server) handleSchedulesRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.app.SchedulesHandler.ListSchedulesHandler(w, r)
	case "POST":
		s.app.SchedulesHandler.CreateScheduleHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleScheduleRoutes routes /api/schedules/{id} and /api/schedules/{id}/trigger
func (s *Server) handleScheduleRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method == "POST" && strings.HasSuffix(r.URL.Path, "/trigger") {
		s.app.SchedulesHandler.TriggerScheduleHandler(w, r)
		return
	}

	switch r.Method {
	case "GET":
		s.app.SchedulesHandler.GetScheduleHandler(w, r)
	case "PUT":
		s.app.SchedulesHandler.UpdateScheduleHandler(w, r)
	case "DELETE":
		s.app.SchedulesHandler.DeleteScheduleHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSourcesRoute routes /api/sources by method
func (s *Server) handleSourcesRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.app.SourcesHandler.ListSourcesHandler(w, r)
	case "POST":
		s.app.SourcesHandler.CreateSourceHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSourceRoutes routes /api/sources/{id} by method
func (s *Server) handleSourceRoutes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.app.SourcesHandler.GetSourceHandler(w, r)
	case "PUT":
		s.app.SourcesHandler.UpdateSourceHandler(w, r)
	case "DELETE":
		s.app.SourcesHandler.DeleteSourceHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
