package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Out-of-process workers report notification events here
	mux.HandleFunc("/internal/emit", s.app.NotificationHandler.EmitHandler)

	// API routes - Notifications
	mux.HandleFunc("/api/notifications", s.app.NotificationHandler.ListHandler)
	mux.HandleFunc("/api/notifications/", s.app.NotificationHandler.GetHandler) // GET /{id}

	// API routes - OLT operations
	mux.HandleFunc("/api/olts", s.app.OltHandler.ListOltsHandler)
	mux.HandleFunc("/api/olts/", s.app.OltHandler.OltRoutesHandler) // onus, sync, commands, snapshot

	// API routes - Queues
	mux.HandleFunc("/api/queues/", s.app.QueueHandler.QueueRoutesHandler) // stats, {name}/failed
	mux.HandleFunc("/api/jobs/", s.app.QueueHandler.RetryHandler)         // POST /{id}/retry
	mux.HandleFunc("/api/sessions", s.app.QueueHandler.SessionsHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}
