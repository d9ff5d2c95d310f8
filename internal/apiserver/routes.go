package apiserver

// registerRoutes wires every API endpoint to its handler.
func (s *Server) registerRoutes() {
	s.router.Use(s.logRequests)

	// Health
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")

	// Runs
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/runs", s.handleListRuns).Methods("GET")
	api.HandleFunc("/runs", s.handleCreateRun).Methods("POST")
	api.HandleFunc("/runs/{name}", s.handleGetRun).Methods("GET")
	api.HandleFunc("/runs/{name}", s.handleDeleteRun).Methods("DELETE")
}
