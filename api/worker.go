package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/dmitrymomot/medialib/core/logger"
)

func (s *Server) workerStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]bool{"running": s.worker.IsRunning()})
}

func (s *Server) workerDebug(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.worker.Status())
}

func (s *Server) workerStart(w http.ResponseWriter, r *http.Request) {
	// Start blocks for the lifetime of the claim loop, so it runs detached
	// from the request under the server's worker context.
	go func() {
		err := s.worker.Start(s.workerCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("worker exited", logger.Error(err))
		}
	}()
	s.respondJSON(w, http.StatusOK, map[string]bool{"running": true})
}

func (s *Server) workerStop(w http.ResponseWriter, r *http.Request) {
	if err := s.worker.Stop(); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"running": false})
}

func (s *Server) workerRunOnce(w http.ResponseWriter, r *http.Request) {
	processed, err := s.worker.ProcessOne(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"processed": processed})
}
