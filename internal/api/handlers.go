package api

import (
	"bytes"
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/loksewa/noticemirror/internal/notice"
)

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	notices, err := s.reader.List(r.Context())
	if err != nil {
		s.fail(w, r, "list notices for page failed", err)
		return
	}
	var buf bytes.Buffer
	if err := s.renderer.RenderIndex(&buf, notices); err != nil {
		s.fail(w, r, "render notice page failed", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Warn("write notice page failed", zap.Error(err))
	}
}

// listNotices serves the reader output as JSON. The proxy variant returns the
// upstream payload unchanged, without ids.
func (s *Server) listNotices(w http.ResponseWriter, r *http.Request) {
	notices, err := s.reader.List(r.Context())
	if err != nil {
		s.fail(w, r, "list notices failed", err)
		return
	}
	if notices == nil {
		notices = []notice.Notice{}
	}
	writeJSON(w, http.StatusOK, notices)
}

func (s *Server) updateData(w http.ResponseWriter, r *http.Request) {
	res, err := s.refresher.Refresh(r.Context())
	if err != nil {
		s.fail(w, r, "refresh failed", err)
		return
	}
	s.logger.Info("refresh triggered over http",
		zap.String("request_id", RequestID(r.Context())),
		zap.Int("fetched", res.Fetched),
		zap.Int64("removed", res.Removed),
	)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("Done")); err != nil {
		s.logger.Warn("write refresh response failed", zap.Error(err))
	}
}

func (s *Server) docs(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.renderer.RenderDocs(&buf); err != nil {
		s.fail(w, r, "render docs failed", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Warn("write docs failed", zap.Error(err))
	}
}

func (s *Server) openapi(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(s.renderer.OpenAPI()); err != nil {
		s.logger.Warn("write openapi document failed", zap.Error(err))
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz pings the store in the store variant; the proxy variant has nothing to check.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.logger.Error(msg,
		zap.Error(err),
		zap.String("path", r.URL.Path),
		zap.String("request_id", RequestID(r.Context())),
	)
	writeFailure(w, err)
}
