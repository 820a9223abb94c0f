package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/plpmc/statmirror/internal/compress"
	"github.com/plpmc/statmirror/internal/query"
	"github.com/plpmc/statmirror/internal/stats"
)

const (
	contentTypeJSON = "application/json; charset=UTF-8"
	contentTypeText = "text/plain; charset=UTF-8"

	// Bodies below this size are sent uncompressed.
	minCompressSize = 512
)

func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, s.query.Players(limitParam(r)))
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, s.query.Online(limitParam(r)))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, s.query.Summary())
}

func (s *Server) handlePlayerByID(w http.ResponseWriter, r *http.Request) {
	raw, ok := s.segment(w, r, "/players/", "<uuid>")
	if !ok {
		return
	}

	doc, err := s.query.Player(raw)
	if err != nil {
		writeText(w, http.StatusBadRequest, "Invalid UUID")

		return
	}

	s.writeJSON(w, r, doc)
}

func (s *Server) handlePlayerByName(w http.ResponseWriter, r *http.Request) {
	name, ok := s.segment(w, r, "/player/", "<name>")
	if !ok {
		return
	}

	doc, err := s.query.PlayerByName(name)

	switch {
	case errors.Is(err, query.ErrInvalidName):
		writeText(w, http.StatusBadRequest, "Invalid player name")
	case errors.Is(err, query.ErrNotFound):
		writeText(w, http.StatusNotFound, "Player not found")
	default:
		s.writeJSON(w, r, doc)
	}
}

func (s *Server) handleTopJumps(w http.ResponseWriter, r *http.Request) {
	s.top(w, r, stats.KeyJump)
}

func (s *Server) handleTop(w http.ResponseWriter, r *http.Request) {
	key, ok := s.segment(w, r, "/top/", "<stat_key>")
	if !ok {
		return
	}

	s.top(w, r, key)
}

func (s *Server) top(w http.ResponseWriter, r *http.Request, key string) {
	ranked, err := s.query.Top(key, limitParam(r))
	if err != nil {
		writeText(w, http.StatusBadRequest, "Invalid stat key")

		return
	}

	s.writeJSON(w, r, ranked)
}

// segment returns everything following base+prefix. A missing segment is
// answered with a usage line; extra path elements are left in place for the
// caller's validation to reject.
func (s *Server) segment(w http.ResponseWriter, r *http.Request, prefix, placeholder string) (string, bool) {
	rest := strings.TrimPrefix(r.URL.Path, s.cfg.BasePath+prefix)

	if rest == "" {
		writeText(w, http.StatusBadRequest, "Usage: "+s.cfg.BasePath+prefix+placeholder)

		return "", false
	}

	return rest, true
}

// limitParam returns the limit query parameter, or 0 when it is absent or
// not an integer.
func limitParam(r *http.Request) int {
	for key, values := range r.URL.Query() {
		if !strings.EqualFold(key, "limit") || len(values) == 0 {
			continue
		}

		n, err := strconv.Atoi(strings.TrimSpace(values[0]))
		if err != nil {
			return 0
		}

		return n
	}

	return 0
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.log.WithError(err).Error("Encoding response failed")
		writeText(w, http.StatusInternalServerError, "Internal Server Error")

		return
	}

	h := w.Header()
	h.Set("Content-Type", contentTypeJSON)

	if s.cfg.Compression {
		h.Add("Vary", "Accept-Encoding")

		if len(body) >= minCompressSize {
			alg := compress.Negotiate(r.Header.Get("Accept-Encoding"), compress.ResponseAlgorithms)
			if encoded, ok := s.encode(alg, body); ok {
				h.Set("Content-Encoding", compress.ContentEncoding(alg))
				body = encoded
			}
		}
	}

	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write(body)
}

func (s *Server) encode(alg string, body []byte) ([]byte, bool) {
	if alg == compress.None {
		return nil, false
	}

	var buf bytes.Buffer

	zw, err := compress.NewWriter(alg, &buf)
	if err == nil {
		if _, err = zw.Write(body); err == nil {
			err = zw.Close()
		}
	}

	if err != nil {
		s.log.WithError(err).WithField("encoding", alg).Warn("Compressing response failed")

		return nil, false
	}

	return buf.Bytes(), true
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", contentTypeText)
	w.Header().Set("Content-Length", strconv.Itoa(len(msg)))
	w.WriteHeader(status)

	_, _ = w.Write([]byte(msg))
}
