package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
)

const streamReadLimit = 512 * 1024

// StreamResponse is one frame sent back over /stream. Either Error or the
// prediction fields are set.
type StreamResponse struct {
	*PredictionResponse
	Error string `json:"error,omitempty"`
}

// handleStream upgrades to WebSocket and answers prediction frames until the
// client goes away. Frames use the same shape as POST /predict.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("stream upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(streamReadLimit)

	if s.metrics != nil {
		s.metrics.StreamClients.Inc()
		defer s.metrics.StreamClients.Dec()
	}
	s.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("stream client connected")

	for {
		var req PredictionRequest
		if err := conn.ReadJSON(&req); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				if werr := conn.WriteJSON(StreamResponse{Error: "malformed frame: " + err.Error()}); werr != nil {
					return
				}
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Msg("stream client dropped")
			}
			return
		}

		frame := StreamResponse{}
		resp, _, err := s.predict(&req)
		if err != nil {
			frame.Error = err.Error()
			frame.PredictionResponse = &PredictionResponse{RequestID: req.RequestID}
		} else {
			frame.PredictionResponse = resp
		}

		if err := conn.WriteJSON(frame); err != nil {
			s.log.Debug().Err(err).Msg("stream write failed")
			return
		}
	}
}
