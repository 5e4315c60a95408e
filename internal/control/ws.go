package control

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/cuemix/internal/mixer"
)

// Websocket command operations.
const (
	OpPlay      = "play"
	OpStop      = "stop"
	OpStopAll   = "stop_all"
	OpSetVolume = "set_volume"
	OpReset     = "reset"
	OpGroups    = "groups"
)

// Command is one message received on the websocket stream.
type Command struct {
	// ID is echoed in the reply so clients can correlate responses.
	ID     string   `json:"id,omitempty"`
	Op     string   `json:"op"`
	Clip   string   `json:"clip,omitempty"`
	Volume *float64 `json:"volume,omitempty"`
	Pitch  *float64 `json:"pitch,omitempty"`
	Group  string   `json:"group,omitempty"`
	Level  *float64 `json:"level,omitempty"`
}

// Reply answers one [Command].
type Reply struct {
	ID         string             `json:"id,omitempty"`
	OK         bool               `json:"ok"`
	Error      string             `json:"error,omitempty"`
	DurationMS int64              `json:"duration_ms,omitempty"`
	Stopped    int                `json:"stopped,omitempty"`
	Groups     []mixer.GroupState `json:"groups,omitempty"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.log.Warn("control: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	s.log.Debug("control: websocket client connected", "remote", r.RemoteAddr)
	for {
		var cmd Command
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				s.log.Debug("control: websocket client disconnected", "remote", r.RemoteAddr)
			default:
				if !errors.Is(err, context.Canceled) {
					s.log.Warn("control: websocket read failed", "remote", r.RemoteAddr, "err", err)
				}
			}
			return
		}
		if err := wsjson.Write(ctx, conn, s.exec(ctx, cmd)); err != nil {
			s.log.Warn("control: websocket write failed", "remote", r.RemoteAddr, "err", err)
			return
		}
	}
}

// exec runs one command against the engine.
func (s *Server) exec(ctx context.Context, cmd Command) Reply {
	rep := Reply{ID: cmd.ID, OK: true}
	var err error
	switch cmd.Op {
	case OpPlay:
		req := PlayRequest{Clip: cmd.Clip, Volume: cmd.Volume, Pitch: cmd.Pitch}
		opts, oerr := req.options()
		if oerr != nil {
			err = oerr
			break
		}
		rep.DurationMS = s.eng.Play(cmd.Clip, opts...).Milliseconds()
	case OpStop:
		if cmd.Clip == "" {
			err = fmt.Errorf("control: clip is required: %w", errBadRequest)
			break
		}
		rep.Stopped = s.stop(cmd.Clip)
	case OpStopAll:
		rep.Stopped = s.stop("")
	case OpSetVolume:
		if cmd.Level == nil {
			err = fmt.Errorf("control: level is required: %w", errBadRequest)
			break
		}
		err = s.setVolume(ctx, cmd.Group, *cmd.Level)
	case OpReset:
		err = s.eng.ResetAllToDefaultVolume(ctx)
		if err == nil {
			rep.Groups = s.eng.Groups()
		}
	case OpGroups:
		rep.Groups = s.eng.Groups()
	default:
		err = fmt.Errorf("control: unknown op %q: %w", cmd.Op, errBadRequest)
	}
	if err != nil {
		rep.OK = false
		rep.Error = err.Error()
	}
	return rep
}
