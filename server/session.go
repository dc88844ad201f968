package server

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type instance struct {
	id          string
	conn        *websocket.Conn
	lastActive  atomic.Int64
	closeOnce   sync.Once
	cancelTimer chan struct{}
	cancelOnce  sync.Once
}

func (inst *instance) touch() {
	inst.lastActive.Store(time.Now().UnixNano())
}

func (inst *instance) idleFor() time.Duration {
	return time.Since(time.Unix(0, inst.lastActive.Load()))
}

// streamPose upgrades to a websocket. Every binary frame (raw image bytes) or
// text frame (base64, optionally a data: URL) gets one JSON reply.
func (s *Server) streamPose(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 升级失败，不要再写 JSON
		return
	}
	conn.SetReadLimit(s.maxUpload)

	inst := &instance{
		id:          uuid.NewString(),
		conn:        conn,
		cancelTimer: make(chan struct{}),
	}
	inst.touch()
	s.sessionMu.Lock()
	s.sessions[inst.id] = inst
	s.sessionMu.Unlock()
	s.log.Info("websocket session opened", zap.String("session", inst.id))

	s.startIdleMonitor(inst)
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			// 客户端断开或读取错误，释放实例
			s.releaseInstance(inst.id, "")
			s.log.Info("Connection closed", zap.String("session", inst.id), zap.Error(err))
			return
		}
		inst.touch()

		var data []byte
		switch mt {
		case websocket.BinaryMessage:
			data = msg
		case websocket.TextMessage:
			data, err = decodeBase64Image(string(msg))
			if err != nil {
				s.writeFrame(inst, gin.H{"error": "invalid image: " + err.Error()})
				continue
			}
		default:
			s.writeFrame(inst, gin.H{"error": "unsupported message type"})
			continue
		}

		res, err := s.svc.Detect(c.Request.Context(), data)
		if err != nil {
			s.writeFrame(inst, gin.H{"error": err.Error()})
			continue
		}
		s.writeFrame(inst, res.Document())
	}
}

func (s *Server) writeFrame(inst *instance, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.log.Error("failed to encode frame", zap.Error(err))
		return
	}
	if err := inst.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		s.log.Debug("write failed", zap.String("session", inst.id), zap.Error(err))
	}
}

// decodeBase64Image accepts plain base64 or a data:image/...;base64, URL.
func decodeBase64Image(b64 string) ([]byte, error) {
	// 去掉可能的 data URL 前缀
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}
	return data, nil
}

func (s *Server) releaseInstance(id, reason string) bool {
	s.sessionMu.Lock()
	inst, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.sessionMu.Unlock()
	if !ok {
		return false
	}

	inst.closeOnce.Do(func() {
		if reason != "" {
			_ = inst.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
				time.Now().Add(time.Second))
		}
		_ = inst.conn.Close()
	})
	inst.cancelOnce.Do(func() {
		close(inst.cancelTimer)
	})
	return true
}

func (s *Server) startIdleMonitor(inst *instance) {
	go func() {
		ticker := time.NewTicker(s.idle / 10)
		defer ticker.Stop()
		for {
			select {
			case <-inst.cancelTimer:
				return
			case <-ticker.C:
				if inst.idleFor() > s.idle {
					s.log.Info("IdleMonitor timed out", zap.String("session", inst.id))
					_ = s.releaseInstance(inst.id, "idle timeout, released")
					return
				}
			}
		}
	}()
}

func (s *Server) closeSessions() {
	s.sessionMu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.sessionMu.RUnlock()
	for _, id := range ids {
		s.releaseInstance(id, "server shutting down")
	}
}

func (s *Server) SessionCount() int {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	return len(s.sessions)
}
