package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/meshbridge/internal/bridge"
	"github.com/danmuck/meshbridge/internal/decrypt"
	"github.com/danmuck/meshbridge/internal/outbound"
	"github.com/danmuck/meshbridge/internal/protocol/schema"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

type channelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	KeyLen      int    `json:"key_len"`
	Hash        uint8  `json:"hash"`
	EnforceName bool   `json:"enforce_name"`
}

type messageRequest struct {
	Text        string `json:"text" binding:"required"`
	Node        uint32 `json:"node"`
	Channel     uint32 `json:"channel"`
	ReplyID     uint32 `json:"reply_id"`
	MaxAttempts int    `json:"max_attempts"`
}

type decodeRequest struct {
	// Ciphertext is base64 in the standard encoding.
	Ciphertext  string `json:"ciphertext" binding:"required"`
	PacketID    uint32 `json:"packet_id"`
	From        uint32 `json:"from"`
	ChannelHash *uint8 `json:"channel_hash"`
	ChannelID   string `json:"channel_id"`
}

type decodeResponse struct {
	Success     bool           `json:"success"`
	ChannelID   string         `json:"channel_id,omitempty"`
	ChannelName string         `json:"channel_name,omitempty"`
	Port        string         `json:"port,omitempty"`
	Attempted   int            `json:"attempted"`
	Payload     schema.Payload `json:"payload,omitempty"`
	Error       string         `json:"error,omitempty"`
}

type frameRequest struct {
	// Frame is one FromRadio protobuf, base64 in the standard encoding.
	Frame string `json:"frame" binding:"required"`
}

type adminRequest struct {
	Kind     string `json:"kind" binding:"required"`
	Node     uint32 `json:"node" binding:"required"`
	Favorite uint32 `json:"favorite"`
	Channel  uint32 `json:"channel"`
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": s.cfg.ID,
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		if err := s.Ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"uptime":  time.Since(s.appeared).String(),
			"service": s.cfg.ID,
			"version": version,
		})
	})

	routes := s.protected()
	if s.deps.Channels != nil {
		routes.GET("/channels", s.listChannels)
		routes.POST("/channels/refresh", s.refreshChannels)
	}
	if s.deps.Queue != nil {
		routes.GET("/queue", s.queueStats)
		routes.DELETE("/queue", s.clearQueue)
		routes.POST("/messages", s.enqueueMessage)
	}
	if s.deps.Decryptor != nil {
		routes.POST("/decode", s.decode)
	}
	if s.deps.Admin != nil {
		routes.POST("/admin", s.sendAdmin)
	}
	if s.deps.Frames != nil {
		routes.POST("/frames", s.receiveFrame)
	}
}

func (s *Server) listChannels(c *gin.Context) {
	keys := s.deps.Channels.Snapshot(c.Request.Context())
	list := make([]channelInfo, 0, len(keys))
	for _, k := range keys {
		list = append(list, channelInfo{
			ID:          k.ID,
			Name:        k.Name,
			KeyLen:      len(k.Key),
			Hash:        decrypt.ChannelHash(k.Name, k.Key),
			EnforceName: k.EnforceNameValidation,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"channels":  list,
		"loaded_at": s.deps.Channels.LoadedAt(),
	})
}

func (s *Server) refreshChannels(c *gin.Context) {
	if err := s.deps.Channels.Refresh(c.Request.Context()); err != nil {
		log.Error().Err(err).Msg("channel refresh failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"loaded":    len(s.deps.Channels.Snapshot(c.Request.Context())),
		"loaded_at": s.deps.Channels.LoadedAt(),
	})
}

func (s *Server) queueStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Queue.Stats())
}

func (s *Server) clearQueue(c *gin.Context) {
	n := s.deps.Queue.Clear()
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}

func (s *Server) enqueueMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var opts []outbound.Option
	if req.ReplyID != 0 {
		opts = append(opts, outbound.WithReplyID(req.ReplyID))
	}
	if req.MaxAttempts > 0 {
		opts = append(opts, outbound.WithMaxAttempts(req.MaxAttempts))
	}
	dest := outbound.Destination{Node: req.Node, Channel: req.Channel}
	id, err := s.deps.Queue.Enqueue(req.Text, dest, opts...)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, outbound.ErrEmptyText):
			status = http.StatusBadRequest
		case errors.Is(err, outbound.ErrClosed):
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "destination": dest.String()})
}

func (s *Server) decode(c *gin.Context) {
	var req decodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ct, err := base64.StdEncoding.DecodeString(req.Ciphertext)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ciphertext is not valid base64"})
		return
	}

	var res decrypt.Result
	if req.ChannelID != "" {
		res = s.deps.Decryptor.TryDecryptWithChannel(c.Request.Context(), ct, req.PacketID, req.From, req.ChannelID)
	} else {
		res = s.deps.Decryptor.TryDecrypt(c.Request.Context(), ct, req.PacketID, req.From, req.ChannelHash)
	}

	out := decodeResponse{
		Success:     res.Success,
		ChannelID:   res.ChannelID,
		ChannelName: res.ChannelName,
		Attempted:   res.Attempted,
	}
	if !res.Success {
		out.Error = res.Err.Error()
		status := http.StatusUnprocessableEntity
		if errors.Is(res.Err, decrypt.ErrDisabled) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, out)
		return
	}
	out.Port = res.PortNum.String()
	out.Payload = res.Data.Decoded
	c.JSON(http.StatusOK, out)
}

func (s *Server) receiveFrame(c *gin.Context) {
	var req frameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.Frame)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "frame is not valid base64"})
		return
	}
	if err := s.deps.Frames.HandleFromRadio(c.Request.Context(), raw); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, bridge.ErrUndecodableFrame) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "bytes": len(raw)})
}

func (s *Server) sendAdmin(c *gin.Context) {
	var req adminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := s.deps.Admin.SendAdmin(c.Request.Context(), bridge.AdminRequest{
		Kind:     bridge.AdminKind(req.Kind),
		Node:     req.Node,
		Favorite: req.Favorite,
		Channel:  req.Channel,
	})
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, bridge.ErrUnknownAdminKind), errors.Is(err, schema.ErrInvalidAdminTarget):
			status = http.StatusBadRequest
		case errors.Is(err, bridge.ErrNoSessionKey):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"packet_id": id})
}
