package http

import (
	"context"
	"net/http"
	"strconv"

	"pyrite/internal/core/domain"
	"pyrite/internal/core/services"
	apperrors "pyrite/pkg/errors"

	"github.com/gin-gonic/gin"
)

// Session is the part of the session service driven over HTTP.
type Session interface {
	Connect(ctx context.Context, url string) error
	Disconnect(ctx context.Context) error
	Snapshot(ctx context.Context) (services.SessionSnapshot, error)
	AcquireLocalMedia(ctx context.Context, presence *domain.Presence) (domain.StreamID, error)
	AddShareMedia(ctx context.Context) (domain.StreamID, error)
	AddFileMedia(ctx context.Context, source string) (domain.StreamID, error)
	RemoveStream(ctx context.Context, id domain.StreamID) error
	RemoveTrack(ctx context.Context, id domain.StreamID, kind domain.TrackKind) error
	SetMicrophoneEnabled(ctx context.Context, enabled bool) error
	SetUpstreamTier(ctx context.Context, tier domain.UpstreamTier) error
	SetResolution(ctx context.Context, r domain.Resolution) error
}

type Devices interface {
	Refresh(ctx context.Context) error
	Select(kind domain.DeviceKind, id string) error
	Selection(kind domain.DeviceKind) domain.DeviceSelection
}

type Notifications interface {
	Active() []domain.Notification
	Dismiss(id domain.NotificationID) bool
}

type SessionHandler struct {
	session       Session
	devices       Devices
	notifications Notifications
}

func NewSessionHandler(session Session, devices Devices, notifications Notifications) *SessionHandler {
	return &SessionHandler{
		session:       session,
		devices:       devices,
		notifications: notifications,
	}
}

func (h *SessionHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.GET("/session", h.GetSession)
		api.POST("/session/connect", h.Connect)
		api.POST("/session/disconnect", h.Disconnect)

		api.GET("/streams", h.ListStreams)
		api.DELETE("/streams/:id", h.RemoveStream)
		api.DELETE("/streams/:id/tracks/:kind", h.RemoveTrack)

		api.POST("/media", h.AcquireLocalMedia)
		api.POST("/media/screenshare", h.AddShareMedia)
		api.POST("/media/file", h.AddFileMedia)
		api.PUT("/media/microphone", h.SetMicrophone)

		api.PUT("/settings/tier", h.SetTier)
		api.PUT("/settings/resolution", h.SetResolution)

		api.GET("/devices", h.ListDevices)
		api.POST("/devices/refresh", h.RefreshDevices)
		api.PUT("/devices/:kind", h.SelectDevice)

		api.GET("/notifications", h.ListNotifications)
		api.DELETE("/notifications/:id", h.DismissNotification)
	}
}

func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return false
	}
	return true
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	snap, err := h.session.Snapshot(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *SessionHandler) Connect(c *gin.Context) {
	var req struct {
		URL string `json:"url" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	if err := h.session.Connect(c.Request.Context(), req.URL); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) Disconnect(c *gin.Context) {
	if err := h.session.Disconnect(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) ListStreams(c *gin.Context) {
	snap, err := h.session.Snapshot(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"streams":  snap.Streams,
		"up_media": snap.UpMedia,
	})
}

func (h *SessionHandler) RemoveStream(c *gin.Context) {
	id := domain.StreamID(c.Param("id"))
	if err := h.session.RemoveStream(c.Request.Context(), id); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) RemoveTrack(c *gin.Context) {
	kind := domain.TrackKind(c.Param("kind"))
	if kind != domain.TrackAudio && kind != domain.TrackVideo {
		_ = c.Error(apperrors.NewInvalidInputError("track kind must be audio or video"))
		return
	}
	if err := h.session.RemoveTrack(c.Request.Context(), domain.StreamID(c.Param("id")), kind); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AcquireLocalMedia publishes camera and microphone. Without a body the
// current device choices decide what is captured.
func (h *SessionHandler) AcquireLocalMedia(c *gin.Context) {
	var presence *domain.Presence
	if c.Request.ContentLength > 0 {
		var req struct {
			Camera     bool `json:"camera"`
			Microphone bool `json:"microphone"`
		}
		if !bind(c, &req) {
			return
		}
		presence = &domain.Presence{Camera: req.Camera, Microphone: req.Microphone}
	}

	id, err := h.session.AcquireLocalMedia(c.Request.Context(), presence)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if id == "" {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"stream_id": id})
}

func (h *SessionHandler) AddShareMedia(c *gin.Context) {
	id, err := h.session.AddShareMedia(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"stream_id": id})
}

func (h *SessionHandler) AddFileMedia(c *gin.Context) {
	var req struct {
		Source string `json:"source" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	id, err := h.session.AddFileMedia(c.Request.Context(), req.Source)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"stream_id": id})
}

func (h *SessionHandler) SetMicrophone(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	if err := h.session.SetMicrophoneEnabled(c.Request.Context(), *req.Enabled); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetTier accepts any tier name; unknown names fall back to the default cap.
func (h *SessionHandler) SetTier(c *gin.Context) {
	var req struct {
		Tier domain.UpstreamTier `json:"tier" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	if err := h.session.SetUpstreamTier(c.Request.Context(), req.Tier); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tier": req.Tier, "max_bps": services.MaxThroughputFor(req.Tier)})
}

func (h *SessionHandler) SetResolution(c *gin.Context) {
	var req struct {
		Resolution domain.Resolution `json:"resolution" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	if err := h.session.SetResolution(c.Request.Context(), req.Resolution); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) ListDevices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"camera":     h.devices.Selection(domain.DeviceVideoInput),
		"microphone": h.devices.Selection(domain.DeviceAudioInput),
	})
}

func (h *SessionHandler) RefreshDevices(c *gin.Context) {
	if err := h.devices.Refresh(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	h.ListDevices(c)
}

func (h *SessionHandler) SelectDevice(c *gin.Context) {
	var req struct {
		ID string `json:"id" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	kind := domain.DeviceKind(c.Param("kind"))
	if err := h.devices.Select(kind, req.ID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, h.devices.Selection(kind))
}

func (h *SessionHandler) ListNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"notifications": h.notifications.Active()})
}

func (h *SessionHandler) DismissNotification(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("invalid notification id"))
		return
	}
	if !h.notifications.Dismiss(domain.NotificationID(id)) {
		_ = c.Error(apperrors.NewNotFoundError("notification " + c.Param("id")))
		return
	}
	c.Status(http.StatusNoContent)
}
