package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"calmirror/internal/dispatch"
	"calmirror/internal/engine"
	"calmirror/internal/model"
)

const maxBodySize = 1 << 20 // 1MB

// signatureHeader carries the provider's HMAC over the raw body.
const signatureHeader = "X-Notion-Signature"

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleWebhook accepts one change notification. Handshake deliveries echo
// the verification token; verified ones answer with the task ids they
// named.
func (s *Server) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"ok":    false,
			"error": "body too large",
		})
		return
	}

	res, err := s.dispatcher.Dispatch(c.Request.Context(), body, c.GetHeader(signatureHeader))
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, dispatch.ErrBadPayload):
			status = http.StatusBadRequest
		case errors.Is(err, dispatch.ErrNoSecret),
			errors.Is(err, dispatch.ErrNoSignature),
			errors.Is(err, dispatch.ErrBadSignature):
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"ok": false, "error": err.Error()})
		return
	}

	if res.Handshake {
		c.JSON(http.StatusOK, gin.H{"verification_token": res.Echo})
		return
	}

	ids := res.IDs
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "updated": ids})
}

// handleAdminSync runs a full pass synchronously. force=1 bypasses the
// interval gate.
func (s *Server) handleAdminSync(c *gin.Context) {
	force := c.Query("force") == "1" || c.Query("force") == "true"

	rep, err := s.runner.RunFull(c.Request.Context(), engine.RunOpts{Force: force})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"report":   rep,
		"duration": rep.Duration.String(),
	})
}

func (s *Server) handleAdminStatus(c *gin.Context) {
	ctx := c.Request.Context()

	state, err := s.store.Settings(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	mappings, err := s.store.Mappings(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":              true,
		"settings":             state,
		"mappings":             len(mappings),
		"change_token_present": state.ChangeToken != "",
		"secret_present":       state.InboundVerificationSecret != "",
		"full_sync_due":        state.FullSyncDue(time.Now()),
	})
}

// settingsRequest is a partial update; nil fields keep their stored
// values.
type settingsRequest struct {
	CalendarName            *string `json:"calendar_name"`
	CalendarColor           *string `json:"calendar_color"`
	CalendarTimezone        *string `json:"calendar_timezone"`
	DateOnlyTimezone        *string `json:"date_only_timezone"`
	FullSyncIntervalMinutes *int    `json:"full_sync_interval_minutes"`
}

func (s *Server) handleAdminSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid body: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	state, err := s.store.Settings(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	if msg := applySettings(&state, req); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
		return
	}

	if err := s.store.SaveSettings(ctx, state); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "settings": state})
}

// applySettings validates the partial update onto state and returns a
// problem description, or "" when the update is acceptable. Calendar
// identity changes take effect at the next provisioning, and rendering
// inputs propagate through content-hash mismatches on later passes.
func applySettings(state *model.SyncState, req settingsRequest) string {
	if req.CalendarName != nil {
		name := strings.TrimSpace(*req.CalendarName)
		if name == "" {
			return "calendar_name must not be blank"
		}
		state.CalendarName = name
	}
	if req.CalendarColor != nil {
		color := strings.TrimSpace(*req.CalendarColor)
		if !validHexColor(color) {
			return "calendar_color must be #RRGGBB"
		}
		state.CalendarColor = color
	}
	if req.CalendarTimezone != nil {
		tz := strings.TrimSpace(*req.CalendarTimezone)
		if tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return "calendar_timezone is not a recognized zone"
			}
		}
		state.CalendarTimezone = tz
	}
	if req.DateOnlyTimezone != nil {
		tz := strings.TrimSpace(*req.DateOnlyTimezone)
		if tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return "date_only_timezone is not a recognized zone"
			}
		}
		state.DateOnlyTimezone = tz
	}
	if req.FullSyncIntervalMinutes != nil {
		if *req.FullSyncIntervalMinutes < 1 {
			return "full_sync_interval_minutes must be at least 1"
		}
		state.FullSyncIntervalMinutes = *req.FullSyncIntervalMinutes
	}
	return ""
}

func validHexColor(color string) bool {
	if len(color) != 7 || color[0] != '#' {
		return false
	}
	for _, r := range color[1:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
