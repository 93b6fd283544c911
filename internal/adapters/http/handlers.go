package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/saffronlab/loom/internal/adapters/signal"
	"github.com/saffronlab/loom/internal/core"
	"github.com/saffronlab/loom/internal/domain"
	"github.com/saffronlab/loom/internal/export"
	"github.com/saffronlab/loom/internal/store"
)

// Handlers is the REST surface: state get/set with the same guards as the
// session path, listing, deletion, JSON backup and report export.
type Handlers struct {
	Rooms      *core.RoomManager
	Backend    store.Backend
	Gateway    *store.Gateway
	Export     *export.Service
	Signal     *signal.SessionController
	AdminToken string
	MaxBody    int64
}

func (h *Handlers) isAdmin(c *gin.Context) bool {
	if h.AdminToken == "" {
		return false
	}
	auth := c.GetHeader("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	return token != auth && token == h.AdminToken
}

func (h *Handlers) requireAdmin(c *gin.Context) {
	if h.AdminToken == "" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "privileged operations disabled"})
		return
	}
	if !h.isAdmin(c) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.Next()
}

type projectListItem struct {
	store.Summary
	MemberCount int `json:"member_count"`
}

func (h *Handlers) listProjects(c *gin.Context) {
	summaries, err := h.Backend.List(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("list projects")
		c.JSON(http.StatusBadGateway, gin.H{"error": "backing_store_error"})
		return
	}
	seen := make(map[domain.RoomID]bool, len(summaries))
	items := make([]projectListItem, 0, len(summaries))
	for _, s := range summaries {
		seen[s.ID] = true
		item := projectListItem{Summary: s}
		if room, ok := h.Rooms.Get(s.ID); ok {
			item.MemberCount = room.Presence.Count()
		}
		items = append(items, item)
	}
	// Live rooms that have never been persisted still show up.
	for _, info := range h.Rooms.List() {
		if seen[info.ID] {
			continue
		}
		items = append(items, projectListItem{
			Summary:     store.Summary{ID: info.ID, UpdatedAt: info.Version},
			MemberCount: info.MemberCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"projects": items})
}

func (h *Handlers) deleteProject(c *gin.Context) {
	id := domain.RoomID(c.Param("id"))
	if err := h.Backend.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "backing_store_error"})
		return
	}
	h.Gateway.Forget(id)
	h.Rooms.Remove(id)
	log.Info().Str("module", "adapters.http").Str("room", string(id)).Msg("project deleted")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) getState(c *gin.Context) {
	room := h.Rooms.GetOrCreate(domain.RoomID(c.Param("id")))
	snap := room.State.Get(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"raw":     json.RawMessage(snap.Raw),
		"project": snap.Project,
		"version": snap.Version,
	})
}

func (h *Handlers) putState(c *gin.Context) {
	force := c.Query("force") == "true"
	if force && !h.isAdmin(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "force overwrite requires admin token"})
		return
	}
	body, err := h.readBody(c, c.Request.Body)
	if err != nil {
		return
	}
	h.writeState(c, domain.RoomID(c.Param("id")), body, force)
}

// loadBackup accepts a previously downloaded backup, as a multipart file
// or a raw JSON body, and runs it through the full guarded write path.
func (h *Handlers) loadBackup(c *gin.Context) {
	force := c.Query("force") == "true"
	if force && !h.isAdmin(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "force overwrite requires admin token"})
		return
	}

	var reader io.Reader = c.Request.Body
	if file, err := c.FormFile("file"); err == nil {
		f, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
			return
		}
		defer f.Close()
		reader = f
	}
	body, err := h.readBody(c, reader)
	if err != nil {
		return
	}
	h.writeState(c, domain.RoomID(c.Param("id")), body, force)
}

func (h *Handlers) readBody(c *gin.Context, r io.Reader) ([]byte, error) {
	if h.MaxBody > 0 {
		r = io.LimitReader(r, h.MaxBody+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return nil, err
	}
	if h.MaxBody > 0 && int64(len(body)) > h.MaxBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "project_too_large"})
		return nil, errors.New("body too large")
	}
	return body, nil
}

// writeState shares the guarded write path with the session endpoint and
// broadcasts accepted snapshots to the room's live members.
func (h *Handlers) writeState(c *gin.Context, id domain.RoomID, body []byte, force bool) {
	room := h.Rooms.GetOrCreate(id)
	snap, err := room.State.Set(c.Request.Context(), body, core.PersistOpts{ViaREST: true, Force: force})

	if err != nil && !errors.Is(err, core.ErrBackingStore) {
		log.Warn().Err(err).Str("module", "adapters.http").Str("room", string(id)).
			Msg("state write rejected")
		c.JSON(statusFor(err), gin.H{"error": core.ErrCode(err), "message": err.Error()})
		return
	}

	h.Signal.BroadcastState(room, snap)

	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   core.ErrCode(err),
			"message": "state accepted in memory, persistence failed",
			"version": snap.Version,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": snap.Version})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrProjectTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrTotalLimit):
		return http.StatusInsufficientStorage
	case errors.Is(err, core.ErrContentWipe), errors.Is(err, core.ErrEmptyOverwrite):
		return http.StatusConflict
	case errors.Is(err, core.ErrBackingStore):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

func (h *Handlers) downloadBackup(c *gin.Context) {
	id := c.Param("id")
	room := h.Rooms.GetOrCreate(domain.RoomID(id))
	snap := room.State.Get(c.Request.Context())

	var buf bytes.Buffer
	if err := json.Indent(&buf, snap.Raw, "", "  "); err != nil {
		buf.Write(snap.Raw)
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s_backup.json", id))
	c.Data(http.StatusOK, "application/json", buf.Bytes())
}

func (h *Handlers) exportWord(c *gin.Context) {
	room := h.Rooms.GetOrCreate(domain.RoomID(c.Param("id")))
	snap := room.State.Get(c.Request.Context())

	res, err := h.Export.Word(c.Request.Context(), snap.Project)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, export.ErrDependencyMissing) {
			status = http.StatusNotImplemented
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", res.Filename))
	c.Data(http.StatusOK, res.MimeType, res.Data)
}

func (h *Handlers) exportExcel(c *gin.Context) {
	room := h.Rooms.GetOrCreate(domain.RoomID(c.Param("id")))
	snap := room.State.Get(c.Request.Context())

	res, err := h.Export.Excel(snap.Project)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", res.Filename))
	c.Data(http.StatusOK, res.MimeType, res.Data)
}
