package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rawblock/entropy-scorer/internal/node"
)

// ════════════════════════════════════════════════════════════════════
// Run Archive Handlers (PostgreSQL)
// ════════════════════════════════════════════════════════════════════

// archiveReady answers 503 when no database is configured.
func (h *APIHandler) archiveReady(c *gin.Context) bool {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Run archive unavailable: DATABASE_URL is not configured"})
		return false
	}
	return true
}

// runID validates the :id path parameter before it reaches the database.
func runID(c *gin.Context) (string, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run id"})
		return "", false
	}
	return id.String(), true
}

// POST /api/v1/runs
// Archives the current evaluation state.
func (h *APIHandler) handleArchiveRun(c *gin.Context) {
	if !h.archiveReady(c) {
		return
	}
	snap := h.node.Snapshot()
	if snap == nil {
		writeError(c, node.ErrNotExecuted)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	if err := h.dbStore.SaveRun(ctx, snap); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "archived", "runId": snap.RunID})
}

// GET /api/v1/runs?page=1&limit=50
func (h *APIHandler) handleListRuns(c *gin.Context) {
	if !h.archiveReady(c) {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	ctx, cancel := requestContext(c)
	defer cancel()
	runs, total, err := h.dbStore.ListRuns(ctx, page, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "total": total, "page": page})
}

// GET /api/v1/runs/:id
// Returns the archived result without touching the live state.
func (h *APIHandler) handleGetRun(c *gin.Context) {
	if !h.archiveReady(c) {
		return
	}
	id, ok := runID(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	snap, err := h.dbStore.LoadRun(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	view, err := resultView(snap)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// POST /api/v1/runs/:id/restore
// Makes an archived run the live state, the same way a file load does.
func (h *APIHandler) handleRestoreRun(c *gin.Context) {
	if !h.archiveReady(c) {
		return
	}
	id, ok := runID(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	snap, err := h.dbStore.LoadRun(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	h.node.Restore(snap)
	h.writeResult(c)
}

// DELETE /api/v1/runs/:id
func (h *APIHandler) handleDeleteRun(c *gin.Context) {
	if !h.archiveReady(c) {
		return
	}
	id, ok := runID(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	if err := h.dbStore.DeleteRun(ctx, id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "runId": id})
}
