package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"torrentdrive/internal/domain"
	"torrentdrive/internal/engine"
	"torrentdrive/internal/service"
	"torrentdrive/internal/storage"
	"torrentdrive/internal/worker"
	"torrentdrive/internal/ws"
)

// Handler wires HTTP routes to domain services.
type Handler struct {
	jobs            service.JobService
	users           service.UserService
	engine          engine.Engine
	storage         storage.Service
	downloads       *worker.Pool
	hub             *ws.Hub
	metadataTimeout time.Duration
	jwtSecret       string
	tokenTTL        time.Duration
}

func NewHandler(
	jobs service.JobService,
	users service.UserService,
	eng engine.Engine,
	store storage.Service,
	downloads *worker.Pool,
	hub *ws.Hub,
	metadataTimeout time.Duration,
	jwtSecret string,
	tokenTTL time.Duration,
) *Handler {
	return &Handler{
		jobs:            jobs,
		users:           users,
		engine:          eng,
		storage:         store,
		downloads:       downloads,
		hub:             hub,
		metadataTimeout: metadataTimeout,
		jwtSecret:       jwtSecret,
		tokenTTL:        tokenTTL,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	router.GET("/ws", func(c *gin.Context) {
		if err := h.hub.Serve(c.Writer, c.Request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
	})

	api := router.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		})
		api.POST("/auth/register", h.register)
		api.POST("/auth/login", h.login)

		authed := api.Group("", h.authMiddleware())
		{
			authed.POST("/torrents", h.createTorrent)
			authed.GET("/torrents", h.listTorrents)
			authed.GET("/torrents/:id", h.getTorrent)
			authed.GET("/torrents/:id/progress", h.getProgress)
			authed.POST("/torrents/:id/download", h.startDownload)
			authed.POST("/torrents/:id/pause", h.pauseTorrent)
			authed.POST("/torrents/:id/resume", h.resumeTorrent)
			authed.POST("/torrents/:id/resubmit", h.resubmitTorrent)
			authed.DELETE("/torrents/:id", h.deleteTorrent)
			authed.GET("/storage/files", h.listStorageFiles)
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

type createTorrentRequest struct {
	Magnet string `json:"magnet" binding:"required"`
}

type startDownloadRequest struct {
	FileIndices []int `json:"file_indices"`
}

// createTorrent fetches metadata synchronously, then persists the job in
// metadata_ready.
func (h *Handler) createTorrent(c *gin.Context) {
	var req createTorrentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	meta, err := h.engine.FetchMetadata(c.Request.Context(), req.Magnet, h.metadataTimeout)
	if err != nil {
		if errors.Is(err, domain.ErrMetadataTimeout) {
			c.JSON(http.StatusRequestTimeout, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	job, err := h.jobs.CreateJob(c.Request.Context(), req.Magnet, meta)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, jobToResponse(*job))
}

func (h *Handler) listTorrents(c *gin.Context) {
	var (
		jobs []domain.Job
		err  error
	)
	if state := c.Query("state"); state != "" {
		js := domain.JobState(state)
		if !js.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown state"})
			return
		}
		jobs, err = h.jobs.ListByStates(c.Request.Context(), js)
	} else {
		jobs, err = h.jobs.ListJobs(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]JobResponse, len(jobs))
	for i := range jobs {
		resp[i] = jobToResponse(jobs[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getTorrent(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, jobToResponse(*job))
}

// getProgress returns live engine status for downloading jobs (persisting it
// as a side effect), the stored snapshot otherwise.
func (h *Handler) getProgress(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}

	if job.State == domain.StateDownloading {
		if progress, found := h.engine.Status(job.ID); found {
			if err := h.jobs.UpdateProgress(c.Request.Context(), job.ID, progress); err == nil {
				c.JSON(http.StatusOK, progress)
				return
			}
		}
	}

	if job.Progress != nil {
		c.JSON(http.StatusOK, job.Progress)
		return
	}
	c.JSON(http.StatusOK, domain.Progress{JobID: job.ID, State: job.State})
}

func (h *Handler) startDownload(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}

	// body is optional; absent indices select every file
	var req startDownloadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if job.State != domain.StateMetadataReady && job.State != domain.StatePaused {
		c.JSON(http.StatusConflict, gin.H{"error": "cannot start download in state: " + string(job.State)})
		return
	}

	h.downloads.Submit(worker.Request{JobID: job.ID, FileIndices: req.FileIndices})
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "job_id": job.ID})
}

func (h *Handler) pauseTorrent(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}

	if !h.engine.Pause(job.ID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to pause torrent"})
		return
	}
	if err := h.jobs.Transition(c.Request.Context(), job.ID, domain.StatePaused); err != nil {
		h.transitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

// resumeTorrent requeues a paused job. The download pool re-enters
// downloading and re-attaches the engine handle, so this works whether the
// pause happened in this process or before a restart.
func (h *Handler) resumeTorrent(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}

	if job.State != domain.StatePaused {
		c.JSON(http.StatusConflict, gin.H{"error": "cannot resume in state: " + string(job.State)})
		return
	}

	h.engine.Resume(job.ID)
	h.downloads.Submit(worker.Request{JobID: job.ID, FileIndices: job.SelectedFileIndices()})
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "job_id": job.ID})
}

// resubmitTorrent returns a failed job to metadata_ready so the client can
// request a fresh download.
func (h *Handler) resubmitTorrent(c *gin.Context) {
	job, err := h.jobs.Resubmit(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.transitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobToResponse(*job))
}

func (h *Handler) deleteTorrent(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}

	deleteFiles := c.DefaultQuery("delete_files", "false") == "true"
	deleteRemote := c.DefaultQuery("delete_remote", "false") == "true"

	var warnings []string
	h.engine.Remove(job.ID, deleteFiles)

	if deleteRemote && job.RemoteID != "" {
		remoteCtx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()
		if err := h.storage.DeleteItem(remoteCtx, job.RemoteID); err != nil {
			warnings = append(warnings, "delete remote data: "+err.Error())
		}
	}

	if err := h.jobs.DeleteJob(c.Request.Context(), job.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"deleted": job.ID}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) listStorageFiles(c *gin.Context) {
	objects, err := h.storage.ListObjects(c.Request.Context(), c.Query("prefix"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]StorageObjectResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) loadJob(c *gin.Context) (*domain.Job, bool) {
	job, err := h.jobs.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, false
	}
	return job, true
}

func (h *Handler) transitionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type JobResponse struct {
	ID         string           `json:"id"`
	Magnet     string           `json:"magnet"`
	State      domain.JobState  `json:"state"`
	Metadata   *domain.Metadata `json:"metadata,omitempty"`
	Progress   *domain.Progress `json:"progress,omitempty"`
	RemoteID   string           `json:"remote_id,omitempty"`
	CreatedAt  string           `json:"created_at"`
	UpdatedAt  string           `json:"updated_at"`
	UploadedAt *string          `json:"uploaded_at,omitempty"`
}

type StorageObjectResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
}

func jobToResponse(job domain.Job) JobResponse {
	resp := JobResponse{
		ID:        job.ID,
		Magnet:    job.MagnetURI,
		State:     job.State,
		Metadata:  job.Metadata,
		Progress:  job.Progress,
		RemoteID:  job.RemoteID,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}
	if job.UploadedAt != nil {
		v := job.UploadedAt.Format(time.RFC3339)
		resp.UploadedAt = &v
	}
	return resp
}

func objectToResponse(obj storage.ObjectInfo) StorageObjectResponse {
	resp := StorageObjectResponse{
		Key:  obj.Key,
		Size: obj.Size,
	}
	if obj.LastModified != nil && !obj.LastModified.IsZero() {
		v := obj.LastModified.Format(time.RFC3339)
		resp.LastModified = &v
	}
	return resp
}
