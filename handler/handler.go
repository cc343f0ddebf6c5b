package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"medistream/constant"
	"medistream/dto"
	"medistream/entities"
	"medistream/repository"
	"medistream/service"
)

type Handler struct {
	Repo    repository.Repository
	Store   service.ChunkStore
	Blobs   service.BlobStore
	Streams *StreamManager
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	api := r.Group("/api")

	api.POST("/patients", h.CreatePatient)
	api.GET("/patients", h.ListPatients)
	api.GET("/patients/:id", h.GetPatient)
	api.PUT("/patients/:id", h.UpdatePatient)
	api.DELETE("/patients/:id", h.DeletePatient)

	api.GET("/dashboard", h.Dashboard)

	api.POST("/streams", h.CreateStream)
	api.GET("/streams", h.ListStreams)
	api.GET("/streams/:id", h.GetStream)
	api.POST("/streams/:id/chunks", h.IngestChunk)
	api.POST("/streams/:id/stop", h.StopStream)
	api.GET("/streams/:id/chunks", h.ListChunks)
	api.GET("/streams/:id/live", h.Live)
}

func (h *Handler) CreatePatient(c *gin.Context) {
	var req dto.CreatePatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	patient := &entities.Patient{
		ID:          uuid.New(),
		Name:        req.Name,
		DateOfBirth: req.DateOfBirth,
		Email:       req.Email,
		MRN:         req.MRN,
	}
	if err := h.Repo.CreatePatient(c.Request.Context(), patient); err != nil {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("failed to create patient")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create patient"})
		return
	}
	c.JSON(http.StatusCreated, patient)
}

func (h *Handler) ListPatients(c *gin.Context) {
	patients, err := h.Repo.ListPatients(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list patients"})
		return
	}
	c.JSON(http.StatusOK, patients)
}

func (h *Handler) GetPatient(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid patient id"})
		return
	}
	patient, err := h.Repo.FindPatientById(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "patient not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load patient"})
		return
	}
	c.JSON(http.StatusOK, patient)
}

func (h *Handler) UpdatePatient(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid patient id"})
		return
	}
	var req dto.UpdatePatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	patient := &entities.Patient{
		ID:          id,
		Name:        req.Name,
		DateOfBirth: req.DateOfBirth,
		Email:       req.Email,
		MRN:         req.MRN,
	}
	if err := h.Repo.UpdatePatient(c.Request.Context(), patient); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update patient"})
		return
	}
	c.JSON(http.StatusOK, patient)
}

func (h *Handler) DeletePatient(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid patient id"})
		return
	}
	if err := h.Repo.DeletePatient(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete patient"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetStream(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
		return
	}
	stream, err := h.Store.GetSession(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stream"})
		return
	}
	c.JSON(http.StatusOK, stream)
}

// ListChunks returns the ordered chunk sequence with resolved locators.
// A chunk whose locator cannot be resolved is omitted, not fatal.
func (h *Handler) ListChunks(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
		return
	}
	chunks, err := h.Store.GetChunks(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chunks"})
		return
	}

	resolved := make([]dto.ResolvedChunk, 0, len(chunks))
	for _, chunk := range chunks {
		url, err := h.Blobs.ResolveLocator(c.Request.Context(), chunk.StoragePath)
		if err != nil {
			zerolog.Ctx(c.Request.Context()).Warn().Err(err).
				Int("order", chunk.Order).
				Msg("failed to resolve chunk locator")
			continue
		}
		resolved = append(resolved, dto.ResolvedChunk{
			ChunkId:    chunk.ID,
			Order:      chunk.Order,
			URL:        url,
			CapturedAt: chunk.CapturedAt.UnixMilli(),
		})
	}
	c.JSON(http.StatusOK, resolved)
}

func (h *Handler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()
	resp := dto.DashboardResponse{}

	var err error
	if resp.TotalPatients, err = h.Repo.CountPatients(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load dashboard"})
		return
	}
	if resp.ActiveStreams, err = h.Repo.CountStreamsByStatus(ctx, constant.StreamStatusRecording); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load dashboard"})
		return
	}
	if resp.TotalStreams, err = h.Repo.CountStreams(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load dashboard"})
		return
	}
	c.JSON(http.StatusOK, resp)
}
