package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appsync "github.com/sebastiansabo/autoworld-crawl/internal/application/integration"
	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/logger"
	"github.com/sebastiansabo/autoworld-crawl/internal/interfaces/http/dto"
)

// SyncRunner is the sync use case as seen by the HTTP trigger
type SyncRunner interface {
	Run(ctx context.Context, req appsync.RunRequest) (*appsync.BatchResultResponse, error)
	GetMapping(ctx context.Context, key string) (*appsync.MappingResponse, error)
	DeleteMapping(ctx context.Context, key string) error
}

// SyncHandler serves the sync run trigger and mapping administration
type SyncHandler struct {
	BaseHandler
	service SyncRunner
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(service SyncRunner) *SyncHandler {
	return &SyncHandler{service: service}
}

// RunBatch handles POST /sync/runs
//
// The batch runs inside the request. A batch that aborts on repeated storage
// failures, or whose request is cancelled, answers with its partial result in
// data next to the error.
//
// @ID           runSyncBatch
// @Summary      Run a sync batch
// @Description  Syncs inline records, or one record source object, into the remote catalog
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        request body appsync.RunRequest true "Records or a source object"
// @Success      200 {object} dto.Response{data=appsync.BatchResultResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      503 {object} dto.Response{data=appsync.BatchResultResponse,error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /sync/runs [post]
func (h *SyncHandler) RunBatch(c *gin.Context) {
	var req appsync.RunRequest
	if !h.BindJSON(c, &req) {
		return
	}

	result, err := h.service.Run(c.Request.Context(), req)
	if err != nil {
		if result != nil {
			h.partial(c, result, err)
			return
		}
		h.HandleError(c, err)
		return
	}

	logger.GetGinLogger(c).Info("Sync batch finished",
		zap.String(logger.FieldBatchID, result.BatchID),
		zap.String("status", result.Status),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("failed", result.Failed),
		zap.Int("dropped", result.Dropped),
	)
	h.Success(c, result)
}

func (h *SyncHandler) partial(c *gin.Context, result *appsync.BatchResultResponse, err error) {
	code := errorCode(err)
	if errors.Is(err, integration.ErrBatchAborted) {
		code = dto.ErrCodeBatchAborted
	}
	logger.GetGinLogger(c).Warn("Sync batch ended early",
		zap.String(logger.FieldBatchID, result.BatchID),
		zap.String("code", code),
		zap.Error(err),
	)
	_ = c.Error(err)
	c.JSON(dto.GetHTTPStatus(code), dto.NewPartialResponse(result, code, err.Error(), getRequestID(c)))
}

// GetMapping godoc
// @ID           getSyncMapping
// @Summary      Get an identity mapping
// @Description  Returns the remote product and variant ids stored for an identity key
// @Tags         mappings
// @Produce      json
// @Param        key path string true "Identity key"
// @Success      200 {object} dto.Response{data=appsync.MappingResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /sync/mappings/{key} [get]
func (h *SyncHandler) GetMapping(c *gin.Context) {
	key, ok := h.mappingKey(c)
	if !ok {
		return
	}
	mapping, err := h.service.GetMapping(c.Request.Context(), key)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, mapping)
}

// DeleteMapping godoc
// @ID           deleteSyncMapping
// @Summary      Delete an identity mapping
// @Description  Forgets the mapping so the next sync of the key creates a new remote entity
// @Tags         mappings
// @Param        key path string true "Identity key"
// @Success      204
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /sync/mappings/{key} [delete]
func (h *SyncHandler) DeleteMapping(c *gin.Context) {
	key, ok := h.mappingKey(c)
	if !ok {
		return
	}
	if err := h.service.DeleteMapping(c.Request.Context(), key); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

func (h *SyncHandler) mappingKey(c *gin.Context) (string, bool) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		h.BadRequest(c, "identity key is required")
		return "", false
	}
	return key, true
}
