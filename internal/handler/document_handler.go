// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gin280/doc-qa-system-sub000/internal/repository"
	"github.com/gin280/doc-qa-system-sub000/internal/service"
	"github.com/gin280/doc-qa-system-sub000/pkg/log"
)

// DocumentHandler 负责处理所有与文档管理相关的 API 请求。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docService: docService}
}

type ingestRequest struct {
	FileName string `json:"fileName" binding:"required"`
	Content  string `json:"content" binding:"required"`
}

// Ingest 处理文档入库请求：接收纯文本，返回 PENDING 状态的文档记录。
func (h *DocumentHandler) Ingest(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		return
	}

	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数不合法: " + err.Error()})
		return
	}

	doc, err := h.docService.Ingest(c.Request.Context(), ownerID, req.FileName, req.Content)
	if err != nil {
		log.Errorf("Ingest: failed for owner %d, file %s, err: %v", ownerID, req.FileName, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "文档入库失败"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"code":    http.StatusAccepted,
		"message": "文档已接收，正在后台处理",
		"data":    doc,
	})
}

// Get 处理查询单个文档（含处理状态）的请求。
func (h *DocumentHandler) Get(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		return
	}
	documentID := c.Param("id")

	doc, err := h.docService.Get(c.Request.Context(), ownerID, documentID)
	if errors.Is(err, repository.ErrDocumentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "文档不存在"})
		return
	}
	if errors.Is(err, service.ErrNotOwner) {
		c.JSON(http.StatusForbidden, gin.H{"error": "无权访问该文档"})
		return
	}
	if err != nil {
		log.Errorf("Get: failed for document %s, err: %v", documentID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询文档失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "查询文档成功",
		"data":    doc,
	})
}

// List 处理查询用户全部文档的请求。
func (h *DocumentHandler) List(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		return
	}

	docs, err := h.docService.List(c.Request.Context(), ownerID)
	if err != nil {
		log.Errorf("List: failed for owner %d, err: %v", ownerID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取文档列表失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "获取文档列表成功",
		"data":    docs,
	})
}

// Delete 处理文档级联删除的请求。
func (h *DocumentHandler) Delete(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		return
	}
	documentID := c.Param("id")

	err := h.docService.Delete(c.Request.Context(), ownerID, documentID)
	if errors.Is(err, service.ErrNotOwner) {
		c.JSON(http.StatusForbidden, gin.H{"error": "无权删除该文档"})
		return
	}
	if err != nil {
		log.Errorf("Delete: failed for document %s, err: %v", documentID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "文档删除成功",
	})
}

// ownerIDFromContext 从请求头解析调用方标识，缺失或非法时直接写错误响应。
func ownerIDFromContext(c *gin.Context) (uint, bool) {
	raw := c.GetHeader("X-Owner-ID")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 X-Owner-ID 请求头"})
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Owner-ID 不合法"})
		return 0, false
	}
	return uint(id), true
}
