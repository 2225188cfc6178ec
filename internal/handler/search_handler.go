package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gin280/doc-qa-system-sub000/internal/service"
	"github.com/gin280/doc-qa-system-sub000/pkg/log"
)

// SearchHandler 负责处理文档内检索的 API 请求。
type SearchHandler struct {
	retrievalService service.RetrievalService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(retrievalService service.RetrievalService) *SearchHandler {
	return &SearchHandler{retrievalService: retrievalService}
}

// Search 处理检索请求：在指定文档内按相关度返回 TopK 个分块。
func (h *SearchHandler) Search(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		return
	}

	documentID := c.Query("documentId")
	if documentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 documentId 参数"})
		return
	}
	query := c.Query("q")
	topK := 0
	if raw := c.Query("topK"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			topK = v
		}
	}

	result, err := h.retrievalService.Retrieve(c.Request.Context(), documentID, ownerID, query, topK)
	if err != nil {
		var re *service.RetrievalError
		if errors.As(err, &re) {
			switch re.Code {
			case service.ErrEmptyQuery, service.ErrQueryTooLong:
				c.JSON(http.StatusBadRequest, gin.H{"error": re.Msg, "errorCode": string(re.Code)})
				return
			case service.ErrNoRelevantContent:
				c.JSON(http.StatusNotFound, gin.H{"error": re.Msg, "errorCode": string(re.Code)})
				return
			}
		}
		log.Errorf("Search: failed for document %s, err: %v", documentID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "检索失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "检索成功",
		"data":    result,
	})
}
