package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/gin280/doc-qa-system-sub000/internal/service"
	"github.com/gin280/doc-qa-system-sub000/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理 WebSocket 问答连接。
type ChatHandler struct {
	answerService service.AnswerService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(answerService service.AnswerService) *ChatHandler {
	return &ChatHandler{answerService: answerService}
}

// wsFragmentWriter 把流式分片以 {"chunk": "..."} 帧写入 WebSocket 连接。
type wsFragmentWriter struct {
	conn *websocket.Conn
}

func (w *wsFragmentWriter) WriteFragment(fragment string) error {
	b, err := json.Marshal(map[string]string{"chunk": fragment})
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, b)
}

// Handle 处理一个传入的 WebSocket 连接。
// 每条消息是一个针对 documentId 指定文档的问题，回答以流式分片推送。
func (h *ChatHandler) Handle(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		return
	}
	documentID := c.Query("documentId")
	if documentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 documentId 参数"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立, owner: %d, document: %s", ownerID, documentID)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}
		question := string(message)
		log.Infof("收到 WebSocket 问题: %s", question)

		writer := &wsFragmentWriter{conn: conn}
		_, err = h.answerService.GenerateAnswer(c.Request.Context(), ownerID, documentID, question, writer)
		if err != nil {
			log.Errorf("生成答案失败: %v", err)
			h.writeError(conn, err)
			// 错误时也发送 completion 通知，客户端据此结束本轮
			h.writeCompletion(conn)
			continue
		}
		h.writeCompletion(conn)
	}
}

// writeError 发送统一的 JSON 错误帧，超时与普通失败区分文案。
func (h *ChatHandler) writeError(conn *websocket.Conn, cause error) {
	msg := "AI服务暂时不可用，请稍后重试"
	if service.IsGenerationTimeout(cause) {
		msg = "答案生成超时，请稍后重试"
	}
	b, _ := json.Marshal(map[string]string{"error": msg})
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

// writeCompletion 发送一轮回答结束的通知帧。
func (h *ChatHandler) writeCompletion(conn *websocket.Conn) {
	resp := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": time.Now().UnixMilli(),
		"date":      time.Now().Format("2006-01-02T15:04:05"),
	}
	b, _ := json.Marshal(resp)
	_ = conn.WriteMessage(websocket.TextMessage, b)
}
