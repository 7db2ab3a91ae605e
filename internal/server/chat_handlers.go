package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/konnection/roomstate/internal/chat"
	"github.com/konnection/roomstate/internal/contracts"
	"github.com/konnection/roomstate/internal/userdata"
	"go.uber.org/zap"
)

type contractDocumentRequest struct {
	contracts.Input
	Title  string          `json:"title"`
	City   string          `json:"city"`
	Thread *chat.ThreadKey `json:"thread"`
}

type contractDocumentResponse struct {
	DocumentRef string                  `json:"documentRef"`
	Filename    string                  `json:"filename"`
	Summary     []string                `json:"summary"`
	Contract    userdata.ContractRecord `json:"contract"`
	Message     *chat.Message           `json:"message,omitempty"`
}

// handleBuildContract renders the contract, keeps it for preview and records
// it in the contract history. With a thread the document is also attached to
// that chat.
func (h *httpHandler) handleBuildContract(c *gin.Context) {
	var request contractDocumentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	var thread *chat.ThreadKey
	if request.Thread != nil {
		key, err := chat.NewThreadKey(request.Thread.Peer, request.Thread.Role)
		if err != nil {
			h.respondError(c, "contract_document", err)
			return
		}
		thread = &key
	}

	doc, err := contracts.Build(request.Input)
	if err != nil {
		if errors.Is(err, contracts.ErrRenderFailed) {
			h.logger.Error("contract rendering failed", zap.String("room_id", request.RoomID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "document_failed"})
			return
		}
		h.respondError(c, "contract_document", err)
		return
	}
	ref := h.documents.Put(doc)

	response := contractDocumentResponse{DocumentRef: ref, Filename: doc.Filename, Summary: doc.Summary}
	status := userdata.ContractRequested
	if thread != nil {
		message, err := h.threads.AppendAttachment(c.Request.Context(), *thread, chat.ContractAttachment{
			DocumentRef:  ref,
			Filename:     doc.Filename,
			ListingID:    request.RoomID,
			Title:        request.Title,
			PriceMonthly: request.MonthlyAmount,
			Deposit:      request.DepositAmount,
		})
		if err != nil {
			h.respondError(c, "contract_attach", err)
			return
		}
		response.Message = &message
		status = userdata.ContractSent
	}

	record, err := h.userData.AppendContract(c.Request.Context(), userdata.ContractRecord{
		ListingID:    request.RoomID,
		Title:        request.Title,
		City:         request.City,
		PriceMonthly: request.MonthlyAmount,
		Deposit:      request.DepositAmount,
		Filename:     doc.Filename,
		DocumentRef:  ref,
		Status:       status,
	})
	if err != nil {
		h.respondError(c, "contract_record", err)
		return
	}
	response.Contract = record
	c.JSON(http.StatusCreated, response)
}

func (h *httpHandler) handleDocument(c *gin.Context) {
	doc, ok := h.documents.Get(c.Param("ref"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "document_not_found"})
		return
	}
	disposition := "inline"
	if c.Query("download") == "1" {
		disposition = "attachment"
	}
	c.Header("Content-Disposition", fmt.Sprintf(`%s; filename="%s"`, disposition, doc.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "application/pdf", doc.Bytes)
}

func (h *httpHandler) threadKey(c *gin.Context) (chat.ThreadKey, bool) {
	key, err := chat.NewThreadKey(c.Param("peer"), c.Query("role"))
	if err != nil {
		h.respondError(c, "thread", err)
		return chat.ThreadKey{}, false
	}
	return key, true
}

func (h *httpHandler) handleThread(c *gin.Context) {
	key, ok := h.threadKey(c)
	if !ok {
		return
	}
	messages, err := h.threads.Messages(c.Request.Context(), key)
	if err != nil {
		h.respondError(c, "thread", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thread": key, "messages": messages, "languages": chat.Languages})
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

func (h *httpHandler) handleSendMessage(c *gin.Context) {
	key, ok := h.threadKey(c)
	if !ok {
		return
	}
	var request sendMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	messages, err := h.conversations.Send(c.Request.Context(), key, request.Text)
	if err != nil {
		if messages != nil {
			// the failure notice is already part of the thread
			c.JSON(http.StatusBadGateway, gin.H{"error": "chat_unavailable", "messages": messages})
			return
		}
		h.respondError(c, "chat_send", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type translateRequest struct {
	Language string `json:"language"`
}

func (h *httpHandler) handleTranslate(c *gin.Context) {
	key, ok := h.threadKey(c)
	if !ok {
		return
	}
	var request translateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	message, err := h.conversations.TranslateLast(c.Request.Context(), key, request.Language)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": message})
	case errors.Is(err, chat.ErrUnsupportedLanguage), errors.Is(err, chat.ErrNoReply):
		h.respondError(c, "chat_translate", err)
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "translate_unavailable"})
	}
}

type contractRequestPayload struct {
	RoomID string `json:"roomId"`
}

func (h *httpHandler) handleContractRequest(c *gin.Context) {
	key, ok := h.threadKey(c)
	if !ok {
		return
	}
	var request contractRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.RoomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	message, err := h.conversations.RequestContract(c.Request.Context(), key, request.RoomID)
	if err != nil {
		h.respondError(c, "contract_request", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": message})
}
