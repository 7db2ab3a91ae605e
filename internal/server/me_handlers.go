package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/konnection/roomstate/internal/userdata"
)

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	profile, err := h.userData.LoadProfile(c.Request.Context())
	if err != nil {
		h.respondError(c, "profile", err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handlePatchProfile(c *gin.Context) {
	var patch userdata.ProfilePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	profile, err := h.userData.SaveProfile(c.Request.Context(), patch)
	if err != nil {
		h.respondError(c, "profile_save", err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleFavorites(c *gin.Context) {
	favorites, err := h.userData.Favorites(c.Request.Context())
	if err != nil {
		h.respondError(c, "favorites", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ids": favorites.IDs()})
}

func (h *httpHandler) handleToggleFavorite(c *gin.Context) {
	id := c.Param("id")
	favorite, err := h.userData.ToggleFavorite(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "favorite_toggle", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "favorite": favorite})
}

func (h *httpHandler) handleRecents(c *gin.Context) {
	recents, err := h.userData.Recents(c.Request.Context())
	if err != nil {
		h.respondError(c, "recents", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recents": recents})
}

type recentRequestPayload struct {
	ListingID string `json:"listingId"`
}

func (h *httpHandler) handlePushRecent(c *gin.Context) {
	var request recentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	recents, err := h.userData.PushRecent(c.Request.Context(), request.ListingID)
	if err != nil {
		h.respondError(c, "recent_push", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recents": recents})
}

func (h *httpHandler) handleClearRecents(c *gin.Context) {
	if err := h.userData.ClearRecents(c.Request.Context()); err != nil {
		h.respondError(c, "recents_clear", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleContracts(c *gin.Context) {
	records, err := h.userData.Contracts(c.Request.Context())
	if err != nil {
		h.respondError(c, "contracts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contracts": records})
}

func (h *httpHandler) handleAppendContract(c *gin.Context) {
	var record userdata.ContractRecord
	if err := c.ShouldBindJSON(&record); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	stored, err := h.userData.AppendContract(c.Request.Context(), record)
	if err != nil {
		h.respondError(c, "contract_append", err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

// handleSaved resolves the favorite ids into listings, skipping ids that no
// longer resolve.
func (h *httpHandler) handleSaved(c *gin.Context) {
	favorites, err := h.userData.Favorites(c.Request.Context())
	if err != nil {
		h.respondError(c, "saved", err)
		return
	}
	resolved := h.catalog.FetchMany(c.Request.Context(), favorites.IDs())
	views := make([]listingView, 0, len(resolved))
	for _, listing := range resolved {
		views = append(views, newListingView(listing))
	}
	c.JSON(http.StatusOK, gin.H{"listings": views})
}
