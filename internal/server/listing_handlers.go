package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/konnection/roomstate/internal/catalog"
	"github.com/konnection/roomstate/internal/listings"
	"go.uber.org/zap"
)

const (
	maxImageUploadBytes = 10 << 20
	maxImagesPerListing = 10
)

var errTooManyImages = errors.New("too many images")

// listingView adds the display strings and resolved position to a listing.
type listingView struct {
	listings.Listing
	PriceText   string                `json:"priceText"`
	DepositText string                `json:"depositText"`
	Position    *listings.Coordinates `json:"position"`
}

func newListingView(listing listings.Listing) listingView {
	return listingView{
		Listing:     listing,
		PriceText:   listing.PriceText(),
		DepositText: listing.DepositText(),
		Position:    listing.Position(),
	}
}

func newListingViews(items []listings.Listing) []listingView {
	views := make([]listingView, 0, len(items))
	for _, listing := range items {
		views = append(views, newListingView(listing))
	}
	return views
}

type searchResponsePayload struct {
	Listings []listingView `json:"listings"`
	Degraded bool          `json:"degraded"`
	Notice   string        `json:"notice,omitempty"`
}

func newSearchResponse(result catalog.Result) searchResponsePayload {
	return searchResponsePayload{
		Listings: newListingViews(result.Listings),
		Degraded: result.Degraded,
		Notice:   result.Notice,
	}
}

func (h *httpHandler) handleSearchListings(c *gin.Context) {
	var query catalog.Query
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if keyword := c.Query("q"); keyword != "" {
		query.Keyword = keyword
	}
	result, err := h.catalog.Search(c.Request.Context(), query)
	if err != nil {
		h.respondError(c, "search", err)
		return
	}
	c.JSON(http.StatusOK, newSearchResponse(result))
}

func (h *httpHandler) handleGetListing(c *gin.Context) {
	listing, err := h.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "listing", err)
		return
	}
	if _, err := h.userData.PushRecent(c.Request.Context(), listing.ID); err != nil {
		h.logger.Warn("failed to record recent view", zap.String("listing_id", listing.ID), zap.Error(err))
	}
	c.JSON(http.StatusOK, newListingView(listing))
}

func (h *httpHandler) handleDrafts(c *gin.Context) {
	drafts, err := h.drafts.List(c.Request.Context())
	if err != nil {
		h.respondError(c, "drafts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": newListingViews(drafts)})
}

// handlePublishListing accepts the listing form as multipart fields with
// photos under "images".
func (h *httpHandler) handlePublishListing(c *gin.Context) {
	var form listings.DraftForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	uploads, err := readImageUploads(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_images", "message": err.Error()})
		return
	}
	listing, err := h.catalog.Publish(c.Request.Context(), form, uploads)
	if err != nil && listing.ID == "" {
		h.respondError(c, "publish", err)
		return
	}
	if err != nil {
		c.JSON(http.StatusAccepted, gin.H{
			"listing": newListingView(listing),
			"notice":  "The listing was saved on this device but could not be published yet.",
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"listing": newListingView(listing)})
}

func (h *httpHandler) handleUpdateListing(c *gin.Context) {
	var form listings.DraftForm
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	id := c.Param("id")
	if err := h.catalog.Update(c.Request.Context(), id, form); err != nil {
		h.respondError(c, "listing_update", err)
		return
	}
	listing, err := h.catalog.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "listing", err)
		return
	}
	c.JSON(http.StatusOK, newListingView(listing))
}

func (h *httpHandler) handleDeleteListing(c *gin.Context) {
	if err := h.catalog.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, "listing_delete", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func readImageUploads(c *gin.Context) ([]listings.ImageUpload, error) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		return nil, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}
	files := form.File["images"]
	if len(files) > maxImagesPerListing {
		return nil, fmt.Errorf("%w: %d > %d", errTooManyImages, len(files), maxImagesPerListing)
	}
	uploads := make([]listings.ImageUpload, 0, len(files))
	for _, file := range files {
		data, err := readUpload(file)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, listings.ImageUpload{Name: file.Filename, Data: data})
	}
	return uploads, nil
}

func readUpload(file *multipart.FileHeader) ([]byte, error) {
	if file.Size > maxImageUploadBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", file.Filename, maxImageUploadBytes)
	}
	reader, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(io.LimitReader(reader, maxImageUploadBytes))
}

type liveSearchResult struct {
	Ticket catalog.Ticket        `json:"ticket"`
	Query  catalog.Query         `json:"query"`
	Result searchResponsePayload `json:"result"`
}

// handleLiveSearch runs the queries a tab sends while the user types. Only the
// result of the newest query is written back.
func (h *httpHandler) handleLiveSearch(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("live search upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	var writeMu sync.Mutex
	live := catalog.NewLiveSearch(h.catalog, h.logger, func(ticket catalog.Ticket, query catalog.Query, result catalog.Result) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(liveSearchResult{Ticket: ticket, Query: query, Result: newSearchResponse(result)}); err != nil {
			h.logger.Debug("live search write failed", zap.Error(err))
			cancel()
		}
	})
	defer live.Wait()

	for {
		var query catalog.Query
		if err := conn.ReadJSON(&query); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("live search read ended", zap.Error(err))
			}
			cancel()
			return
		}
		live.Submit(ctx, query)
	}
}
