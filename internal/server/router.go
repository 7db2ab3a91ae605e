package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/konnection/roomstate/internal/catalog"
	"github.com/konnection/roomstate/internal/chat"
	"github.com/konnection/roomstate/internal/contracts"
	"github.com/konnection/roomstate/internal/kvstore"
	"github.com/konnection/roomstate/internal/listings"
	"github.com/konnection/roomstate/internal/session"
	"github.com/konnection/roomstate/internal/userdata"
	"github.com/konnection/roomstate/internal/validation"
	"go.uber.org/zap"
)

const (
	sessionEmailContextKey   = "roomstate_session_email"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingSessions      = errors.New("session manager dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingUserData      = errors.New("user data service dependency required")
	errMissingCatalog       = errors.New("catalog service dependency required")
	errMissingDrafts        = errors.New("draft registry dependency required")
	errMissingChat          = errors.New("chat dependencies required")
	errMissingDocuments     = errors.New("document vault dependency required")
	errMissingChanges       = errors.New("change feed dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// SessionTokenManager issues and validates the tokens handed to tabs on sign-in.
type SessionTokenManager interface {
	IssueSessionToken(ctx context.Context, email string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// ChangeFeed delivers store change notifications.
type ChangeFeed interface {
	Subscribe(ctx context.Context, categories ...kvstore.Category) (<-chan kvstore.ChangeEvent, func())
}

type Dependencies struct {
	Sessions          *session.Manager
	TokenManager      SessionTokenManager
	UserData          *userdata.Service
	Catalog           *catalog.Service
	Drafts            *listings.Registry
	Threads           *chat.Threads
	Conversations     *chat.Conversation
	Documents         *contracts.Vault
	Changes           ChangeFeed
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errMissingSessions
	case deps.TokenManager == nil:
		return nil, errMissingTokenManager
	case deps.UserData == nil:
		return nil, errMissingUserData
	case deps.Catalog == nil:
		return nil, errMissingCatalog
	case deps.Drafts == nil:
		return nil, errMissingDrafts
	case deps.Threads == nil || deps.Conversations == nil:
		return nil, errMissingChat
	case deps.Documents == nil:
		return nil, errMissingDocuments
	case deps.Changes == nil:
		return nil, errMissingChanges
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:      deps.Sessions,
		tokens:        deps.TokenManager,
		userData:      deps.UserData,
		catalog:       deps.Catalog,
		drafts:        deps.Drafts,
		threads:       deps.Threads,
		conversations: deps.Conversations,
		documents:     deps.Documents,
		changes:       deps.Changes,
		upgrader:      newUpgrader(deps.AllowedOrigins),
		heartbeat:     heartbeat,
		logger:        logger,
	}

	// identity switches happen here, so these stay outside the guard
	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)
	router.POST("/auth/logout", handler.handleLogout)
	router.GET("/auth/session", handler.handleSession)

	api := router.Group("/")
	api.Use(handler.authorizeRequest)

	api.GET("/me/profile", handler.handleGetProfile)
	api.PATCH("/me/profile", handler.handlePatchProfile)
	api.GET("/me/favorites", handler.handleFavorites)
	api.POST("/me/favorites/:id/toggle", handler.handleToggleFavorite)
	api.GET("/me/recents", handler.handleRecents)
	api.POST("/me/recents", handler.handlePushRecent)
	api.DELETE("/me/recents", handler.handleClearRecents)
	api.GET("/me/contracts", handler.handleContracts)
	api.POST("/me/contracts", handler.handleAppendContract)
	api.GET("/me/saved", handler.handleSaved)

	api.GET("/listings", handler.handleSearchListings)
	api.POST("/listings", handler.handlePublishListing)
	api.GET("/listings/drafts", handler.handleDrafts)
	api.GET("/listings/live", handler.handleLiveSearch)
	api.GET("/listings/:id", handler.handleGetListing)
	api.PUT("/listings/:id", handler.handleUpdateListing)
	api.DELETE("/listings/:id", handler.handleDeleteListing)

	api.POST("/contracts/document", handler.handleBuildContract)
	api.GET("/documents/:ref", handler.handleDocument)

	api.GET("/chat/threads/:peer", handler.handleThread)
	api.POST("/chat/threads/:peer/messages", handler.handleSendMessage)
	api.POST("/chat/threads/:peer/translate", handler.handleTranslate)
	api.POST("/chat/threads/:peer/contract-request", handler.handleContractRequest)

	api.GET("/events", handler.handleEventStream)
	api.GET("/events/ws", handler.handleEventSocket)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowAllOrigins = true
		config.AllowCredentials = false
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

type httpHandler struct {
	sessions      *session.Manager
	tokens        SessionTokenManager
	userData      *userdata.Service
	catalog       *catalog.Service
	drafts        *listings.Registry
	threads       *chat.Threads
	conversations *chat.Conversation
	documents     *contracts.Vault
	changes       ChangeFeed
	upgrader      *websocket.Upgrader
	heartbeat     time.Duration
	logger        *zap.Logger
}

// authorizeRequest lets tokenless requests through under the device session.
// A presented token must be valid and still name the signed-in identity.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, present, ok := bearerToken(c)
	if !present {
		c.Next()
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	current, err := h.sessions.CurrentSession(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to read session", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session_unavailable"})
		return
	}
	if current == nil || current.Email != subject {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "identity_changed"})
		return
	}
	c.Set(sessionEmailContextKey, subject)
	c.Next()
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter that EventSource and WebSocket clients use.
func bearerToken(c *gin.Context) (token string, present bool, ok bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if query := strings.TrimSpace(c.Query("access_token")); query != "" {
			return query, true, true
		}
		return "", false, false
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", true, false
	}
	token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, true, token != ""
}

// respondError maps service errors onto status codes and stable error codes.
func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	var validationErr *validation.Error
	var loginErr *session.LoginError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "fields": validationErr.Fields})
	case errors.As(err, &loginErr):
		c.JSON(http.StatusUnauthorized, gin.H{"error": string(loginErr.Reason), "message": loginErr.Message()})
	case errors.Is(err, session.ErrNotSignedIn), errors.Is(err, session.ErrNoAccount):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_signed_in"})
	case errors.Is(err, catalog.ErrListingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "listing_not_found"})
	case errors.Is(err, catalog.ErrUnknownSort),
		errors.Is(err, userdata.ErrEmptyListingID),
		errors.Is(err, userdata.ErrInvalidContract),
		errors.Is(err, listings.ErrUnsupportedImage),
		errors.Is(err, chat.ErrEmptyPeer),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrUnsupportedLanguage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, chat.ErrNoReply):
		c.JSON(http.StatusConflict, gin.H{"error": "no_reply"})
	default:
		h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": operation + "_failed"})
	}
}
