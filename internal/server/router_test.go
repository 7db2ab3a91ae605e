package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/konnection/roomstate/internal/auth"
	"github.com/konnection/roomstate/internal/catalog"
	"github.com/konnection/roomstate/internal/chat"
	"github.com/konnection/roomstate/internal/contracts"
	"github.com/konnection/roomstate/internal/kvstore"
	"github.com/konnection/roomstate/internal/kvstore/kvstoretest"
	"github.com/konnection/roomstate/internal/listings"
	"github.com/konnection/roomstate/internal/remote"
	"github.com/konnection/roomstate/internal/session"
	"github.com/konnection/roomstate/internal/userdata"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type stubRooms struct {
	mu        sync.Mutex
	rooms     map[string]listings.RoomRecord
	listErr   error
	createID  string
	createErr error
}

func (s *stubRooms) ListRooms(context.Context, string) ([]listings.RoomRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	records := make([]listings.RoomRecord, 0, len(s.rooms))
	for _, record := range s.rooms {
		records = append(records, record)
	}
	return records, nil
}

func (s *stubRooms) SearchRooms(ctx context.Context, _ remote.SearchParams) ([]listings.RoomRecord, error) {
	return s.ListRooms(ctx, catalog.SortLatest)
}

func (s *stubRooms) GetRoom(_ context.Context, id string) (listings.RoomRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.rooms[id]
	if !ok {
		return listings.RoomRecord{}, remote.ErrNotFound
	}
	return record, nil
}

func (s *stubRooms) CreateRoom(context.Context, listings.DraftForm, []listings.ImageUpload) (string, error) {
	return s.createID, s.createErr
}

func (s *stubRooms) UpdateRoom(_ context.Context, id string, _ listings.DraftForm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; !ok {
		return remote.ErrNotFound
	}
	return nil
}

func (s *stubRooms) DeleteRoom(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; !ok {
		return remote.ErrNotFound
	}
	delete(s.rooms, id)
	return nil
}

type stubAssistant struct {
	reply   string
	chatErr error
}

func (s *stubAssistant) Chat(context.Context, string) (string, error) {
	return s.reply, s.chatErr
}

func (s *stubAssistant) Translate(_ context.Context, message, language string) (string, error) {
	return "[" + language + "] " + message, nil
}

type testServer struct {
	handler   http.Handler
	store     *kvstore.Store
	tokens    *auth.TokenIssuer
	rooms     *stubRooms
	assistant *stubAssistant
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := kvstoretest.NewStore(t)
	sessions, err := session.NewManager(session.ManagerConfig{Store: store, Clock: clock, HashCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}
	userData, err := userdata.NewService(userdata.ServiceConfig{Store: store, Identities: sessions, Clock: clock})
	if err != nil {
		t.Fatalf("new user data service: %v", err)
	}
	drafts, err := listings.NewRegistry(listings.RegistryConfig{Store: store, Clock: clock})
	if err != nil {
		t.Fatalf("new draft registry: %v", err)
	}
	rooms := &stubRooms{rooms: map[string]listings.RoomRecord{
		"1": {RoomID: "1", Address: "Seoul Mapo-gu", MonthlyRent: 650000, Deposit: 0, RoomType: "ONE_ROOM", AreaM2: 20},
	}}
	catalogService, err := catalog.NewService(rooms, drafts, zap.NewNop())
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	threads, err := chat.NewThreads(chat.ThreadsConfig{Store: store, Clock: clock})
	if err != nil {
		t.Fatalf("new threads: %v", err)
	}
	assistant := &stubAssistant{reply: "Hello!"}
	conversations, err := chat.NewConversation(threads, assistant, zap.NewNop())
	if err != nil {
		t.Fatalf("new conversation: %v", err)
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte("test-signing-secret"), Clock: clock})
	if err != nil {
		t.Fatalf("new token issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:          sessions,
		TokenManager:      tokens,
		UserData:          userData,
		Catalog:           catalogService,
		Drafts:            drafts,
		Threads:           threads,
		Conversations:     conversations,
		Documents:         contracts.NewVault(time.Minute),
		Changes:           store,
		AllowedOrigins:    []string{"http://localhost:5173"},
		HeartbeatInterval: time.Hour,
		Logger:            zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return &testServer{handler: handler, store: store, tokens: tokens, rooms: rooms, assistant: assistant}
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s *testServer) register(t *testing.T, name, email string) string {
	t.Helper()
	recorder := s.do(t, http.MethodPost, "/auth/register", gin.H{"name": name, "email": email, "password": "abc12345"}, "")
	if recorder.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", email, recorder.Code, recorder.Body.String())
	}
	var payload sessionResponsePayload
	decode(t, recorder, &payload)
	return payload.AccessToken
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode %q: %v", recorder.Body.String(), err)
	}
}

func TestRegisterAndLoginReportDistinctFailures(testContext *testing.T) {
	server := newTestServer(testContext)

	recorder := server.do(testContext, http.MethodPost, "/auth/login", gin.H{"email": "a@x.com", "password": "abc12345"}, "")
	if recorder.Code != http.StatusUnauthorized || !strings.Contains(recorder.Body.String(), `"no_account"`) {
		testContext.Fatalf("expected no_account, got %d %s", recorder.Code, recorder.Body.String())
	}

	token := server.register(testContext, "Ann", "a@x.com")
	if token == "" {
		testContext.Fatal("expected access token on register")
	}

	recorder = server.do(testContext, http.MethodPost, "/auth/login", gin.H{"email": "a@x.com", "password": "wrong"}, "")
	if recorder.Code != http.StatusUnauthorized || !strings.Contains(recorder.Body.String(), `"password_mismatch"`) {
		testContext.Fatalf("expected password_mismatch, got %d %s", recorder.Code, recorder.Body.String())
	}
	recorder = server.do(testContext, http.MethodPost, "/auth/login", gin.H{"email": "b@x.com", "password": "abc12345"}, "")
	if recorder.Code != http.StatusUnauthorized || !strings.Contains(recorder.Body.String(), `"email_mismatch"`) {
		testContext.Fatalf("expected email_mismatch, got %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = server.do(testContext, http.MethodPost, "/auth/login", gin.H{"email": "a@x.com", "password": "abc12345"}, "")
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected login success, got %d %s", recorder.Code, recorder.Body.String())
	}
	var payload sessionResponsePayload
	decode(testContext, recorder, &payload)
	if payload.Session == nil || payload.Session.Name != "Ann" || payload.TokenType != "Bearer" {
		testContext.Fatalf("unexpected login payload %+v", payload)
	}
}

func TestRegisterRejectsInvalidPayload(testContext *testing.T) {
	server := newTestServer(testContext)
	recorder := server.do(testContext, http.MethodPost, "/auth/register", gin.H{"name": "Ann", "email": "nope", "password": "short"}, "")
	if recorder.Code != http.StatusBadRequest {
		testContext.Fatalf("expected 400, got %d", recorder.Code)
	}
	var payload struct {
		Error  string `json:"error"`
		Fields []struct {
			Field string `json:"field"`
		} `json:"fields"`
	}
	decode(testContext, recorder, &payload)
	if payload.Error != "invalid_request" || len(payload.Fields) != 2 {
		testContext.Fatalf("unexpected validation payload %+v", payload)
	}
}

func TestStaleTokenIsRejectedAfterIdentityChange(testContext *testing.T) {
	server := newTestServer(testContext)
	annToken := server.register(testContext, "Ann", "a@x.com")

	if recorder := server.do(testContext, http.MethodGet, "/me/favorites", nil, annToken); recorder.Code != http.StatusOK {
		testContext.Fatalf("expected current token to pass, got %d", recorder.Code)
	}

	server.register(testContext, "Bob", "b@x.com")
	recorder := server.do(testContext, http.MethodPost, "/me/favorites/1/toggle", nil, annToken)
	if recorder.Code != http.StatusConflict || !strings.Contains(recorder.Body.String(), "identity_changed") {
		testContext.Fatalf("expected identity_changed, got %d %s", recorder.Code, recorder.Body.String())
	}

	if recorder := server.do(testContext, http.MethodPost, "/auth/logout", nil, ""); recorder.Code != http.StatusNoContent {
		testContext.Fatalf("expected logout 204, got %d", recorder.Code)
	}
	if recorder := server.do(testContext, http.MethodGet, "/me/favorites", nil, annToken); recorder.Code != http.StatusConflict {
		testContext.Fatalf("expected signed-out token to conflict, got %d", recorder.Code)
	}
	if recorder := server.do(testContext, http.MethodGet, "/me/favorites", nil, ""); recorder.Code != http.StatusOK {
		testContext.Fatalf("expected guest access without token, got %d", recorder.Code)
	}
}

func TestFavoritesResolveToSavedListings(testContext *testing.T) {
	server := newTestServer(testContext)
	token := server.register(testContext, "Ann", "a@x.com")

	recorder := server.do(testContext, http.MethodPost, "/me/favorites/1/toggle", nil, token)
	if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), `"favorite":true`) {
		testContext.Fatalf("unexpected toggle response %d %s", recorder.Code, recorder.Body.String())
	}
	server.do(testContext, http.MethodPost, "/me/favorites/missing/toggle", nil, token)

	recorder = server.do(testContext, http.MethodGet, "/me/saved", nil, token)
	var payload struct {
		Listings []listingView `json:"listings"`
	}
	decode(testContext, recorder, &payload)
	if len(payload.Listings) != 1 || payload.Listings[0].ID != "1" {
		testContext.Fatalf("expected only listing 1 to resolve, got %+v", payload.Listings)
	}
	if payload.Listings[0].DepositText != listings.NoDepositLabel {
		testContext.Fatalf("expected no deposit label, got %q", payload.Listings[0].DepositText)
	}
}

func TestGetListingRecordsRecentView(testContext *testing.T) {
	server := newTestServer(testContext)

	recorder := server.do(testContext, http.MethodGet, "/listings/1", nil, "")
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected 200, got %d %s", recorder.Code, recorder.Body.String())
	}
	var view listingView
	decode(testContext, recorder, &view)
	if view.PriceText != "₩65만" || view.Position == nil {
		testContext.Fatalf("unexpected listing view %+v", view)
	}

	recorder = server.do(testContext, http.MethodGet, "/me/recents", nil, "")
	if !strings.Contains(recorder.Body.String(), `"id":"1"`) {
		testContext.Fatalf("expected recent view for listing 1, got %s", recorder.Body.String())
	}

	if recorder := server.do(testContext, http.MethodGet, "/listings/404", nil, ""); recorder.Code != http.StatusNotFound {
		testContext.Fatalf("expected 404 for unknown listing, got %d", recorder.Code)
	}
}

func TestSearchDegradesWhenCatalogFails(testContext *testing.T) {
	server := newTestServer(testContext)
	server.rooms.listErr = errors.New("connection refused")

	recorder := server.do(testContext, http.MethodGet, "/listings?sort=latest", nil, "")
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected 200, got %d", recorder.Code)
	}
	var payload searchResponsePayload
	decode(testContext, recorder, &payload)
	if !payload.Degraded || payload.Notice == "" {
		testContext.Fatalf("expected degraded result, got %+v", payload)
	}

	if recorder := server.do(testContext, http.MethodGet, "/listings?sort=random", nil, ""); recorder.Code != http.StatusBadRequest {
		testContext.Fatalf("expected 400 for unknown sort, got %d", recorder.Code)
	}
}

func publishRequest(t *testing.T) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fields := map[string]string{
		"address":     "Busan Haeundae-gu",
		"monthlyRent": "500000",
		"deposit":     "0",
		"roomType":    "ONE_ROOM",
		"areaM2":      "18",
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	part, err := writer.CreateFormFile("images", "room.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(pngHeader); err != nil {
		t.Fatalf("write image: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	request := httptest.NewRequest(http.MethodPost, "/listings", body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	return request
}

func TestPublishListingKeepsDraft(testContext *testing.T) {
	server := newTestServer(testContext)
	server.rooms.createID = "77"

	recorder := httptest.NewRecorder()
	server.handler.ServeHTTP(recorder, publishRequest(testContext))
	if recorder.Code != http.StatusCreated {
		testContext.Fatalf("expected 201, got %d %s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		Listing listingView `json:"listing"`
	}
	decode(testContext, recorder, &payload)
	if payload.Listing.ID != "77" || !strings.HasPrefix(payload.Listing.Image, "data:image/png;base64,") {
		testContext.Fatalf("unexpected published listing %+v", payload.Listing.Listing)
	}

	server.rooms.createErr = errors.New("unreachable")
	recorder = httptest.NewRecorder()
	server.handler.ServeHTTP(recorder, publishRequest(testContext))
	if recorder.Code != http.StatusAccepted {
		testContext.Fatalf("expected 202 when the catalog is down, got %d", recorder.Code)
	}
	decode(testContext, recorder, &payload)
	if !strings.HasPrefix(payload.Listing.ID, listings.LocalIDPrefix) {
		testContext.Fatalf("expected local id, got %q", payload.Listing.ID)
	}

	recorder = server.do(testContext, http.MethodGet, "/listings/drafts", nil, "")
	var drafts struct {
		Listings []listingView `json:"listings"`
	}
	decode(testContext, recorder, &drafts)
	if len(drafts.Listings) != 2 || drafts.Listings[1].ID != "77" {
		testContext.Fatalf("expected both drafts newest first, got %+v", drafts.Listings)
	}
}

func TestUpdateAndDeleteListing(testContext *testing.T) {
	server := newTestServer(testContext)

	form := gin.H{"address": "Seoul Mapo-gu", "monthlyRent": 700000, "roomType": "ONE_ROOM"}
	if recorder := server.do(testContext, http.MethodPut, "/listings/1", form, ""); recorder.Code != http.StatusOK {
		testContext.Fatalf("expected 200 on update, got %d %s", recorder.Code, recorder.Body.String())
	}
	if recorder := server.do(testContext, http.MethodPut, "/listings/1", gin.H{"address": ""}, ""); recorder.Code != http.StatusBadRequest {
		testContext.Fatalf("expected 400 for invalid form, got %d", recorder.Code)
	}
	if recorder := server.do(testContext, http.MethodDelete, "/listings/1", nil, ""); recorder.Code != http.StatusNoContent {
		testContext.Fatalf("expected 204 on delete, got %d", recorder.Code)
	}
	if recorder := server.do(testContext, http.MethodDelete, "/listings/1", nil, ""); recorder.Code != http.StatusNotFound {
		testContext.Fatalf("expected 404 on second delete, got %d", recorder.Code)
	}
}

func TestContractDocumentIsAttachedAndDownloadable(testContext *testing.T) {
	server := newTestServer(testContext)
	server.register(testContext, "Ann", "a@x.com")

	recorder := server.do(testContext, http.MethodPost, "/contracts/document", gin.H{
		"roomId":        "1",
		"address":       "Seoul Mapo-gu",
		"monthlyAmount": 50,
		"depositAmount": 0,
		"tenantName":    "Ann Lee",
		"tenantEmail":   "a@x.com",
		"tenantPhone":   "010-1234-5678",
		"moveInDate":    "2026-11-01",
		"title":         "ONE ROOM",
		"thread":        gin.H{"peer": "landlord-1"},
	}, "")
	if recorder.Code != http.StatusCreated {
		testContext.Fatalf("expected 201, got %d %s", recorder.Code, recorder.Body.String())
	}
	var payload contractDocumentResponse
	decode(testContext, recorder, &payload)
	if payload.Filename != "contract_room_1.pdf" || payload.Message == nil || payload.Contract.Status != userdata.ContractSent {
		testContext.Fatalf("unexpected contract response %+v", payload)
	}
	if !strings.Contains(strings.Join(payload.Summary, "\n"), listings.NoDepositLabel) {
		testContext.Fatalf("expected no deposit in summary, got %v", payload.Summary)
	}

	recorder = server.do(testContext, http.MethodGet, "/documents/"+payload.DocumentRef+"?download=1", nil, "")
	if recorder.Code != http.StatusOK || !bytes.HasPrefix(recorder.Body.Bytes(), []byte("%PDF")) {
		testContext.Fatalf("expected pdf download, got %d", recorder.Code)
	}
	if disposition := recorder.Header().Get("Content-Disposition"); disposition != `attachment; filename="contract_room_1.pdf"` {
		testContext.Fatalf("unexpected disposition %q", disposition)
	}

	recorder = server.do(testContext, http.MethodGet, "/chat/threads/landlord-1", nil, "")
	if !strings.Contains(recorder.Body.String(), `"type":"contract_pdf"`) {
		testContext.Fatalf("expected attachment in thread, got %s", recorder.Body.String())
	}
	if recorder := server.do(testContext, http.MethodGet, "/documents/doc-unknown", nil, ""); recorder.Code != http.StatusNotFound {
		testContext.Fatalf("expected 404 for unknown document, got %d", recorder.Code)
	}
}

func TestSendMessageFailureRecordsNotice(testContext *testing.T) {
	server := newTestServer(testContext)

	recorder := server.do(testContext, http.MethodPost, "/chat/threads/landlord-1/messages", gin.H{"text": "Is it available?"}, "")
	if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), "Hello!") {
		testContext.Fatalf("unexpected send response %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = server.do(testContext, http.MethodPost, "/chat/threads/landlord-1/translate", gin.H{"language": "ko"}, "")
	if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), "[ko] Hello!") {
		testContext.Fatalf("unexpected translate response %d %s", recorder.Code, recorder.Body.String())
	}
	if recorder := server.do(testContext, http.MethodPost, "/chat/threads/landlord-1/translate", gin.H{"language": "xx"}, ""); recorder.Code != http.StatusBadRequest {
		testContext.Fatalf("expected 400 for unsupported language, got %d", recorder.Code)
	}

	server.assistant.chatErr = errors.New("upstream down")
	recorder = server.do(testContext, http.MethodPost, "/chat/threads/landlord-1/messages", gin.H{"text": "Hello?"}, "")
	if recorder.Code != http.StatusBadGateway {
		testContext.Fatalf("expected 502, got %d", recorder.Code)
	}
	var payload struct {
		Messages []chat.Message `json:"messages"`
	}
	decode(testContext, recorder, &payload)
	if len(payload.Messages) != 2 || !payload.Messages[1].Failed || payload.Messages[1].Text != chat.SendFailureNotice {
		testContext.Fatalf("expected failure notice, got %+v", payload.Messages)
	}
}

func TestProfilePatchMergesFields(testContext *testing.T) {
	server := newTestServer(testContext)
	token := server.register(testContext, "Ann", "a@x.com")

	recorder := server.do(testContext, http.MethodPatch, "/me/profile", gin.H{"phone": "010-1111-2222"}, token)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected 200, got %d %s", recorder.Code, recorder.Body.String())
	}
	recorder = server.do(testContext, http.MethodPatch, "/me/profile", gin.H{"name": "Annie"}, token)
	var profile userdata.Profile
	decode(testContext, recorder, &profile)
	if profile.Name != "Annie" || profile.Phone != "010-1111-2222" || profile.Email != "a@x.com" {
		testContext.Fatalf("unexpected merged profile %+v", profile)
	}

	recorder = server.do(testContext, http.MethodGet, "/auth/session", nil, "")
	if !strings.Contains(recorder.Body.String(), `"name":"Annie"`) {
		testContext.Fatalf("expected session rename, got %s", recorder.Body.String())
	}
}
