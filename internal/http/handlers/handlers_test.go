package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-market-watch/internal/domain"
	"github.com/tbourn/go-market-watch/internal/repo"
	"github.com/tbourn/go-market-watch/internal/services"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

//
// Fake services
//

type fakeAccounts struct {
	views     []services.AccountView
	getErr    error
	updateErr error
	deleteErr error

	gotUpdate struct {
		id                       string
		displayName, phone, pxID *string
	}
}

func (f *fakeAccounts) List(ctx context.Context) ([]services.AccountView, error) {
	return f.views, nil
}

func (f *fakeAccounts) Get(ctx context.Context, id string) (*services.AccountView, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for i := range f.views {
		if f.views[i].ID == id {
			return &f.views[i], nil
		}
	}
	return nil, services.ErrAccountNotFound
}

func (f *fakeAccounts) Update(ctx context.Context, id string, displayName, phone, proxyID *string) error {
	f.gotUpdate.id = id
	f.gotUpdate.displayName = displayName
	f.gotUpdate.phone = phone
	f.gotUpdate.pxID = proxyID
	return f.updateErr
}

func (f *fakeAccounts) Delete(ctx context.Context, id string) error {
	return f.deleteErr
}

type fakeProducts struct {
	tracked  []domain.Product
	trackErr error
	linkRec  *domain.ConsensusRecord
	linkErr  error
}

func (f *fakeProducts) Track(ctx context.Context, externalID string) (*domain.Product, error) {
	if f.trackErr != nil {
		return nil, f.trackErr
	}
	p := domain.Product{ID: "p1", ExternalID: externalID}
	return &p, nil
}

func (f *fakeProducts) List(ctx context.Context) ([]domain.Product, error) {
	return f.tracked, nil
}

func (f *fakeProducts) Delete(ctx context.Context, id string) error { return nil }

func (f *fakeProducts) Link(ctx context.Context, idOrExternalID string) (*domain.ConsensusRecord, error) {
	if f.linkErr != nil {
		return nil, f.linkErr
	}
	return f.linkRec, nil
}

type fakeProxies struct {
	proxies    []domain.Proxy
	createErr  error
	statusErr  error
	gotStatus  string
	gotStatID  string
}

func (f *fakeProxies) Create(ctx context.Context, name, host string, port int, username, password string) (*domain.Proxy, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &domain.Proxy{ID: "px1", Name: name, Host: host, Port: port, Password: password, Status: "active"}, nil
}

func (f *fakeProxies) List(ctx context.Context) ([]domain.Proxy, error) { return f.proxies, nil }

func (f *fakeProxies) Get(ctx context.Context, id string) (*domain.Proxy, error) {
	for i := range f.proxies {
		if f.proxies[i].ID == id {
			return &f.proxies[i], nil
		}
	}
	return nil, services.ErrProxyNotFound
}

func (f *fakeProxies) ListAvailable(ctx context.Context) ([]domain.Proxy, error) {
	out := make([]domain.Proxy, 0, len(f.proxies))
	for _, p := range f.proxies {
		if p.Status == domain.ProxyStatusActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProxies) UpdateStatus(ctx context.Context, id, status string) error {
	if f.statusErr != nil {
		return f.statusErr
	}
	f.gotStatID = id
	f.gotStatus = status
	return nil
}

func (f *fakeProxies) Delete(ctx context.Context, id string) error { return nil }

//
// Harness
//

type testEnv struct {
	accounts *fakeAccounts
	products *fakeProducts
	proxies  *fakeProxies
	registry *services.SessionRegistry
	h        *Handlers
	r        *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		accounts: &fakeAccounts{},
		products: &fakeProducts{},
		proxies:  &fakeProxies{},
		registry: services.NewSessionRegistry(zerolog.Nop()),
	}
	env.h = New(env.accounts, env.products, env.proxies, env.registry, nil, nil, nil)

	r := gin.New()
	r.POST("/accounts", env.h.BeginLogin)
	r.GET("/accounts", env.h.ListAccounts)
	r.GET("/accounts/:id", env.h.GetAccount)
	r.PUT("/accounts/:id", env.h.UpdateAccount)
	r.DELETE("/accounts/:id", env.h.DeleteAccount)
	r.POST("/products", env.h.TrackProduct)
	r.GET("/products", env.h.ListProducts)
	r.GET("/products/:id/link", env.h.ProductLink)
	r.DELETE("/products/:id", env.h.DeleteProduct)
	r.POST("/proxies", env.h.CreateProxy)
	r.GET("/proxies", env.h.ListProxies)
	r.GET("/proxies/available", env.h.ListAvailableProxies)
	r.PATCH("/proxies/:id/status", env.h.UpdateProxyStatus)
	env.r = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, w.Body.String())
	}
	return resp
}

//
// Accounts
//

func TestBeginLogin(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/accounts", BeginLoginRequest{Phone: "9991234567", DisplayName: "msk"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp BeginLoginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatalf("expected session id")
	}
	if resp.WebSocketURL != "/ws/auth/"+resp.SessionID {
		t.Fatalf("websocket_url = %q", resp.WebSocketURL)
	}

	// The session is registered but the flow has not started yet.
	sess, found := env.registry.Get(resp.SessionID)
	if !found {
		t.Fatalf("session not registered")
	}
	if sess.State() != services.StateStarted {
		t.Fatalf("state = %q, want %q", sess.State(), services.StateStarted)
	}
}

func TestBeginLogin_MissingPhone(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/accounts", map[string]string{"display_name": "x"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decodeError(t, w).Code; got != ErrCodeBadRequest {
		t.Fatalf("code = %q", got)
	}
}

func TestGetAccount_NotFoundEnvelope(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/accounts/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decodeError(t, w).Code; got != ErrCodeNotFound {
		t.Fatalf("code = %q", got)
	}
}

func TestUpdateAccount_PassesPointerSemantics(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/accounts/a1", map[string]any{"proxy_id": ""})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	got := env.accounts.gotUpdate
	if got.id != "a1" {
		t.Fatalf("id = %q", got.id)
	}
	if got.displayName != nil || got.phone != nil {
		t.Fatalf("absent fields must arrive nil")
	}
	if got.pxID == nil || *got.pxID != "" {
		t.Fatalf("empty proxy_id must arrive as empty string pointer")
	}
}

func TestUpdateAccount_UnknownProxy(t *testing.T) {
	env := newTestEnv(t)
	env.accounts.updateErr = services.ErrProxyNotFound

	w := env.do(t, http.MethodPut, "/accounts/a1", map[string]any{"proxy_id": "nope"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestDeleteAccount_NotFound(t *testing.T) {
	env := newTestEnv(t)
	env.accounts.deleteErr = services.ErrAccountNotFound

	w := env.do(t, http.MethodDelete, "/accounts/a1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestListAccounts_Paginates(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 25; i++ {
		env.accounts.views = append(env.accounts.views, services.AccountView{
			Account: domain.Account{ID: fmt.Sprintf("a%02d", i)},
		})
	}

	w := env.do(t, http.MethodGet, "/accounts?page=2&page_size=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ListAccountsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Accounts) != 10 || resp.Accounts[0].ID != "a10" {
		t.Fatalf("wrong page slice: %d items, first %q", len(resp.Accounts), resp.Accounts[0].ID)
	}
	if resp.Pagination.Total != 25 || resp.Pagination.TotalPages != 3 || !resp.Pagination.HasNext {
		t.Fatalf("pagination = %+v", resp.Pagination)
	}
}

func TestListAccounts_ClampsPageSize(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/accounts?page=0&page_size=9999", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ListAccountsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Pagination.Page != 1 || resp.Pagination.PageSize != 100 {
		t.Fatalf("pagination = %+v", resp.Pagination)
	}
}

//
// Products
//

func TestTrackProduct(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/products", TrackProductRequest{ExternalID: "221312891"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var p domain.Product
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.ExternalID != "221312891" {
		t.Fatalf("external id = %q", p.ExternalID)
	}
}

func TestTrackProduct_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	env.products.trackErr = services.ErrDuplicateProduct

	w := env.do(t, http.MethodPost, "/products", TrackProductRequest{ExternalID: "221312891"})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decodeError(t, w).Code; got != ErrCodeConflict {
		t.Fatalf("code = %q", got)
	}
}

func TestProductLink_NoDataVsNotFound(t *testing.T) {
	env := newTestEnv(t)

	env.products.linkErr = services.ErrNoSamples
	w := env.do(t, http.MethodGet, "/products/p1/link", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decodeError(t, w).Code; got != ErrCodeNoData {
		t.Fatalf("code = %q, want %q", got, ErrCodeNoData)
	}

	env.products.linkErr = services.ErrProductNotFound
	w = env.do(t, http.MethodGet, "/products/p1/link", nil)
	if got := decodeError(t, w).Code; got != ErrCodeNotFound {
		t.Fatalf("code = %q, want %q", got, ErrCodeNotFound)
	}
}

func TestProductLink_ReturnsRecord(t *testing.T) {
	env := newTestEnv(t)
	env.products.linkRec = &domain.ConsensusRecord{
		ProductID: "p1", SPP: 40, Dest: "d1", SampleCount: 3,
	}

	w := env.do(t, http.MethodGet, "/products/p1/link", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var rec domain.ConsensusRecord
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.SPP != 40 || rec.SampleCount != 3 {
		t.Fatalf("record = %+v", rec)
	}
}

//
// Proxies
//

func TestCreateProxy(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/proxies", CreateProxyRequest{
		Name: "resi-1", Host: "10.0.0.1", Port: 8080, Username: "u", Password: "hunter2",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var p domain.Proxy
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Name != "resi-1" || p.Status != "active" {
		t.Fatalf("proxy = %+v", p)
	}
	// Password must never serialize.
	if bytes.Contains(w.Body.Bytes(), []byte("hunter2")) {
		t.Fatalf("password leaked into response: %s", w.Body.String())
	}
}

func TestCreateProxy_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	env.proxies.createErr = services.ErrDuplicateProxy

	w := env.do(t, http.MethodPost, "/proxies", CreateProxyRequest{
		Name: "resi-1", Host: "10.0.0.1", Port: 8080,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestUpdateProxyStatus(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPatch, "/proxies/px1/status", UpdateProxyStatusRequest{Status: "disabled"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if env.proxies.gotStatID != "px1" || env.proxies.gotStatus != "disabled" {
		t.Fatalf("service saw (%q, %q)", env.proxies.gotStatID, env.proxies.gotStatus)
	}
}

func TestUpdateProxyStatus_Errors(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPatch, "/proxies/px1/status", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing status: status = %d", w.Code)
	}

	env.proxies.statusErr = services.ErrProxyNotFound
	w = env.do(t, http.MethodPatch, "/proxies/nope/status", UpdateProxyStatusRequest{Status: "active"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown proxy: status = %d", w.Code)
	}
	if resp := decodeError(t, w); resp.Code != ErrCodeNotFound {
		t.Fatalf("code = %q", resp.Code)
	}
}

func TestListAvailableProxies_FiltersDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.proxies.proxies = []domain.Proxy{
		{ID: "px1", Name: "resi-1", Status: domain.ProxyStatusActive},
		{ID: "px2", Name: "resi-2", Status: domain.ProxyStatusDisabled},
		{ID: "px3", Name: "resi-3", Status: domain.ProxyStatusActive},
	}

	w := env.do(t, http.MethodGet, "/proxies/available", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Proxies []domain.Proxy `json:"proxies"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Proxies) != 2 {
		t.Fatalf("available = %d, want 2", len(resp.Proxies))
	}
	for _, p := range resp.Proxies {
		if p.Status != domain.ProxyStatusActive {
			t.Fatalf("non-active proxy %q leaked into available list", p.ID)
		}
	}
}

//
// Scrape control (real scheduler over an empty store)
//

func newScrapeEnv(t *testing.T) *gin.Engine {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("handlers_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	agg := services.NewConsensusAggregator(db, "https://card.example/detail", zerolog.Nop())
	orch := services.NewScrapeOrchestrator(db, nil, agg, 0, zerolog.Nop())
	sched := services.NewScheduler(orch, 2*time.Hour, true, zerolog.Nop())

	h := New(nil, nil, nil, nil, nil, sched, agg)
	r := gin.New()
	r.POST("/scrape/run", h.RunScrape)
	r.GET("/scrape/schedule", h.ScheduleStatus)
	r.GET("/consensus/global", h.GlobalConsensus)
	return r
}

func TestRunScrape_EmptyWorklist(t *testing.T) {
	r := newScrapeEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/scrape/run", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp RunScrapeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Samples != 0 {
		t.Fatalf("samples = %d", resp.Samples)
	}
}

func TestScheduleStatus(t *testing.T) {
	r := newScrapeEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/scrape/schedule", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ScheduleStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Enabled || resp.Interval != "2h0m0s" {
		t.Fatalf("status = %+v", resp)
	}
}

func TestGlobalConsensus_NoData(t *testing.T) {
	r := newScrapeEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/consensus/global", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Code != ErrCodeNoData {
		t.Fatalf("code = %q", resp.Code)
	}
}
