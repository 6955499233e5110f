package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"custodia.org/internal/authn"
	"custodia.org/internal/oms"
	"custodia.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("CUSTODIA_AUTH_SECRET", "test-secret")
	authn.ResetSecretForTests()
	t.Cleanup(authn.ResetSecretForTests)

	engine, err := oms.NewService(context.Background(), oms.NewMemStore(), "0xroot", "root")
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	api := New(ReadyProbe{}, "test", engine, stream.New())
	api.rateBurst = 1000
	api.ratePerSec = 1000

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u := path
	if params != nil {
		u = path + "?" + params.Encode()
	}
	return c.do(http.MethodGet, u, nil, headers)
}

func (c *apiClient) del(path string, headers map[string]string) *http.Response {
	return c.do(http.MethodDelete, path, nil, headers)
}

func (c *apiClient) obtainToken(address string) map[string]string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{"address": address}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return map[string]string{"Authorization": "Bearer " + payload.Token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("unexpected status: got %d, want %d", resp.StatusCode, want)
	}
	resp.Body.Close()
}

func TestAPIFullOrderFlow(t *testing.T) {
	api := newTestAPI(t)
	root := api.obtainToken("0xroot")

	// Register actors and hand out roles.
	for _, u := range []map[string]any{
		{"address": "0xfactory", "name": "factory admin", "role": "org-admin"},
		{"address": "0xshop", "name": "shop admin", "role": "org-admin"},
	} {
		resp := api.post("/v1/users", u, root)
		expectStatus(t, resp, http.StatusCreated)
	}
	resp := api.post("/v1/roles/grant", map[string]any{"role": "manufacturer", "address": "0xfactory"}, root)
	expectStatus(t, resp, http.StatusNoContent)

	factory := api.obtainToken("0xfactory")
	shop := api.obtainToken("0xshop")

	// Organizations 1 (factory) and 2 (shop).
	resp = api.post("/v1/organizations", map[string]any{"title": "Factory"}, factory)
	expectStatus(t, resp, http.StatusCreated)
	resp = api.post("/v1/organizations", map[string]any{"title": "Shop"}, shop)
	expectStatus(t, resp, http.StatusCreated)

	// Produce product 1 in the factory.
	resp = api.post("/v1/organizations/1/products", map[string]any{
		"product_type":     7,
		"price":            1500,
		"description_hash": "hash-genesis",
		"specification":    "spec-v1",
	}, factory)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("produce status: %d", resp.StatusCode)
	}
	product := decode[map[string]any](t, resp)
	if product["id"].(float64) != 1 {
		t.Fatalf("unexpected product id: %v", product["id"])
	}

	// Shop orders it from the factory.
	resp = api.post("/v1/orders", map[string]any{
		"organization_id":  2,
		"buyer":            "0xshop",
		"seller":           "0xfactory",
		"description_hash": "hash-order",
	}, shop)
	expectStatus(t, resp, http.StatusCreated)

	resp = api.post("/v1/orders/1/products", map[string]any{"product_id": 1}, shop)
	expectStatus(t, resp, http.StatusNoContent)

	resp = api.post("/v1/orders/1/approve", map[string]any{"organization_id": 2, "decision": "agreement"}, shop)
	expectStatus(t, resp, http.StatusNoContent)
	resp = api.post("/v1/orders/1/approve", map[string]any{"organization_id": 1, "decision": "agreement"}, factory)
	expectStatus(t, resp, http.StatusNoContent)

	resp = api.post("/v1/orders/1/state", map[string]any{
		"description_hash": "hash-transit",
		"order_state":      1,
		"product_state":    2,
	}, factory)
	expectStatus(t, resp, http.StatusNoContent)

	resp = api.post("/v1/orders/1/finish", map[string]any{"organization_id": 2}, shop)
	expectStatus(t, resp, http.StatusNoContent)
	resp = api.post("/v1/orders/1/finish", map[string]any{"organization_id": 1}, factory)
	expectStatus(t, resp, http.StatusNoContent)

	resp = api.post("/v1/orders/1/transfer", map[string]any{"organization_id": 1, "approve": true}, factory)
	expectStatus(t, resp, http.StatusNoContent)
	resp = api.post("/v1/orders/1/transfer", map[string]any{"organization_id": 2, "approve": true}, shop)
	expectStatus(t, resp, http.StatusNoContent)

	// Custody moved to the shop.
	resp = api.get("/v1/organizations/2", nil, shop)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get organization status: %d", resp.StatusCode)
	}
	org := decode[map[string]any](t, resp)
	inventory := org["inventory"].([]any)
	if len(inventory) != 1 || inventory[0].(float64) != 1 {
		t.Fatalf("unexpected shop inventory: %v", inventory)
	}

	// The product carries both ownership entries.
	resp = api.get("/v1/products/1", nil, shop)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get product status: %d", resp.StatusCode)
	}
	prod := decode[map[string]any](t, resp)
	if owners := prod["ownership_history"].([]any); len(owners) != 2 {
		t.Fatalf("unexpected ownership history: %v", owners)
	}
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/users", map[string]any{"address": "0xnew", "name": "n", "role": "simple-user"}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["error"] == "" {
		t.Fatalf("expected error message")
	}
	if errBody["request_id"] == "" {
		t.Fatalf("expected request_id in error body")
	}
}

func TestAPIErrorMapping(t *testing.T) {
	api := newTestAPI(t)
	root := api.obtainToken("0xroot")

	// Unknown role -> 400.
	resp := api.post("/v1/users", map[string]any{"address": "0xa", "name": "a", "role": "warlock"}, root)
	expectStatus(t, resp, http.StatusBadRequest)

	// Duplicate registration -> 409.
	resp = api.post("/v1/users", map[string]any{"address": "0xa", "name": "a", "role": "simple-user"}, root)
	expectStatus(t, resp, http.StatusCreated)
	resp = api.post("/v1/users", map[string]any{"address": "0xa", "name": "a", "role": "simple-user"}, root)
	expectStatus(t, resp, http.StatusConflict)

	// Non-admin caller -> 403.
	other := api.obtainToken("0xa")
	resp = api.post("/v1/users", map[string]any{"address": "0xb", "name": "b", "role": "simple-user"}, other)
	expectStatus(t, resp, http.StatusForbidden)

	// Root admin role is immune -> 403.
	resp = api.post("/v1/roles/revoke", map[string]any{"role": "admin", "address": "0xroot"}, root)
	expectStatus(t, resp, http.StatusForbidden)

	// Missing resources -> 404.
	resp = api.get("/v1/users/0xghost", nil, root)
	expectStatus(t, resp, http.StatusNotFound)
	resp = api.get("/v1/organizations/99", nil, root)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestTokenEndpointValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/token", map[string]any{"address": ""}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHealthAndInfoArePublic(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := api.get(path, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}
