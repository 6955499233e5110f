// Command smoke-oms drives a running custodia-api through a full order round
// trip: register actors, produce a product, trade it between two
// organizations and verify that custody moved.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"
)

type client struct {
	base  string
	http  *http.Client
	token string
}

func (c *client) call(method, path string, body any) (*http.Response, []byte) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			log.Fatalf("marshal %s %s: %v", method, path, err)
		}
	}
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("new request %s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func (c *client) must(method, path string, body any, want int) []byte {
	resp, data := c.call(method, path, body)
	if resp.StatusCode != want {
		log.Fatalf("%s %s: got %d, want %d: %s", method, path, resp.StatusCode, want, data)
	}
	return data
}

func (c *client) withToken(address string) *client {
	data := c.must(http.MethodPost, "/v1/auth/token", map[string]any{"address": address}, http.StatusOK)
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Token == "" {
		log.Fatalf("token for %s: %v (%s)", address, err, data)
	}
	return &client{base: c.base, http: c.http, token: payload.Token}
}

func main() {
	base := os.Getenv("CUSTODIA_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	rootAddr := os.Getenv("CUSTODIA_ROOT_ADDRESS")
	if rootAddr == "" {
		rootAddr = "0xroot"
	}

	anon := &client{base: base, http: &http.Client{Timeout: 10 * time.Second}}
	root := anon.withToken(rootAddr)

	suffix := rand.Int()
	factoryAddr := fmt.Sprintf("0xsmoke-factory-%d", suffix)
	shopAddr := fmt.Sprintf("0xsmoke-shop-%d", suffix)

	for _, u := range []map[string]any{
		{"address": factoryAddr, "name": "smoke factory", "role": "org-admin"},
		{"address": shopAddr, "name": "smoke shop", "role": "org-admin"},
	} {
		root.must(http.MethodPost, "/v1/users", u, http.StatusCreated)
	}
	root.must(http.MethodPost, "/v1/roles/grant", map[string]any{"role": "manufacturer", "address": factoryAddr}, http.StatusNoContent)

	factory := anon.withToken(factoryAddr)
	shop := anon.withToken(shopAddr)

	var org struct {
		ID uint64 `json:"id"`
	}
	data := factory.must(http.MethodPost, "/v1/organizations", map[string]any{"title": fmt.Sprintf("Smoke Factory %d", suffix)}, http.StatusCreated)
	if err := json.Unmarshal(data, &org); err != nil {
		log.Fatalf("decode factory org: %v", err)
	}
	factoryOrg := org.ID
	data = shop.must(http.MethodPost, "/v1/organizations", map[string]any{"title": fmt.Sprintf("Smoke Shop %d", suffix)}, http.StatusCreated)
	if err := json.Unmarshal(data, &org); err != nil {
		log.Fatalf("decode shop org: %v", err)
	}
	shopOrg := org.ID

	var product struct {
		ID uint64 `json:"id"`
	}
	data = factory.must(http.MethodPost, fmt.Sprintf("/v1/organizations/%d/products", factoryOrg), map[string]any{
		"product_type":     1,
		"price":            990,
		"description_hash": fmt.Sprintf("smoke-%d", suffix),
		"specification":    "smoke unit",
	}, http.StatusCreated)
	if err := json.Unmarshal(data, &product); err != nil {
		log.Fatalf("decode product: %v", err)
	}

	var order struct {
		ID uint64 `json:"id"`
	}
	data = shop.must(http.MethodPost, "/v1/orders", map[string]any{
		"organization_id":  shopOrg,
		"buyer":            shopAddr,
		"seller":           factoryAddr,
		"description_hash": fmt.Sprintf("smoke-order-%d", suffix),
	}, http.StatusCreated)
	if err := json.Unmarshal(data, &order); err != nil {
		log.Fatalf("decode order: %v", err)
	}

	orderPath := fmt.Sprintf("/v1/orders/%d", order.ID)
	shop.must(http.MethodPost, orderPath+"/products", map[string]any{"product_id": product.ID}, http.StatusNoContent)
	shop.must(http.MethodPost, orderPath+"/approve", map[string]any{"organization_id": shopOrg, "decision": "agreement"}, http.StatusNoContent)
	factory.must(http.MethodPost, orderPath+"/approve", map[string]any{"organization_id": factoryOrg, "decision": "agreement"}, http.StatusNoContent)
	factory.must(http.MethodPost, orderPath+"/state", map[string]any{
		"description_hash": "smoke-in-transit",
		"order_state":      1,
		"product_state":    2,
	}, http.StatusNoContent)
	shop.must(http.MethodPost, orderPath+"/finish", map[string]any{"organization_id": shopOrg}, http.StatusNoContent)
	factory.must(http.MethodPost, orderPath+"/finish", map[string]any{"organization_id": factoryOrg}, http.StatusNoContent)
	factory.must(http.MethodPost, orderPath+"/transfer", map[string]any{"organization_id": factoryOrg, "approve": true}, http.StatusNoContent)
	shop.must(http.MethodPost, orderPath+"/transfer", map[string]any{"organization_id": shopOrg, "approve": true}, http.StatusNoContent)

	var shopState struct {
		Inventory []uint64 `json:"inventory"`
	}
	data = shop.must(http.MethodGet, fmt.Sprintf("/v1/organizations/%d", shopOrg), nil, http.StatusOK)
	if err := json.Unmarshal(data, &shopState); err != nil {
		log.Fatalf("decode shop inventory: %v", err)
	}
	found := false
	for _, id := range shopState.Inventory {
		if id == product.ID {
			found = true
		}
	}
	if !found {
		log.Fatalf("custody did not move: product %d not in shop inventory %v", product.ID, shopState.Inventory)
	}

	fmt.Printf("✅ custodia-api smoke test passed: order=%d product=%d %d->%d\n", order.ID, product.ID, factoryOrg, shopOrg)
}
