package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"custodia.org/internal/authn"
	"custodia.org/internal/obs"
	"custodia.org/internal/oms"
	"custodia.org/internal/stream"
)

type createUserRequest struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Metadata string `json:"metadata"`
	Role     string `json:"role"`
}

type roleRequest struct {
	Role    string `json:"role"`
	Address string `json:"address"`
}

type createOrganizationRequest struct {
	Title string `json:"title"`
}

type addEmployeeRequest struct {
	Address    string `json:"address"`
	MemberRole int    `json:"member_role"`
}

type produceProductRequest struct {
	ProductType     uint64    `json:"product_type"`
	Price           int64     `json:"price"`
	DescriptionHash string    `json:"description_hash"`
	Specification   string    `json:"specification"`
	GuaranteeUntil  time.Time `json:"guarantee_until"`
}

type updateProductStateRequest struct {
	OrganizationID  uint64 `json:"organization_id"`
	State           int    `json:"state"`
	Price           int64  `json:"price"`
	DescriptionHash string `json:"description_hash"`
}

type transferProductRequest struct {
	FromOrganization uint64 `json:"from_organization"`
	ToOrganization   uint64 `json:"to_organization"`
}

type createOrderRequest struct {
	OrganizationID  uint64 `json:"organization_id"`
	Buyer           string `json:"buyer"`
	Seller          string `json:"seller"`
	DescriptionHash string `json:"description_hash"`
	Mode            uint64 `json:"mode"`
}

type orderProductRequest struct {
	ProductID uint64 `json:"product_id"`
}

type approveOrderRequest struct {
	OrganizationID uint64 `json:"organization_id"`
	Decision       string `json:"decision"`
}

type updateOrderStateRequest struct {
	DescriptionHash string `json:"description_hash"`
	OrderState      int    `json:"order_state"`
	ProductState    int    `json:"product_state"`
}

type finishOrderRequest struct {
	OrganizationID uint64 `json:"organization_id"`
}

type approveTransferRequest struct {
	OrganizationID uint64 `json:"organization_id"`
	Approve        bool   `json:"approve"`
}

type hasRoleResponse struct {
	Role string `json:"role"`
	Held bool   `json:"held"`
}

// caller resolves the engine actor from the authenticated token subject.
func (a *API) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	addr, ok := authn.AddressFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return addr, true
}

func observe(op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, oms.ErrUnauthorized):
		outcome = "unauthorized"
	case errors.Is(err, oms.ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, oms.ErrInvalidInput):
		outcome = "invalid"
	default:
		outcome = "conflict"
	}
	obs.ObserveOperation(op, outcome)
}

// --- registry ---

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, err := a.engine.CreateUser(r.Context(), caller, req.Address, req.Name, req.Metadata, oms.Role(req.Role))
	observe("user.create", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	a.audit(r.Context(), "oms.user.create", "user", u.Address, map[string]string{
		"role": string(u.Role),
	})
	w.Header().Set("Location", "/v1/users/"+u.Address)
	writeJSON(w, http.StatusCreated, u)
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		u, err := a.engine.GetUserByAddress(r.Context(), parts[0])
		if err != nil {
			handleEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	case len(parts) == 3 && parts[1] == "roles":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		held, err := a.engine.HasRole(r.Context(), oms.Role(parts[2]), parts[0])
		if err != nil {
			handleEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, hasRoleResponse{Role: parts[2], Held: held})
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRoleGrant(w http.ResponseWriter, r *http.Request) {
	a.handleRoleChange(w, r, "grant")
}

func (a *API) handleRoleRevoke(w http.ResponseWriter, r *http.Request) {
	a.handleRoleChange(w, r, "revoke")
}

func (a *API) handleRoleRenounce(w http.ResponseWriter, r *http.Request) {
	a.handleRoleChange(w, r, "renounce")
}

func (a *API) handleRoleChange(w http.ResponseWriter, r *http.Request, action string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role := oms.Role(strings.TrimSpace(req.Role))
	var err error
	switch action {
	case "grant":
		err = a.engine.GrantRole(r.Context(), caller, role, req.Address)
	case "revoke":
		err = a.engine.RevokeRole(r.Context(), caller, role, req.Address)
	case "renounce":
		err = a.engine.RenounceRole(r.Context(), caller, role, req.Address)
	}
	observe("role."+action, err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	a.audit(r.Context(), "oms.role."+action, "user", req.Address, map[string]string{
		"role": string(role),
	})
	w.WriteHeader(http.StatusNoContent)
}

// --- directory ---

func (a *API) handleOrganizationsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req createOrganizationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org, err := a.engine.CreateOrganization(r.Context(), caller, req.Title)
	observe("organization.create", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	a.audit(r.Context(), "oms.organization.create", "organization", strconv.FormatUint(org.ID, 10), map[string]string{
		"title": org.Title,
	})
	w.Header().Set("Location", "/v1/organizations/"+strconv.FormatUint(org.ID, 10))
	writeJSON(w, http.StatusCreated, org)
}

func (a *API) handleOrganizationCounter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	next, err := a.engine.OrganizationIDCounter(r.Context())
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"next_id": next})
}

func (a *API) handleOrganizationResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/organizations/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	orgID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "organization id must be a positive integer")
		return
	}
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		org, err := a.engine.GetOrganizationByID(r.Context(), orgID)
		if err != nil {
			handleEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, org)
	case len(parts) == 2 && parts[1] == "employees":
		a.addEmployee(w, r, orgID)
	case len(parts) == 3 && parts[1] == "employees":
		a.deleteEmployee(w, r, orgID, parts[2])
	case len(parts) == 2 && parts[1] == "products":
		a.produceProduct(w, r, orgID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) addEmployee(w http.ResponseWriter, r *http.Request, orgID uint64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req addEmployeeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.engine.AddEmployeeToOrganization(r.Context(), caller, orgID, req.Address, oms.MemberRole(req.MemberRole))
	observe("organization.add_employee", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	a.audit(r.Context(), "oms.organization.add_employee", "organization", strconv.FormatUint(orgID, 10), map[string]string{
		"address":     req.Address,
		"member_role": strconv.Itoa(req.MemberRole),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deleteEmployee(w http.ResponseWriter, r *http.Request, orgID uint64, addr string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	err := a.engine.DeleteEmployeeFromOrganization(r.Context(), caller, orgID, addr)
	observe("organization.delete_employee", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	a.audit(r.Context(), "oms.organization.delete_employee", "organization", strconv.FormatUint(orgID, 10), map[string]string{
		"address": addr,
	})
	w.WriteHeader(http.StatusNoContent)
}

// --- products ---

func (a *API) produceProduct(w http.ResponseWriter, r *http.Request, orgID uint64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req produceProductRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.engine.ProduceNewProduct(r.Context(), caller, orgID, req.ProductType, req.Price, req.DescriptionHash, req.Specification, req.GuaranteeUntil)
	observe("product.produce", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	a.audit(r.Context(), "oms.product.produce", "product", strconv.FormatUint(p.ID, 10), map[string]string{
		"organization_id": strconv.FormatUint(orgID, 10),
		"product_type":    strconv.FormatUint(req.ProductType, 10),
	})
	w.Header().Set("Location", "/v1/products/"+strconv.FormatUint(p.ID, 10))
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleLastProductID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	last, err := a.engine.LastProductID(r.Context())
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"last_id": last})
}

func (a *API) handleProductResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/products/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	productID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "product id must be a positive integer")
		return
	}
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		p, err := a.engine.GetProductByID(r.Context(), productID)
		if err != nil {
			handleEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case len(parts) == 2 && parts[1] == "state":
		a.updateProductState(w, r, productID)
	case len(parts) == 2 && parts[1] == "transfer":
		a.transferProduct(w, r, productID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) updateProductState(w http.ResponseWriter, r *http.Request, productID uint64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req updateProductStateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.engine.UpdateProductState(r.Context(), caller, req.OrganizationID, productID, oms.ProductState(req.State), req.Price, req.DescriptionHash)
	observe("product.update_state", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	a.audit(r.Context(), "oms.product.update_state", "product", strconv.FormatUint(productID, 10), map[string]string{
		"state": oms.ProductState(req.State).String(),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) transferProduct(w http.ResponseWriter, r *http.Request, productID uint64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req transferProductRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.engine.TransferProductOrganizationToOrganization(r.Context(), caller, productID, req.FromOrganization, req.ToOrganization)
	observe("product.transfer", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	if a.stream != nil {
		a.stream.Publish(stream.TransferEvent{
			Kind:             "direct",
			ProductIDs:       []uint64{productID},
			FromOrganization: req.FromOrganization,
			ToOrganization:   req.ToOrganization,
			Actor:            caller,
			Timestamp:        time.Now().UTC(),
		})
	}
	a.audit(r.Context(), "oms.product.transfer", "product", strconv.FormatUint(productID, 10), map[string]string{
		"from_organization": strconv.FormatUint(req.FromOrganization, 10),
		"to_organization":   strconv.FormatUint(req.ToOrganization, 10),
	})
	w.WriteHeader(http.StatusNoContent)
}

// --- orders ---

func (a *API) handleOrdersCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	o, err := a.engine.CreateOrder(r.Context(), caller, req.OrganizationID, req.Buyer, req.Seller, req.DescriptionHash, req.Mode)
	observe("order.create", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	a.audit(r.Context(), "oms.order.create", "order", strconv.FormatUint(o.ID, 10), map[string]string{
		"buyer_organization":  strconv.FormatUint(o.Buyer.OrganizationID, 10),
		"seller_organization": strconv.FormatUint(o.Seller.OrganizationID, 10),
	})
	w.Header().Set("Location", "/v1/orders/"+strconv.FormatUint(o.ID, 10))
	writeJSON(w, http.StatusCreated, o)
}

func (a *API) handleOrderCounter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	next, err := a.engine.OrderIDCounter(r.Context())
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"next_id": next})
}

func (a *API) handleOrderResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/orders/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	orderID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "order id must be a positive integer")
		return
	}
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		o, err := a.engine.GetOrderByID(r.Context(), orderID)
		if err != nil {
			handleEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	case len(parts) == 2 && parts[1] == "products":
		a.addOrderProduct(w, r, orderID)
	case len(parts) == 3 && parts[1] == "products":
		a.removeOrderProduct(w, r, orderID, parts[2])
	case len(parts) == 2 && parts[1] == "approve":
		a.approveOrder(w, r, orderID)
	case len(parts) == 2 && parts[1] == "state":
		a.updateOrderState(w, r, orderID)
	case len(parts) == 2 && parts[1] == "finish":
		a.finishOrder(w, r, orderID)
	case len(parts) == 2 && parts[1] == "transfer":
		a.approveOrderTransfer(w, r, orderID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) addOrderProduct(w http.ResponseWriter, r *http.Request, orderID uint64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req orderProductRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.engine.AddProductToOrderByID(r.Context(), caller, orderID, req.ProductID)
	observe("order.add_product", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	a.audit(r.Context(), "oms.order.add_product", "order", strconv.FormatUint(orderID, 10), map[string]string{
		"product_id": strconv.FormatUint(req.ProductID, 10),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) removeOrderProduct(w http.ResponseWriter, r *http.Request, orderID uint64, rawProductID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	productID, err := strconv.ParseUint(rawProductID, 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "product id must be a positive integer")
		return
	}
	err = a.engine.RemoveProductFromOrderByID(r.Context(), caller, orderID, productID)
	observe("order.remove_product", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	a.audit(r.Context(), "oms.order.remove_product", "order", strconv.FormatUint(orderID, 10), map[string]string{
		"product_id": strconv.FormatUint(productID, 10),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) approveOrder(w http.ResponseWriter, r *http.Request, orderID uint64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req approveOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	decision, err := parseDecision(req.Decision)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err = a.engine.ApproveOrder(r.Context(), caller, req.OrganizationID, orderID, decision)
	observe("order.approve", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	a.audit(r.Context(), "oms.order.approve", "order", strconv.FormatUint(orderID, 10), map[string]string{
		"organization_id": strconv.FormatUint(req.OrganizationID, 10),
		"decision":        decision.String(),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) updateOrderState(w http.ResponseWriter, r *http.Request, orderID uint64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req updateOrderStateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.engine.UpdateOrderStateByID(r.Context(), caller, orderID, req.DescriptionHash, oms.OrderState(req.OrderState), oms.ProductState(req.ProductState))
	observe("order.update_state", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	a.audit(r.Context(), "oms.order.update_state", "order", strconv.FormatUint(orderID, 10), map[string]string{
		"order_state":   oms.OrderState(req.OrderState).String(),
		"product_state": oms.ProductState(req.ProductState).String(),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) finishOrder(w http.ResponseWriter, r *http.Request, orderID uint64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req finishOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.engine.FinishOrderByID(r.Context(), caller, req.OrganizationID, orderID, oms.DecisionFinished)
	observe("order.finish", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	a.audit(r.Context(), "oms.order.finish", "order", strconv.FormatUint(orderID, 10), map[string]string{
		"organization_id": strconv.FormatUint(req.OrganizationID, 10),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) approveOrderTransfer(w http.ResponseWriter, r *http.Request, orderID uint64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req approveTransferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.engine.ApproveTransferringProductsByOrderID(r.Context(), caller, req.OrganizationID, orderID, req.Approve)
	observe("order.approve_transfer", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	o, getErr := a.engine.GetOrderByID(r.Context(), orderID)
	completed := getErr == nil && o.Buyer.Transferred && o.Seller.Transferred
	if completed && a.stream != nil {
		productIDs := make([]uint64, 0, len(o.Products))
		for _, op := range o.Products {
			productIDs = append(productIDs, op.ProductID)
		}
		a.stream.Publish(stream.TransferEvent{
			Kind:             "order",
			OrderID:          o.ID,
			ProductIDs:       productIDs,
			FromOrganization: o.Seller.OrganizationID,
			ToOrganization:   o.Buyer.OrganizationID,
			Actor:            caller,
			Timestamp:        time.Now().UTC(),
		})
	}
	a.audit(r.Context(), "oms.order.approve_transfer", "order", strconv.FormatUint(orderID, 10), map[string]string{
		"organization_id": strconv.FormatUint(req.OrganizationID, 10),
		"approve":         strconv.FormatBool(req.Approve),
		"completed":       strconv.FormatBool(completed),
	})
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ---

func parseDecision(raw string) (oms.Decision, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "agreement":
		return oms.DecisionAgreement, nil
	case "refusal":
		return oms.DecisionRefusal, nil
	case "finished":
		return oms.DecisionFinished, nil
	default:
		return oms.DecisionUndecided, errors.New("decision must be agreement, refusal or finished")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, oms.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, oms.ErrUnauthorized), errors.Is(err, oms.ErrProtectedRole):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, oms.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, oms.ErrDuplicateIdentifier),
		errors.Is(err, oms.ErrIllegalState),
		errors.Is(err, oms.ErrNotInInventory),
		errors.Is(err, oms.ErrPartialApproval):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
