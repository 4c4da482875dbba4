package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
	"github.com/aryan0dhankhar/tenantrouter/internal/partition"
	"github.com/aryan0dhankhar/tenantrouter/internal/pipeline"
	"github.com/aryan0dhankhar/tenantrouter/internal/security"
	"github.com/aryan0dhankhar/tenantrouter/internal/security/auth"
	"github.com/aryan0dhankhar/tenantrouter/internal/storage"
)

// OrdersApp is the app label the orders tables are registered under
const OrdersApp = "orders"

// OrdersTable is provisioned lazily in every tenant partition
var OrdersTable = storage.TableSpec{
	Name: "orders",
	Columns: []storage.Column{
		{Name: "id", Type: "TEXT", PrimaryKey: true},
		{Name: "tenant_id", Type: "BIGINT", NotNull: true},
		{Name: "label", Type: "TEXT", NotNull: true},
		{Name: "created_by", Type: "TEXT"},
	},
}

// Order is the API representation of an orders row
type Order struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	CreatedBy string `json:"created_by,omitempty"`
}

// CreateOrderRequest is the body of POST /api/{tenant}/orders/
type CreateOrderRequest struct {
	Label string `json:"label"`
}

// OrdersHandler is a sample business collaborator. It only ever touches the
// partition the pipeline entered, through the request's session.
type OrdersHandler struct {
	authz  *security.Authorizer
	logger *slog.Logger
}

// NewOrdersHandler creates a new orders handler
func NewOrdersHandler(authz *security.Authorizer, logger *slog.Logger) *OrdersHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrdersHandler{authz: authz, logger: logger}
}

// List handles GET /api/{tenant}/orders/. Anonymous reads are allowed; a
// credential, when present, must carry read permission.
func (h *OrdersHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, sess, err := scope(r)
	if err != nil {
		pipeline.WriteError(w, r, h.logger, err)
		return
	}
	if id, ok := auth.IdentityFromContext(ctx); ok {
		if err := h.authz.Check(ctx, id, security.Resource{Type: "order", Tenant: t.Slug}, security.ActionRead); err != nil {
			pipeline.WriteError(w, r, h.logger, err)
			return
		}
	}

	rows, err := sess.Select(ctx, OrdersTable.Name, storage.Row{"tenant_id": t.ID})
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list orders", slog.String("error", err.Error()))
		pipeline.WriteError(w, r, h.logger, err)
		return
	}

	orders := make([]Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, toOrder(row))
	}
	writeJSON(w, http.StatusOK, orders)
}

// Create handles POST /api/{tenant}/orders/
func (h *OrdersHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, sess, err := scope(r)
	if err != nil {
		pipeline.WriteError(w, r, h.logger, err)
		return
	}
	id, _ := auth.IdentityFromContext(ctx)
	if err := h.authz.Check(ctx, id, security.Resource{Type: "order", Tenant: t.Slug}, security.ActionWrite); err != nil {
		pipeline.WriteError(w, r, h.logger, err)
		return
	}

	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}
	req.Label = strings.TrimSpace(req.Label)
	if req.Label == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "label is required"})
		return
	}

	order := Order{ID: uuid.NewString(), Label: req.Label, CreatedBy: id.UserID}
	row := storage.Row{
		"id":         order.ID,
		"tenant_id":  t.ID,
		"label":      order.Label,
		"created_by": order.CreatedBy,
	}
	if err := sess.Insert(ctx, OrdersTable.Name, row); err != nil {
		h.logger.ErrorContext(ctx, "failed to create order", slog.String("error", err.Error()))
		pipeline.WriteError(w, r, h.logger, err)
		return
	}

	h.logger.InfoContext(ctx, "order created", slog.String("order_id", order.ID))
	writeJSON(w, http.StatusCreated, order)
}

// scope returns the routed tenant and its session. Handlers mounted behind the
// pipeline always have both.
func scope(r *http.Request) (domain.Tenant, storage.Session, error) {
	t, ok := partition.CurrentTenant(r.Context())
	if !ok {
		return domain.Tenant{}, nil, domain.NewTenantError("", domain.ErrTenantNotFound)
	}
	sess, ok := partition.SessionFromContext(r.Context())
	if !ok {
		return domain.Tenant{}, nil, fmt.Errorf("%w: no session for %s", domain.ErrPartitionSwitchFailed, t.Slug)
	}
	return t, sess, nil
}

func toOrder(row storage.Row) Order {
	str := func(k string) string {
		switch v := row[k].(type) {
		case nil:
			return ""
		case string:
			return v
		case []byte:
			return string(v)
		default:
			return fmt.Sprint(v)
		}
	}
	return Order{ID: str("id"), Label: str("label"), CreatedBy: str("created_by")}
}
