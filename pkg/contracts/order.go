// Package contracts defines the shared domain types of the sales agent:
// orders and their packages, workflow steps, the caller-facing result
// union, the error taxonomy, and the webhook event payload.
//
// Every subsystem (orchestrator, adapters, approval gate, review pool,
// notification dispatcher) speaks these types; none of them may invent a
// private variant of an order or a step.
package contracts

import "time"

// OrderStatus represents the lifecycle of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusActive    OrderStatus = "active"
	OrderStatusPaused    OrderStatus = "paused"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
)

// PackageStatus represents the lifecycle of a single package (line item).
type PackageStatus string

const (
	PackageStatusPending   PackageStatus = "pending"
	PackageStatusActive    PackageStatus = "active"
	PackageStatusPaused    PackageStatus = "paused"
	PackageStatusCompleted PackageStatus = "completed"
)

// Order is a buyer's accepted purchase request. It is created by the
// orchestrator on request acceptance and mutated only through orchestrated
// actions; a failed action leaves the prior committed state untouched.
type Order struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	BuyerRef string `json:"buyer_ref"`

	// Backend is the ad-serving backend this order executes against.
	Backend string `json:"backend"`

	Packages []Package `json:"packages"`

	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// TotalBudgetCents sums the budgets of all packages.
func (o *Order) TotalBudgetCents() int64 {
	var total int64
	for _, p := range o.Packages {
		total += p.BudgetCents
	}
	return total
}

// PackageByID returns the package with the given ID, or nil.
func (o *Order) PackageByID(id string) *Package {
	for i := range o.Packages {
		if o.Packages[i].ID == id {
			return &o.Packages[i]
		}
	}
	return nil
}

// Package is one line item (flight) within an order. Budgets are stored in
// integer cents.
type Package struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ProductID string `json:"product_id"`

	BudgetCents int64     `json:"budget_cents"`
	FlightStart time.Time `json:"flight_start"`
	FlightEnd   time.Time `json:"flight_end"`

	Targeting Targeting `json:"targeting"`

	// BackendLineID is assigned by the backend once the package is
	// confirmed. Empty until then; a committal field under the atomic
	// contract.
	BackendLineID string `json:"backend_line_id,omitempty"`

	Status PackageStatus `json:"status"`
}

// Targeting describes the delivery constraints of a package. The common
// axes are named; everything else travels in Custom, keyed by the axis
// name the backend must support.
type Targeting struct {
	GeoCountries []string            `json:"geo_countries,omitempty"`
	DeviceTypes  []string            `json:"device_types,omitempty"`
	Custom       map[string][]string `json:"custom,omitempty"`
}

// Axes returns every targeting axis the package requests, named axes first.
func (t Targeting) Axes() []string {
	var axes []string
	if len(t.GeoCountries) > 0 {
		axes = append(axes, "geo_country")
	}
	if len(t.DeviceTypes) > 0 {
		axes = append(axes, "device_type")
	}
	for axis := range t.Custom {
		axes = append(axes, axis)
	}
	return axes
}

// CreativeStatus represents the review lifecycle of a creative asset.
type CreativeStatus string

const (
	CreativeStatusPendingReview CreativeStatus = "pending_review"
	CreativeStatusApproved      CreativeStatus = "approved"
	CreativeStatusRejected      CreativeStatus = "rejected"
)

// Creative is an asset submitted alongside an order. The asset bytes live
// in the creative store, addressed by Digest; the struct carries only
// metadata plus whatever text the review pool needs to score.
type Creative struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	OrderID  string `json:"order_id"`

	Name   string `json:"name"`
	Format string `json:"format"` // e.g. "banner_300x250", "video_15s"

	// URI points at externally hosted media; Digest at bytes in the
	// creative store. At least one is set.
	URI    string `json:"uri,omitempty"`
	Digest string `json:"digest,omitempty"`

	// Copy is the visible ad text, the primary input to content review.
	Copy string `json:"copy,omitempty"`

	Status    CreativeStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}
