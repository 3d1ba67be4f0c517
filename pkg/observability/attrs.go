package observability

import "go.opentelemetry.io/otel/attribute"

// Semantic convention attributes for sales agent telemetry.
var (
	AttrTenantID = attribute.Key("sales.tenant.id")
	AttrBackend  = attribute.Key("sales.backend")
	AttrAction   = attribute.Key("sales.action")

	AttrOrderID    = attribute.Key("sales.order.id")
	AttrStepID     = attribute.Key("sales.step.id")
	AttrStepStatus = attribute.Key("sales.step.status")

	AttrReviewDecision  = attribute.Key("sales.review.decision")
	AttrDeliveryOutcome = attribute.Key("sales.delivery.outcome")
)
