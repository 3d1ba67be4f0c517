package adapters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openadex/salesagent/pkg/contracts"
)

func orderWithTargeting(t contracts.Targeting) *contracts.Order {
	return &contracts.Order{
		ID:       "ord-1",
		TenantID: "t-1",
		Packages: []contracts.Package{
			{ID: "pkg-1", BudgetCents: 100_000, Targeting: t},
			{ID: "pkg-2", BudgetCents: 200_000},
		},
	}
}

func TestInHouseConfirmsSupportedTargeting(t *testing.T) {
	a := NewInHouseAdapter()
	res, err := a.Execute(context.Background(), ExecuteRequest{
		IdempotencyKey: "key-1",
		Action:         contracts.StepKindCreate,
		Order: orderWithTargeting(contracts.Targeting{
			GeoCountries: []string{"DE", "FR"},
			DeviceTypes:  []string{"mobile"},
		}),
	})
	require.NoError(t, err)
	require.Equal(t, ExecutionConfirmed, res.Kind)
	require.NotNil(t, res.Confirmed)
	assert.NotEmpty(t, res.Confirmed.BackendOrderID)
	assert.Len(t, res.Confirmed.LineIDs, 2)
	assert.NotEmpty(t, res.Confirmed.LineIDs["pkg-1"])
	assert.NotEmpty(t, res.Confirmed.LineIDs["pkg-2"])
}

func TestInHouseRejectsUnsupportedAxis(t *testing.T) {
	a := NewInHouseAdapter()
	res, err := a.Execute(context.Background(), ExecuteRequest{
		IdempotencyKey: "key-1",
		Action:         contracts.StepKindCreate,
		Order: orderWithTargeting(contracts.Targeting{
			Custom: map[string][]string{"audience_segment": {"sports"}},
		}),
	})
	require.NoError(t, err)
	require.Equal(t, ExecutionRejected, res.Kind)
	require.NotNil(t, res.Rejected)
	assert.Contains(t, res.Rejected.Reason, "audience_segment")
	assert.Nil(t, res.Confirmed)
}

func TestInHouseIdempotentReplay(t *testing.T) {
	a := NewInHouseAdapter()
	req := ExecuteRequest{
		IdempotencyKey: "key-1",
		Action:         contracts.StepKindCreate,
		Order:          orderWithTargeting(contracts.Targeting{}),
	}

	first, err := a.Execute(context.Background(), req)
	require.NoError(t, err)
	second, err := a.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second, "same idempotency key must replay the recorded outcome")

	// A different key produces different backend identifiers.
	req.IdempotencyKey = "key-2"
	third, err := a.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, first.Confirmed.BackendOrderID, third.Confirmed.BackendOrderID)
}

func TestReservationParksThenConfirms(t *testing.T) {
	a := NewReservationAdapter()
	req := ExecuteRequest{
		IdempotencyKey: "key-1",
		Action:         contracts.StepKindCreate,
		Order:          orderWithTargeting(contracts.Targeting{}),
	}

	res, err := a.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, ExecutionPending, res.Kind)
	token := res.Pending.TrackingToken
	require.NotEmpty(t, token)

	// Undecided re-invocation returns the same token.
	again, err := a.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, ExecutionPending, again.Kind)
	assert.Equal(t, token, again.Pending.TrackingToken)

	require.NoError(t, a.ResolveToken(token, true))
	confirmed, err := a.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, ExecutionConfirmed, confirmed.Kind)
	assert.Len(t, confirmed.Confirmed.LineIDs, 2)
}

func TestReservationDeclined(t *testing.T) {
	a := NewReservationAdapter()
	req := ExecuteRequest{
		IdempotencyKey: "key-1",
		Action:         contracts.StepKindCreate,
		Order:          orderWithTargeting(contracts.Targeting{}),
	}
	res, err := a.Execute(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, a.ResolveToken(res.Pending.TrackingToken, false))

	declined, err := a.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ExecutionRejected, declined.Kind)
}

func TestRegistryResolvesWithProtocolGate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewInHouseAdapter(), ">= 1.0, < 3.0"))
	require.NoError(t, r.Register(NewReservationAdapter(), ""))

	a, err := r.Resolve("inhouse", "2.4.0")
	require.NoError(t, err)
	assert.Equal(t, "inhouse", a.Name())

	_, err = r.Resolve("inhouse", "3.0.0")
	assert.Error(t, err, "protocol outside the supported range must be refused")

	// Unconstrained backend accepts any version.
	_, err = r.Resolve("reservation", "9.9.9")
	assert.NoError(t, err)

	_, err = r.Resolve("ghost", "1.0.0")
	assert.Error(t, err)
}

func TestRegistryRejectsDuplicateAndBadRange(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewInHouseAdapter(), ""))
	assert.Error(t, r.Register(NewInHouseAdapter(), ""))
	assert.Error(t, r.Register(NewReservationAdapter(), "not-a-range"))
}
