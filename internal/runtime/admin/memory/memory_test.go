package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/busflow/internal/runtime/admin"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	propspkg "github.com/drblury/busflow/internal/runtime/properties"
)

func TestSubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	a := New()

	_, err := a.GetSubscription(ctx, "flights", "tower")
	assert.ErrorIs(t, err, errspkg.ErrSubscriptionNotFound)

	desc := admin.SubscriptionDescription{TopicName: "flights", SubscriptionName: "tower", SubscriptionOptions: admin.DefaultSubscriptionOptions()}
	require.NoError(t, a.CreateSubscription(ctx, desc))
	assert.Error(t, a.CreateSubscription(ctx, desc))

	got, err := a.GetSubscription(ctx, "flights", "tower")
	require.NoError(t, err)
	assert.Equal(t, desc, *got)

	rules, err := a.ListRules(ctx, "flights", "tower")
	require.NoError(t, err)
	assert.Equal(t, []admin.Rule{{Name: DefaultRuleName, Filter: admin.RuleFilter{Properties: propspkg.Properties{}}}}, rules)

	desc.MaxDeliveryCount = 3
	require.NoError(t, a.UpdateSubscription(ctx, desc))
	desc.RequiresSession = true
	assert.Error(t, a.UpdateSubscription(ctx, desc))

	require.NoError(t, a.DeleteSubscription(ctx, "flights", "tower"))
	assert.ErrorIs(t, a.DeleteSubscription(ctx, "flights", "tower"), errspkg.ErrSubscriptionNotFound)
}

func TestRulesAndEvaluation(t *testing.T) {
	ctx := context.Background()
	a := New()
	assert.False(t, a.Accepts("flights", "tower", "AircraftLanded", nil))

	require.NoError(t, a.CreateSubscription(ctx, admin.SubscriptionDescription{TopicName: "flights", SubscriptionName: "tower"}))
	assert.True(t, a.Accepts("flights", "tower", "anything", nil), "default rule accepts everything")

	require.NoError(t, a.DeleteRule(ctx, "flights", "tower", DefaultRuleName))
	assert.Error(t, a.DeleteRule(ctx, "flights", "tower", DefaultRuleName))
	assert.False(t, a.Accepts("flights", "tower", "anything", nil))

	rule := admin.Rule{Name: "AircraftTakenOff", Filter: admin.RuleFilter{Label: "AircraftTakenOff", Properties: propspkg.New("MessageVersion", "2")}}
	require.NoError(t, a.CreateRule(ctx, "flights", "tower", rule))
	assert.Error(t, a.CreateRule(ctx, "flights", "tower", rule))

	assert.True(t, a.Accepts("flights", "tower", "AircraftTakenOff", propspkg.New("MessageVersion", "2")))
	assert.False(t, a.Accepts("flights", "tower", "AircraftTakenOff", propspkg.New("MessageVersion", "1")))
	assert.False(t, a.Accepts("flights", "tower", "AircraftLanded", propspkg.New("MessageVersion", "2")))

	rules, err := a.ListRules(ctx, "flights", "tower")
	require.NoError(t, err)
	rules[0].Filter.Properties["MessageVersion"] = "9"
	assert.True(t, a.Accepts("flights", "tower", "AircraftTakenOff", propspkg.New("MessageVersion", "2")), "listed rules are copies")
}
