package health

import (
	"context"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// StripeChecker implements health checking for the Stripe API.
type StripeChecker struct {
	client *client.API
}

// NewStripeChecker creates a new Stripe health checker with the given API key.
func NewStripeChecker(apiKey string) *StripeChecker {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &StripeChecker{client: sc}
}

// HealthCheck verifies Stripe reachability and key validity by fetching the
// account balance, the cheapest authenticated read the API offers.
func (s *StripeChecker) HealthCheck(ctx context.Context) error {
	params := &stripe.BalanceParams{}
	params.Context = ctx
	_, err := s.client.Balance.Get(params)
	return err
}
