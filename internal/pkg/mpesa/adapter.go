package mpesa

import (
	"context"

	"github.com/pesasats/pesasats-api/internal/pkg/gateway"
)

// CollectAdapter dispatches STK-push collections through Daraja.
type CollectAdapter struct {
	client *Client
}

// NewCollectAdapter creates the STK-push adapter
func NewCollectAdapter(client *Client) *CollectAdapter {
	return &CollectAdapter{client: client}
}

func (a *CollectAdapter) Name() string { return "mpesa-stk" }

func (a *CollectAdapter) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	res, err := a.client.StkPush(ctx, StkPushRequest{
		Phone:       req.Phone,
		Amount:      req.Amount,
		AccountRef:  req.AccountRef,
		Description: req.Description,
	})
	if err != nil {
		return nil, err
	}
	return &gateway.InitiateResult{
		ProviderRef: res.CheckoutRequestID,
		RawStatus:   res.ResponseDesc,
	}, nil
}

func (a *CollectAdapter) Status(ctx context.Context, providerRef string) (*gateway.StatusResult, error) {
	res, err := a.client.QueryStkStatus(ctx, providerRef)
	if err != nil {
		return nil, err
	}
	return &gateway.StatusResult{
		ProviderRef: providerRef,
		State:       res.ResponseCode,
		Description: res.ResponseDesc,
	}, nil
}

// PayoutAdapter dispatches B2C disbursements through Daraja.
type PayoutAdapter struct {
	client *Client
}

// NewPayoutAdapter creates the B2C adapter
func NewPayoutAdapter(client *Client) *PayoutAdapter {
	return &PayoutAdapter{client: client}
}

func (a *PayoutAdapter) Name() string { return "mpesa-b2c" }

func (a *PayoutAdapter) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	res, err := a.client.B2C(ctx, B2CRequest{
		Phone:       req.Phone,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		return nil, err
	}
	return &gateway.InitiateResult{
		ProviderRef: res.ConversationID,
		RawStatus:   res.ResponseDesc,
	}, nil
}

func (a *PayoutAdapter) Status(ctx context.Context, providerRef string) (*gateway.StatusResult, error) {
	// Daraja has no synchronous B2C status query; the result webhook is
	// authoritative.
	return &gateway.StatusResult{ProviderRef: providerRef, State: "pending"}, nil
}

var (
	_ gateway.Adapter = (*CollectAdapter)(nil)
	_ gateway.Adapter = (*PayoutAdapter)(nil)
)
