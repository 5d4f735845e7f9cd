package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/tatamelab/dojopay/app/models"
	"github.com/tatamelab/dojopay/internal/pkg/billing"
	"github.com/tatamelab/dojopay/internal/pkg/mercadopago"
	"github.com/tatamelab/dojopay/internal/pkg/metrics/counter"
	"github.com/tatamelab/dojopay/internal/pkg/secrets"
)

// GatewayClient builds a gateway client from the active credentials row with
// the usage counter wired in.
func GatewayClient(db *gorm.DB, store *secrets.Store) (*mercadopago.Client, *models.GatewayCredentials, error) {
	creds, err := models.GetActiveCredentials(db)
	if err != nil {
		return nil, nil, err
	}
	client, err := mercadopago.NewClientFromCredentials(creds, store)
	if err != nil {
		return nil, nil, err
	}
	credID := creds.ID
	client.UsageHook = func() {
		_ = counter.AddCredentialUse(credID)
	}
	return client, creds, nil
}

// NewBillingEngine builds the reconciliation engine with a status fetcher
// backed by the active gateway credentials. The credentials are resolved per
// poll so a credential switch takes effect without a restart.
func NewBillingEngine(db *gorm.DB, store *secrets.Store) *billing.Service {
	svc := billing.NewServiceFromDB(db, store)
	svc.SetStatusFetcher(func(ctx context.Context, gatewayID string) (*mercadopago.PaymentStatus, error) {
		client, _, err := GatewayClient(db, store)
		if err != nil {
			return nil, err
		}
		return client.FetchPaymentStatus(ctx, gatewayID)
	})
	return svc
}
