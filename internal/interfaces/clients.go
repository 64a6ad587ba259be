package interfaces

import (
	"context"

	"github.com/avisanghavi/keyvault/internal/models"
)

// ProviderClient talks to an external OAuth provider's token endpoint.
type ProviderClient interface {
	ExchangeCode(ctx context.Context, svc *models.ServiceConfig, code string) (*models.TokenResponse, error)
	RefreshToken(ctx context.Context, svc *models.ServiceConfig, refreshToken string) (*models.TokenResponse, error)
}
