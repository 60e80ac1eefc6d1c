package handler

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/honeynil/referral-credit-service/internal/models"
	service "github.com/honeynil/referral-credit-service/internal/services"
)

type mockAuthService struct{ mock.Mock }

func (m *mockAuthService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	args := m.Called(ctx, email, password)
	user, _ := args.Get(1).(*models.User)
	return args.String(0), user, args.Error(2)
}

func (m *mockAuthService) IssueToken(ctx context.Context, user *models.User) (string, error) {
	args := m.Called(ctx, user)
	return args.String(0), args.Error(1)
}

func (m *mockAuthService) Profile(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, userID)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

type mockReferralService struct{ mock.Mock }

func (m *mockReferralService) GenerateUniqueReferralCode(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockReferralService) Register(ctx context.Context, req service.RegisterRequest) (*models.User, error) {
	args := m.Called(ctx, req)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func (m *mockReferralService) ValidateReferralCode(ctx context.Context, code string, currentUserID *uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, code, currentUserID)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

type mockResetService struct{ mock.Mock }

func (m *mockResetService) RequestReset(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

func (m *mockResetService) ConsumeReset(ctx context.Context, token, newPassword string) error {
	return m.Called(ctx, token, newPassword).Error(0)
}

func (m *mockResetService) CheckReset(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

type mockSettlementService struct{ mock.Mock }

func (m *mockSettlementService) SettlePurchase(ctx context.Context, req service.SettleRequest) (*service.SettlementResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*service.SettlementResult)
	return res, args.Error(1)
}
