package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	stderrors "errors"

	"github.com/paypass/wash-service/internal/infrastructure/kafka"
	"github.com/paypass/wash-service/internal/infrastructure/observability"
	"github.com/paypass/wash-service/internal/infrastructure/redis"
	"github.com/paypass/wash-service/internal/models"
	"github.com/paypass/wash-service/internal/repository"
	"github.com/paypass/wash-service/internal/token"
	pkgerrors "github.com/paypass/wash-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const topicWashes = "washes"

// RedemptionResult reports a consumed credit.
type RedemptionResult struct {
	UserPackageID    int64                    `json:"user_package_id"`
	CreditsRemaining int32                    `json:"credits_remaining"`
	Status           models.UserPackageStatus `json:"status"`
}

// ScanInfo is the read-only view behind the scanner's pre-wash screen; it
// consumes nothing.
type ScanInfo struct {
	UserPackageID    int64                    `json:"user_package_id"`
	UserID           string                   `json:"user_id"`
	PackageID        string                   `json:"package_id"`
	CreditsRemaining int32                    `json:"credits_remaining"`
	ExpiresAt        time.Time                `json:"expires_at"`
	Status           models.UserPackageStatus `json:"status"`
}

// UserPackageView pairs a stored row with its derived status.
type UserPackageView struct {
	models.UserPackage
	Status models.UserPackageStatus `json:"status"`
}

type RedemptionService interface {
	// Redeem consumes exactly one credit for a scanned token.
	Redeem(ctx context.Context, tok, locationID string) (*RedemptionResult, error)
	ScanInfo(ctx context.Context, tok string) (*ScanInfo, error)
	ListUserPackages(ctx context.Context, userID string) ([]UserPackageView, error)
	// PackageQR re-renders the scannable image for an owned package.
	PackageQR(ctx context.Context, userID string, userPackageID int64) ([]byte, error)
	ListWashes(ctx context.Context, userID string, userPackageID int64) ([]models.Wash, error)
	LocationDailyWashes(ctx context.Context, locationID string, day time.Time) (int64, error)
}

type redemptionService struct {
	userPackageRepo repository.UserPackageRepository
	washRepo        repository.WashRepository
	redisClient     redis.RedisClient
	kafkaProducer   kafka.KafkaProducer
}

func NewRedemptionService(
	userPackageRepo repository.UserPackageRepository,
	washRepo repository.WashRepository,
	redisClient redis.RedisClient,
	kafkaProducer kafka.KafkaProducer,
) *redemptionService {
	return &redemptionService{
		userPackageRepo: userPackageRepo,
		washRepo:        washRepo,
		redisClient:     redisClient,
		kafkaProducer:   kafkaProducer,
	}
}

// resolve maps a scanned token onto its stored package. Decode failures stop
// before any storage lookup; a well-formed token that matches no row is
// unknown, which also covers forged-but-plausible tokens.
func (s *redemptionService) resolve(ctx context.Context, tok string) (*models.UserPackage, error) {
	if !token.IsWellFormed(tok) {
		return nil, pkgerrors.ErrMalformedToken
	}
	if _, err := token.Decode(tok); err != nil {
		return nil, err
	}
	return s.userPackageRepo.GetByToken(ctx, tok)
}

func (s *redemptionService) Redeem(ctx context.Context, tok, locationID string) (*RedemptionResult, error) {
	tracer := otel.Tracer("redemption-service")
	ctx, span := tracer.Start(ctx, "Redeem")
	span.SetAttributes(attribute.String("location_id", locationID))
	defer span.End()

	if locationID == "" {
		span.SetStatus(codes.Error, "missing location id")
		return nil, fmt.Errorf("location id is required")
	}

	userPackage, err := s.resolve(ctx, tok)
	if err != nil {
		span.SetStatus(codes.Error, "token resolution failed")
		s.countOutcome(err)
		slog.Warn("redemption rejected", "location_id", locationID, "error", err)
		return nil, err
	}

	remaining, err := s.userPackageRepo.RedeemCredit(ctx, userPackage.ID, locationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "redeem failed")
		s.countOutcome(err)
		slog.Warn("redemption rejected",
			"user_package_id", userPackage.ID,
			"location_id", locationID,
			"credits_remaining", userPackage.CreditsRemaining,
			"expires_at", userPackage.ExpiresAt,
			"error", err)
		return nil, err
	}

	observability.RedemptionsTotal.WithLabelValues("success").Inc()
	s.publishWashEvent(ctx, userPackage.ID, locationID)

	userPackage.CreditsRemaining = remaining
	result := &RedemptionResult{
		UserPackageID:    userPackage.ID,
		CreditsRemaining: remaining,
		Status:           userPackage.StatusAt(time.Now()),
	}
	slog.Info("credit redeemed",
		"user_package_id", userPackage.ID,
		"location_id", locationID,
		"credits_remaining", remaining)
	return result, nil
}

func (s *redemptionService) ScanInfo(ctx context.Context, tok string) (*ScanInfo, error) {
	userPackage, err := s.resolve(ctx, tok)
	if err != nil {
		return nil, err
	}
	return &ScanInfo{
		UserPackageID:    userPackage.ID,
		UserID:           userPackage.UserID,
		PackageID:        userPackage.PackageID,
		CreditsRemaining: userPackage.CreditsRemaining,
		ExpiresAt:        userPackage.ExpiresAt,
		Status:           userPackage.StatusAt(time.Now()),
	}, nil
}

func (s *redemptionService) ListUserPackages(ctx context.Context, userID string) ([]UserPackageView, error) {
	packages, err := s.userPackageRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	views := make([]UserPackageView, 0, len(packages))
	for _, up := range packages {
		views = append(views, UserPackageView{UserPackage: up, Status: up.StatusAt(now)})
	}
	return views, nil
}

func (s *redemptionService) PackageQR(ctx context.Context, userID string, userPackageID int64) ([]byte, error) {
	userPackage, err := s.userPackageRepo.GetByID(ctx, userPackageID)
	if err != nil {
		return nil, err
	}
	if userPackage.UserID != userID {
		// Do not leak other users' package ids.
		return nil, pkgerrors.ErrUserPackageNotFound
	}
	return token.RenderPackageQR(userPackage.Token, userPackage.CreditsRemaining, userPackage.ExpiresAt, nil)
}

func (s *redemptionService) ListWashes(ctx context.Context, userID string, userPackageID int64) ([]models.Wash, error) {
	userPackage, err := s.userPackageRepo.GetByID(ctx, userPackageID)
	if err != nil {
		return nil, err
	}
	if userPackage.UserID != userID {
		return nil, pkgerrors.ErrUserPackageNotFound
	}
	return s.washRepo.ListByUserPackage(ctx, userPackageID)
}

func (s *redemptionService) LocationDailyWashes(ctx context.Context, locationID string, day time.Time) (int64, error) {
	key := kafka.DailyCounterKey(locationID, day)
	val, err := s.redisClient.Get(ctx, key)
	if stderrors.Is(err, redis.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read wash counter: %w", err)
	}
	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid wash counter value %q: %w", val, err)
	}
	return count, nil
}

func (s *redemptionService) countOutcome(err error) {
	switch {
	case stderrors.Is(err, pkgerrors.ErrMalformedToken):
		observability.RedemptionsTotal.WithLabelValues("malformed_token").Inc()
	case stderrors.Is(err, pkgerrors.ErrUnknownToken):
		observability.RedemptionsTotal.WithLabelValues("unknown_token").Inc()
	case stderrors.Is(err, pkgerrors.ErrPackageExhausted):
		observability.RedemptionsTotal.WithLabelValues("exhausted").Inc()
	case stderrors.Is(err, pkgerrors.ErrPackageExpired):
		observability.RedemptionsTotal.WithLabelValues("expired").Inc()
	default:
		observability.RedemptionsTotal.WithLabelValues("error").Inc()
	}
}

func (s *redemptionService) publishWashEvent(ctx context.Context, userPackageID int64, locationID string) {
	event := kafka.WashEvent{
		UserPackageID: userPackageID,
		LocationID:    locationID,
		Credits:       1,
		RedeemedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal wash event", "user_package_id", userPackageID, "error", err)
		return
	}
	if err := s.kafkaProducer.Send(ctx, topicWashes, userPackageID, eventBytes); err != nil {
		// The credit is already consumed; stats lag is acceptable.
		slog.Error("failed to publish wash event", "user_package_id", userPackageID, "error", err)
	}
}
