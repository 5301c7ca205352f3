package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/whatsapp-automation/gateway/internal/config"
)

// ErrOTPInvalid is returned when a code is unknown, expired or already used.
var ErrOTPInvalid = errors.New("invalid or expired OTP")

// OTPStore holds pending config changes keyed by (number, code).
type OTPStore interface {
	SaveOTP(ctx context.Context, number, code string, cfg []byte, ttl time.Duration) error
	// VerifyOTP returns the bound config and consumes the code.
	VerifyOTP(ctx context.Context, number, code string) ([]byte, error)
}

// NewOTPStore uses redis when an address is configured and reachable, and the
// database table otherwise.
func NewOTPStore(ctx context.Context, cfg config.RedisConfig, db *Store, log *logrus.Entry) OTPStore {
	if cfg.Addr == "" {
		log.Info("Using database OTP store")
		return db
	}
	rs, err := NewRedisOTPStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Warn("Redis connection failed, falling back to database OTP store")
		return db
	}
	log.WithField("addr", cfg.Addr).Info("Using redis OTP store")
	return rs
}

// SaveOTP stores code for number until ttl elapses.
func (s *Store) SaveOTP(ctx context.Context, number, code string, cfg []byte, ttl time.Duration) error {
	rec := PendingOTP{
		Number:    number,
		Code:      code,
		Config:    string(cfg),
		ExpiresAt: s.now().Add(ttl),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "number"}, {Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"config", "expires_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save otp: %w", err)
	}
	return nil
}

func (s *Store) VerifyOTP(ctx context.Context, number, code string) ([]byte, error) {
	var rec PendingOTP
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("number = ? AND code = ? AND expires_at > ?", number, code, s.now()).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOTPInvalid
		}
		if err != nil {
			return err
		}
		res := tx.Delete(&PendingOTP{}, rec.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrOTPInvalid
		}
		return nil
	})
	if errors.Is(err, ErrOTPInvalid) {
		return nil, ErrOTPInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("verify otp: %w", err)
	}
	return []byte(rec.Config), nil
}

// PurgeExpiredOTPs deletes codes past their expiry and returns the count.
func (s *Store) PurgeExpiredOTPs(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now()).Delete(&PendingOTP{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge otps: %w", res.Error)
	}
	return res.RowsAffected, nil
}

const redisOTPPrefix = "otp:"

// RedisOTPStore keeps codes as expiring redis keys.
type RedisOTPStore struct {
	client *redis.Client
}

func NewRedisOTPStore(ctx context.Context, cfg config.RedisConfig) (*RedisOTPStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisOTPStore{client: client}, nil
}

// NewRedisOTPStoreWithClient wraps an existing client.
func NewRedisOTPStoreWithClient(client *redis.Client) *RedisOTPStore {
	return &RedisOTPStore{client: client}
}

func otpKey(number, code string) string {
	return redisOTPPrefix + number + ":" + code
}

func (r *RedisOTPStore) SaveOTP(ctx context.Context, number, code string, cfg []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, otpKey(number, code), cfg, ttl).Err(); err != nil {
		return fmt.Errorf("save otp: %w", err)
	}
	return nil
}

func (r *RedisOTPStore) VerifyOTP(ctx context.Context, number, code string) ([]byte, error) {
	data, err := r.client.GetDel(ctx, otpKey(number, code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrOTPInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("verify otp: %w", err)
	}
	return data, nil
}

func (r *RedisOTPStore) Close() error {
	return r.client.Close()
}
