// Package accounts provisions users: a wallet is generated the first time
// a user shows up and its native balance is cached on the profile.
package accounts

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/trahn-swapbot/internal/ledger"
	"github.com/kjannette/trahn-swapbot/internal/models"
	"github.com/kjannette/trahn-swapbot/internal/units"
)

type BalanceSource interface {
	Balance(ctx context.Context, owner common.Address) (*big.Int, error)
}

type Service struct {
	store  ledger.Store
	ledger *ledger.Ledger
	chain  BalanceSource
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewService(store ledger.Store, l *ledger.Ledger, chain BalanceSource, log logrus.FieldLogger) *Service {
	return &Service{
		store:  store,
		ledger: l,
		chain:  chain,
		log:    log.WithField("component", "accounts"),
		now:    time.Now,
	}
}

// Get loads an existing user.
func (s *Service) Get(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.store.FindUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	return u, nil
}

// GetOrCreate returns the user, creating it with a new wallet when it does
// not exist yet. created reports whether this call made the user.
func (s *Service) GetOrCreate(ctx context.Context, userID string) (u *models.User, created bool, err error) {
	if userID == "" {
		return nil, false, fmt.Errorf("user id is required")
	}
	u, err = s.store.FindUser(ctx, userID)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, false, fmt.Errorf("load user %s: %w", userID, err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, false, fmt.Errorf("generate wallet: %w", err)
	}
	now := s.now().UTC()
	u = &models.User{
		ID:            userID,
		WalletAddress: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Credential:    models.Credential(hex.EncodeToString(crypto.FromECDSA(key))),
		Trades:        []models.Trade{},
		Positions:     []models.Position{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if bal, err := s.chain.Balance(ctx, common.HexToAddress(u.WalletAddress)); err != nil {
		s.log.WithError(err).WithField("user", userID).Warn("initial balance lookup failed")
	} else {
		u.Balance, u.BalanceUpdatedAt = units.WeiToNative(bal), now
	}

	if err := s.store.SaveUser(ctx, u); err != nil {
		if errors.Is(err, models.ErrVersionConflict) {
			// Another request created the user first; theirs wins.
			existing, ferr := s.store.FindUser(ctx, userID)
			if ferr != nil {
				return nil, false, fmt.Errorf("load user %s: %w", userID, ferr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create user %s: %w", userID, err)
	}

	s.log.WithFields(logrus.Fields{"user": userID, "wallet": u.WalletAddress}).Info("user created")
	return u, true, nil
}

// RefreshBalance reads the wallet's balance from the chain and caches it.
func (s *Service) RefreshBalance(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	bal, err := s.chain.Balance(ctx, common.HexToAddress(u.WalletAddress))
	if err != nil {
		return nil, fmt.Errorf("fetch balance: %w", err)
	}
	native := units.WeiToNative(bal)
	return s.ledger.Update(ctx, userID, func(u *models.User) error {
		u.Balance = native
		u.BalanceUpdatedAt = s.now().UTC()
		return nil
	})
}
