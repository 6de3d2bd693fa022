package services

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"rewards-ledger-system/logging"
	"rewards-ledger-system/models"

	"github.com/google/uuid"
	"github.com/gosimple/unidecode"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	referralCodeLength   = 8
	referralCodeAttempts = 5
	referralCodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	referralParamPrefix  = "REF_"
)

// AccountService resolves identities to accounts and applies the referral
// credit when an account is created.
type AccountService struct {
	DB       *gorm.DB
	Settings *SettingsService
	Events   *EventHub
	Now      func() time.Time
}

func NewAccountService(db *gorm.DB, settings *SettingsService, events *EventHub) *AccountService {
	return &AccountService{DB: db, Settings: settings, Events: events, Now: time.Now}
}

// Identity is what the gateway knows about the caller, plus the referral
// code from the launch link if there was one.
type Identity struct {
	ExternalID   string  `json:"-"`
	Username     *string `json:"username"`
	FirstName    *string `json:"first_name"`
	LastName     *string `json:"last_name"`
	ReferralCode string  `json:"referral_code"`
}

// Register returns the account for id.ExternalID, creating it on first
// sight. created reports whether this call created it. The referral credit
// is applied in the creating transaction, so it happens at most once per
// account no matter how many times the identity is resolved.
func (s *AccountService) Register(ctx context.Context, id Identity) (acct models.Account, created bool, err error) {
	externalID := strings.TrimSpace(id.ExternalID)
	if externalID == "" {
		return acct, false, ErrInvalidIdentity
	}

	err = s.DB.WithContext(ctx).Where("external_id = ?", externalID).First(&acct).Error
	if err == nil {
		return acct, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return acct, false, storageErr("load account", err)
	}

	now := s.Now().UTC()
	var referrerID string
	var referralAmount, referrerBalance int64

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		settings, err := s.Settings.snapshot(tx)
		if err != nil {
			return err
		}

		var referredBy *string
		if code := NormalizeReferralCode(id.ReferralCode); code != "" {
			var referrer models.Account
			err := tx.Select("id", "external_id").Where("referral_code = ?", code).First(&referrer).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				logging.Logger.Info("[ACCOUNTS] unknown referral code ignored", zap.String("code", code))
			case err != nil:
				return err
			case referrer.ExternalID != externalID:
				referredBy = &referrer.ID
			}
		}

		code, err := newUniqueReferralCode(tx)
		if err != nil {
			return err
		}

		acct = models.Account{
			ID:           uuid.NewString(),
			ExternalID:   externalID,
			Username:     trimmed(id.Username),
			FirstName:    trimmed(id.FirstName),
			LastName:     trimmed(id.LastName),
			ReferralCode: code,
			ReferredBy:   referredBy,
		}
		acct.SearchName = searchKey(acct)

		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoNothing: true,
		}).Create(&acct)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost a creation race; the winner already applied any referral.
			return tx.Where("external_id = ?", externalID).First(&acct).Error
		}
		created = true

		if referredBy != nil {
			referrerID = *referredBy
			referralAmount = settings.ReferralRewardPoints
			referrerBalance, err = creditReferral(tx, referrerID, acct.ID, referralAmount, now)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.Account{}, false, passThrough("register account", err)
	}

	if created {
		logging.Logger.Info("[ACCOUNTS] account created",
			zap.String("account_id", acct.ID),
			zap.String("external_id", externalID),
			zap.Bool("referred", referrerID != ""))
		s.Events.Publish(LedgerEvent{Type: EventAccountCreated, AccountID: acct.ID, At: now})
		if referrerID != "" {
			publishReferral(s.Events, referrerID, referralAmount, referrerBalance, now)
		}
	}
	return acct, created, nil
}

// Get loads an account by its internal id.
func (s *AccountService) Get(ctx context.Context, id string) (models.Account, error) {
	var acct models.Account
	if _, err := uuid.Parse(id); err != nil {
		return acct, ErrAccountNotFound
	}
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return acct, ErrAccountNotFound
	}
	if err != nil {
		return acct, storageErr("load account", err)
	}
	return acct, nil
}

// GetByExternalID loads the account for a platform identity.
func (s *AccountService) GetByExternalID(ctx context.Context, externalID string) (models.Account, error) {
	var acct models.Account
	err := s.DB.WithContext(ctx).Where("external_id = ?", strings.TrimSpace(externalID)).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return acct, ErrAccountNotFound
	}
	if err != nil {
		return acct, storageErr("load account", err)
	}
	return acct, nil
}

// Referrals lists the accounts referred by accountID, newest first.
func (s *AccountService) Referrals(ctx context.Context, accountID string) ([]models.ReferralSummary, error) {
	var out []models.ReferralSummary
	err := s.DB.WithContext(ctx).
		Model(&models.Account{}).
		Select("id", "username", "first_name", "created_at").
		Where("referred_by = ?", accountID).
		Order("created_at DESC").
		Scan(&out).Error
	if err != nil {
		return nil, storageErr("list referrals", err)
	}
	return out, nil
}

// likeEscaper makes search input match literally inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// AccountQuery filters the admin account listing.
type AccountQuery struct {
	Search string
	Banned *bool
	Limit  int
	Offset int
}

// List returns accounts for the admin console with the total match count.
func (s *AccountService) List(ctx context.Context, q AccountQuery) ([]models.Account, int64, error) {
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	db := s.DB.WithContext(ctx).Model(&models.Account{})
	if term := strings.TrimSpace(q.Search); term != "" {
		like := "%" + likeEscaper.Replace(strings.ToLower(unidecode.Unidecode(term))) + "%"
		db = db.Where(`search_name LIKE ? ESCAPE '\' OR external_id = ? OR referral_code = ?`, like, term, strings.ToUpper(term))
	}
	if q.Banned != nil {
		db = db.Where("banned = ?", *q.Banned)
	}
	db = db.Session(&gorm.Session{})

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, storageErr("count accounts", err)
	}
	var accounts []models.Account
	if err := db.Order("created_at DESC").Limit(q.Limit).Offset(q.Offset).Find(&accounts).Error; err != nil {
		return nil, 0, storageErr("list accounts", err)
	}
	return accounts, total, nil
}

// SetBanned flips the ban flag. Balance and history are kept.
func (s *AccountService) SetBanned(ctx context.Context, id string, banned bool) (models.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Account{}, ErrAccountNotFound
	}
	res := s.DB.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Update("banned", banned)
	if res.Error != nil {
		return models.Account{}, storageErr("ban account", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.Account{}, ErrAccountNotFound
	}
	logging.Logger.Info("[ACCOUNTS] ban flag changed", zap.String("account_id", id), zap.Bool("banned", banned))
	return s.Get(ctx, id)
}

// NormalizeReferralCode accepts codes as typed or as carried in a launch
// parameter ("ref_ab12cd34") and returns the canonical upper-case form, or
// "" when raw cannot be a referral code.
func NormalizeReferralCode(raw string) string {
	code := strings.ToUpper(strings.TrimSpace(raw))
	code = strings.TrimPrefix(code, referralParamPrefix)
	if code == "" || len(code) > 16 {
		return ""
	}
	for _, r := range code {
		if !strings.ContainsRune(referralCodeAlphabet, r) {
			return ""
		}
	}
	return code
}

func newUniqueReferralCode(tx *gorm.DB) (string, error) {
	for i := 0; i < referralCodeAttempts; i++ {
		code, err := randomReferralCode()
		if err != nil {
			return "", err
		}
		var n int64
		if err := tx.Model(&models.Account{}).Where("referral_code = ?", code).Count(&n).Error; err != nil {
			return "", err
		}
		if n == 0 {
			return code, nil
		}
	}
	return "", errors.New("could not allocate a unique referral code")
}

func randomReferralCode() (string, error) {
	max := big.NewInt(int64(len(referralCodeAlphabet)))
	buf := make([]byte, referralCodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = referralCodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// searchKey folds display fields to lowercase ASCII for admin search.
func searchKey(a models.Account) string {
	var parts []string
	for _, p := range []*string{a.Username, a.FirstName, a.LastName} {
		if p != nil && *p != "" {
			parts = append(parts, *p)
		}
	}
	return strings.ToLower(unidecode.Unidecode(strings.Join(parts, " ")))
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}
