package service

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/honeynil/referral-credit-service/pkg/errors"
)

const DefaultReferralBonus int64 = 2

var maxBonus = decimal.NewFromInt(math.MaxInt64)

// RewardPolicy decides how many credits a qualifying purchase pays out.
// Percent > 0 pays floor(amount * Percent / 100) instead of the fixed Bonus.
type RewardPolicy struct {
	Bonus          int64
	Percent        int64
	RewardReferrer bool
	RewardReferred bool
}

func DefaultRewardPolicy() RewardPolicy {
	return RewardPolicy{Bonus: DefaultReferralBonus, RewardReferrer: true, RewardReferred: true}
}

// Amount never returns a negative bonus. A product outside int64 is an error
// rather than a wrapped value.
func (p RewardPolicy) Amount(purchaseAmount decimal.Decimal) (int64, error) {
	if p.Percent <= 0 {
		return p.Bonus, nil
	}
	bonus := purchaseAmount.Mul(decimal.NewFromInt(p.Percent)).Div(decimal.NewFromInt(100)).Floor()
	if bonus.IsNegative() {
		return 0, nil
	}
	if bonus.GreaterThan(maxBonus) {
		return 0, fmt.Errorf("%w: referral bonus for amount %s overflows", pkgerrors.ErrInvalidInput, purchaseAmount)
	}
	return bonus.IntPart(), nil
}
