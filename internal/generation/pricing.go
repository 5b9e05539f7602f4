package generation

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/pixelmint-ai/pixelmint-backend/pkg/errors"
)

// Resolution tiers and their per-image price in credits. Prices are decimal
// so tier multipliers stay exact if they ever become fractional.
var (
	basePricePerImage = decimal.NewFromInt(1)

	tierStandardMultiplier = decimal.NewFromInt(1) // up to 512x512
	tierHighMultiplier     = decimal.NewFromInt(2) // up to 1024x1024
	tierUltraMultiplier    = decimal.NewFromInt(4) // anything larger
)

const (
	minDimension = 256
	maxDimension = 2048
	maxImages    = 4
)

// CostCredits prices one request from its resolution tier and image count.
// The result is frozen onto the task at creation and is the exact refund on
// failure.
func CostCredits(width, height, numImages int) (int64, error) {
	if width < minDimension || width > maxDimension || height < minDimension || height > maxDimension {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "width and height must be between 256 and 2048")
	}
	if numImages < 1 || numImages > maxImages {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "num_images must be between 1 and 4")
	}

	multiplier := tierUltraMultiplier
	pixels := int64(width) * int64(height)
	switch {
	case pixels <= 512*512:
		multiplier = tierStandardMultiplier
	case pixels <= 1024*1024:
		multiplier = tierHighMultiplier
	}

	total := basePricePerImage.
		Mul(multiplier).
		Mul(decimal.NewFromInt(int64(numImages))).
		Ceil()
	return total.IntPart(), nil
}
