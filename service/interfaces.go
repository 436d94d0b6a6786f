package service

import (
	"context"
	"time"

	"github.com/hisabimbola/ostrom-bridge/clients/ostrom"
)

// PriceSource provides authenticated access to hourly spot prices.
type PriceSource interface {
	EnsureValidToken(ctx context.Context) (ostrom.Token, error)
	FetchSpotPrices(ctx context.Context, token ostrom.Token, zip string, start, end time.Time) ([]ostrom.RawPriceRecord, error)
}
