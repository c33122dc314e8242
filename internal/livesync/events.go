package livesync

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/pyth-watch/publisher-monitor/internal/common"
	"github.com/pyth-watch/publisher-monitor/internal/pyth"
	"github.com/pyth-watch/publisher-monitor/internal/solana"
	"github.com/pyth-watch/publisher-monitor/pkg/pipeline"
)

// Origin tags where a price update entered the system. All origins funnel
// into the same merge algorithm.
type Origin string

const (
	OriginAccountChange Origin = "account-change"
	OriginProgramChange Origin = "program-change"
	OriginPriceFeed     Origin = "price-feed"
)

// PriceUpdateEvent is the normalized shape every update origin is adapted to.
type PriceUpdateEvent struct {
	Origin Origin
	Price  *pyth.PriceAccount
	// Slot the notification was delivered at. Informational; deduplication
	// uses the per publisher publish slots inside Price.
	Slot uint64
}

// FromAccountChange normalizes a raw single-account notification.
func FromAccountChange(data []byte, slot uint64) (PriceUpdateEvent, error) {
	return fromRaw(OriginAccountChange, data, slot)
}

// FromProgramChange normalizes a program-wide filtered notification.
func FromProgramChange(data []byte, slot uint64) (PriceUpdateEvent, error) {
	return fromRaw(OriginProgramChange, data, slot)
}

// FromPriceFeed normalizes an already decoded price record.
func FromPriceFeed(price *pyth.PriceAccount) PriceUpdateEvent {
	return PriceUpdateEvent{Origin: OriginPriceFeed, Price: price}
}

func fromRaw(origin Origin, data []byte, slot uint64) (PriceUpdateEvent, error) {
	price, err := pyth.ParsePrice(data)
	if err != nil {
		return PriceUpdateEvent{}, common.NewErrProcessingError(err, pipeline.DecodeCategory, "failed to decode %s update at slot %d", origin, slot)
	}

	return PriceUpdateEvent{Origin: origin, Price: price, Slot: slot}, nil
}

// NewAccountChangeAdapter bridges the subscription callback to the merge
// processing. Malformed or failing events are absorbed here: logged, counted,
// never fatal for the subscription.
func NewAccountChangeAdapter(ctx context.Context, processing pipeline.Processing[PriceUpdateEvent], errProcessing pipeline.Processing[pipeline.ErrProcessingError], logger logr.Logger) solana.AccountChangeHandler {
	return func(data []byte, slot uint64) {
		event, err := FromAccountChange(data, slot)
		if err != nil {
			logger.V(1).Info("Dropping malformed price update", "slot", slot, "err", err)
			countError(ctx, errProcessing, err, logger)

			return
		}

		err = processing.Process(ctx, event)
		if err != nil {
			logger.V(1).Info("Dropping failed price update", "slot", slot, "err", err)
			countError(ctx, errProcessing, err, logger)
		}
	}
}

func countError(ctx context.Context, errProcessing pipeline.Processing[pipeline.ErrProcessingError], err error, logger logr.Logger) {
	if errProcessing == nil {
		return
	}

	processingError, ok := err.(pipeline.ErrProcessingError)
	if !ok {
		processingError = pipeline.NewErrProcessingError(err, pipeline.UnknownCategory)
	}

	countErr := errProcessing.Process(ctx, processingError)
	if countErr != nil {
		logger.Error(countErr, "Error processing failed")
	}
}
