package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceStatusTextRoundTrip(t *testing.T) {
	for _, status := range []PriceStatus{PriceStatusUnknown, PriceStatusTrading, PriceStatusHalted, PriceStatusAuction} {
		text, err := status.MarshalText()
		require.NoError(t, err)

		var decoded PriceStatus
		require.NoError(t, decoded.UnmarshalText(text))
		assert.Equal(t, status, decoded)
	}

	var decoded PriceStatus
	assert.Error(t, decoded.UnmarshalText([]byte("Suspended")))
}

func TestPublishDetailJSONRoundTrip(t *testing.T) {
	detail := PublishDetail{}
	detail.Symbol = "Crypto.RAY/USD"
	detail.PublishStatus = PriceStatusTrading
	detail.ProductStatus = PriceStatusHalted
	detail.PublishSlot = 5

	raw, err := json.Marshal(detail)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"publishStatus":"Trading"`)

	var decoded PublishDetail
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, detail, decoded)
}
