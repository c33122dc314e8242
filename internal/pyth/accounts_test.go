package pyth

import (
	"encoding/binary"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyth-watch/publisher-monitor/internal/domain/entity"
)

func testKey(seed byte) [32]byte {
	var key [32]byte
	for i := range key {
		key[i] = seed
	}

	return key
}

func keyString(seed byte) string {
	key := testKey(seed)

	return base58.Encode(key[:])
}

func header(accountType AccountType, size uint32) []byte {
	ret := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(ret[0:4], Magic)
	binary.LittleEndian.PutUint32(ret[4:8], Version)
	binary.LittleEndian.PutUint32(ret[8:12], uint32(accountType))
	binary.LittleEndian.PutUint32(ret[12:16], size)

	return ret
}

func buildMapping(next byte, products ...byte) []byte {
	data := make([]byte, mappingHeaderSize+len(products)*accountKeySize)
	copy(data, header(AccountTypeMapping, uint32(len(data))))
	binary.LittleEndian.PutUint32(data[16:20], uint32(len(products)))

	if next != 0 {
		key := testKey(next)
		copy(data[24:56], key[:])
	}

	for i, seed := range products {
		key := testKey(seed)
		copy(data[mappingHeaderSize+i*accountKeySize:], key[:])
	}

	return data
}

func buildProduct(priceKey byte, attrs map[string]string) []byte {
	body := make([]byte, 0, 256)

	for key, value := range attrs {
		body = append(body, byte(len(key)))
		body = append(body, key...)
		body = append(body, byte(len(value)))
		body = append(body, value...)
	}

	data := make([]byte, productHeaderSize+len(body))
	copy(data, header(AccountTypeProduct, uint32(len(data))))

	if priceKey != 0 {
		key := testKey(priceKey)
		copy(data[16:48], key[:])
	}

	copy(data[productHeaderSize:], body)

	return data
}

type testComponent struct {
	publisher byte
	price     int64
	conf      uint64
	status    entity.PriceStatus
	slot      uint64
}

func putPriceInfo(data []byte, offset int, price int64, conf uint64, status entity.PriceStatus, slot uint64) {
	binary.LittleEndian.PutUint64(data[offset:], uint64(price))
	binary.LittleEndian.PutUint64(data[offset+8:], conf)
	binary.LittleEndian.PutUint32(data[offset+16:], uint32(status))
	binary.LittleEndian.PutUint64(data[offset+24:], slot)
}

func buildPrice(product byte, exponent int32, validSlot uint64, timestamp int64, aggregate testComponent, components ...testComponent) []byte {
	data := make([]byte, priceComponentsOffset+len(components)*priceComponentSize)
	copy(data, header(AccountTypePrice, uint32(len(data))))

	binary.LittleEndian.PutUint32(data[20:24], uint32(exponent))
	binary.LittleEndian.PutUint32(data[24:28], uint32(len(components)))
	binary.LittleEndian.PutUint64(data[40:48], validSlot)
	binary.LittleEndian.PutUint64(data[96:104], uint64(timestamp))

	productKey := testKey(product)
	copy(data[112:144], productKey[:])

	putPriceInfo(data, 208, aggregate.price, aggregate.conf, aggregate.status, aggregate.slot)

	for i, comp := range components {
		offset := priceComponentsOffset + i*priceComponentSize

		key := testKey(comp.publisher)
		copy(data[offset:offset+32], key[:])

		// aggregate then latest, identical values are good enough here
		putPriceInfo(data, offset+32, comp.price, comp.conf, comp.status, comp.slot)
		putPriceInfo(data, offset+64, comp.price, comp.conf, comp.status, comp.slot)
	}

	return data
}

func TestParseMapping(t *testing.T) {
	mapping, err := ParseMapping(buildMapping(9, 1, 2, 3))
	require.NoError(t, err)

	assert.Equal(t, []string{keyString(1), keyString(2), keyString(3)}, mapping.ProductAccountKeys)
	assert.Equal(t, keyString(9), mapping.NextMappingAccount)
}

func TestParseMappingLastNode(t *testing.T) {
	mapping, err := ParseMapping(buildMapping(0, 4))
	require.NoError(t, err)

	assert.Empty(t, mapping.NextMappingAccount)
	assert.Equal(t, []string{keyString(4)}, mapping.ProductAccountKeys)
}

func TestParseMappingRejectsWrongType(t *testing.T) {
	_, err := ParseMapping(buildProduct(1, nil))
	assert.Error(t, err)
}

func TestParsePriceRejectsUnsupportedVersion(t *testing.T) {
	aggregate := testComponent{price: 100, conf: 1, status: entity.PriceStatusTrading, slot: 10}

	data := buildPrice(2, -2, 9, 0, aggregate)
	binary.LittleEndian.PutUint32(data[4:8], 99)

	_, err := ParsePrice(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version 99")
}

func TestParseMappingRejectsBadMagic(t *testing.T) {
	data := buildMapping(0, 1)
	data[0] = 0

	_, err := ParseMapping(data)
	assert.Error(t, err)
}

func TestParseProduct(t *testing.T) {
	product, err := ParseProduct(buildProduct(7, map[string]string{
		"symbol":         "Crypto.RAY/USD",
		"asset_type":     "Crypto",
		"base":           "RAY",
		"quote_currency": "USD",
		"generic_symbol": "RAYUSD",
		"description":    "RAYDIUM / US DOLLAR",
	}))
	require.NoError(t, err)

	assert.Equal(t, keyString(7), product.PriceAccountKey)
	assert.Equal(t, "Crypto.RAY/USD", product.Attributes["symbol"])

	info := product.ProductInfo(keyString(2))
	assert.Equal(t, "RAY", info.Base)
	assert.Equal(t, "USD", info.QuoteCurrency)
	assert.Equal(t, "Crypto", info.AssetType)
	assert.Equal(t, keyString(7), info.PriceAccount)
	assert.Equal(t, keyString(2), info.ProductAccount)
}

func TestParseProductWithoutPriceAccount(t *testing.T) {
	product, err := ParseProduct(buildProduct(0, map[string]string{"symbol": "FX.EUR/USD"}))
	require.NoError(t, err)

	assert.Empty(t, product.PriceAccountKey)
}

func TestParsePrice(t *testing.T) {
	aggregate := testComponent{price: 4212500000, conf: 1000000, status: entity.PriceStatusTrading, slot: 120}
	publisher := testComponent{publisher: 5, price: 4212400000, conf: 2000000, status: entity.PriceStatusTrading, slot: 119}

	price, err := ParsePrice(buildPrice(2, -8, 118, 1700000000, aggregate, publisher))
	require.NoError(t, err)

	assert.Equal(t, int32(-8), price.Exponent)
	assert.Equal(t, keyString(2), price.ProductAccountKey)
	assert.Equal(t, uint64(118), price.ValidSlot)
	assert.Equal(t, int64(1700000000), price.Timestamp)

	require.Len(t, price.Components, 1)
	assert.Equal(t, keyString(5), price.Components[0].Publisher)
	assert.Equal(t, uint64(119), price.Components[0].Latest.PublishSlot)

	detail := price.PublisherPriceInfo(price.Components[0])
	assert.Equal(t, "42.124", detail.PublishPrice)
	assert.Equal(t, "0.02", detail.PublishConfidence)
	assert.Equal(t, entity.PriceStatusTrading, detail.PublishStatus)

	product := price.ProductPriceInfo()
	assert.Equal(t, "42.125", product.ProductPrice)
	assert.Equal(t, "0.01", product.ProductConfidence)
	assert.Equal(t, uint64(118), product.ValidSlot)
}

func TestParsePriceSkipsEmptyPublisherSlots(t *testing.T) {
	aggregate := testComponent{price: 100, conf: 1, status: entity.PriceStatusTrading, slot: 10}

	// component with a zero publisher key, as on chain accounts pad unused slots
	price, err := ParsePrice(buildPrice(2, -2, 9, 0, aggregate, testComponent{publisher: 0, price: 1, conf: 1, slot: 1}))
	require.NoError(t, err)

	assert.Empty(t, price.Components)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "42.125", FormatAmount(4212500000, -8))
	assert.Equal(t, "-1.5", FormatAmount(-150, -2))
	assert.Equal(t, "300", FormatAmount(3, 2))
}

func TestMappingAccountForCluster(t *testing.T) {
	root, err := MappingAccountForCluster(entity.ClusterMainnetBeta)
	require.NoError(t, err)
	assert.Equal(t, "AHtgzX45WTKfkPG53L6WYhGEXwQkN1BVknET3sVsLL8J", root)

	_, err = MappingAccountForCluster(entity.Cluster("nope"))
	assert.Error(t, err)
}

func TestIsAccountKey(t *testing.T) {
	assert.True(t, IsAccountKey("AHtgzX45WTKfkPG53L6WYhGEXwQkN1BVknET3sVsLL8J"))
	assert.False(t, IsAccountKey("not-a-key"))
	assert.False(t, IsAccountKey("abc"))
}
