// Package pyth decodes the three binary account layouts of the oracle
// program: mapping accounts (a linked list of product account keys), product
// accounts (instrument metadata plus the linked price account) and price
// accounts (aggregate price plus per publisher components).
package pyth

import (
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"github.com/pyth-watch/publisher-monitor/internal/domain/entity"
)

const (
	// Magic is the little endian marker every oracle account starts with.
	Magic uint32 = 0xa1b2c3d4
	// Version is the only account layout revision these decoders understand.
	Version uint32 = 2

	accountKeySize = 32
	headerSize     = 16

	mappingHeaderSize = 56 // header + count + unused + next pointer
	productHeaderSize = 48 // header + price account key

	priceComponentsOffset = 240
	priceComponentSize    = 96 // publisher key + aggregate + latest
)

type AccountType uint32

const (
	AccountTypeUnknown AccountType = iota
	AccountTypeMapping
	AccountTypeProduct
	AccountTypePrice
)

// MappingAccount is one node of the product directory linked list.
type MappingAccount struct {
	// ProductAccountKeys is one page of product account addresses.
	ProductAccountKeys []string
	// NextMappingAccount is empty on the last node.
	NextMappingAccount string
}

// ProductAccount is the decoded static metadata of one instrument.
type ProductAccount struct {
	// PriceAccountKey is empty when the product has no linked price account.
	PriceAccountKey string
	Attributes      map[string]string
}

// PriceAccount is the decoded current price record of one product.
type PriceAccount struct {
	Exponent          int32
	ProductAccountKey string
	ValidSlot         uint64
	Timestamp         int64
	Aggregate         PriceInfo
	Components        []PriceComponent
}

// PriceInfo is one raw price observation, scaled by the account exponent.
type PriceInfo struct {
	PriceComponent      int64
	ConfidenceComponent uint64
	Status              entity.PriceStatus
	PublishSlot         uint64
}

// PriceComponent is one publisher's contribution to a price account.
type PriceComponent struct {
	Publisher string
	Aggregate PriceInfo
	Latest    PriceInfo
}

func parseHeader(data []byte, want AccountType) error {
	if len(data) < headerSize {
		return fmt.Errorf("account data too short: %d bytes", len(data))
	}

	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != Magic {
		return fmt.Errorf("bad magic 0x%x", magic)
	}

	version := binary.LittleEndian.Uint32(data[4:8])
	if version != Version {
		return fmt.Errorf("unsupported version %d, want %d", version, Version)
	}

	accountType := AccountType(binary.LittleEndian.Uint32(data[8:12]))
	if accountType != want {
		return fmt.Errorf("unexpected account type %d, want %d", accountType, want)
	}

	return nil
}

func accountKeyAt(data []byte, offset int) string {
	key := data[offset : offset+accountKeySize]

	zero := true

	for _, b := range key {
		if b != 0 {
			zero = false

			break
		}
	}

	if zero {
		return ""
	}

	return base58.Encode(key)
}

// ParseMapping decodes one mapping account.
func ParseMapping(data []byte) (*MappingAccount, error) {
	err := parseHeader(data, AccountTypeMapping)
	if err != nil {
		return nil, fmt.Errorf("invalid mapping account: %w", err)
	}

	if len(data) < mappingHeaderSize {
		return nil, fmt.Errorf("mapping account too short: %d bytes", len(data))
	}

	count := int(binary.LittleEndian.Uint32(data[16:20]))

	if len(data) < mappingHeaderSize+count*accountKeySize {
		return nil, fmt.Errorf("mapping account truncated: %d keys in %d bytes", count, len(data))
	}

	ret := &MappingAccount{
		ProductAccountKeys: make([]string, 0, count),
		NextMappingAccount: accountKeyAt(data, 24),
	}

	for i := 0; i < count; i++ {
		ret.ProductAccountKeys = append(ret.ProductAccountKeys, accountKeyAt(data, mappingHeaderSize+i*accountKeySize))
	}

	return ret, nil
}

// ParseProduct decodes one product account. Attribute keys follow the on
// chain naming (symbol, asset_type, base, quote_currency, ...).
func ParseProduct(data []byte) (*ProductAccount, error) {
	err := parseHeader(data, AccountTypeProduct)
	if err != nil {
		return nil, fmt.Errorf("invalid product account: %w", err)
	}

	if len(data) < productHeaderSize {
		return nil, fmt.Errorf("product account too short: %d bytes", len(data))
	}

	size := int(binary.LittleEndian.Uint32(data[12:16]))
	if size > len(data) {
		size = len(data)
	}

	ret := &ProductAccount{
		PriceAccountKey: accountKeyAt(data, 16),
		Attributes:      make(map[string]string),
	}

	pos := productHeaderSize

	for pos < size {
		keyLen := int(data[pos])
		pos++

		if keyLen == 0 || pos+keyLen > size {
			break
		}

		key := string(data[pos : pos+keyLen])
		pos += keyLen

		if pos >= size {
			break
		}

		valLen := int(data[pos])
		pos++

		if pos+valLen > size {
			break
		}

		ret.Attributes[key] = string(data[pos : pos+valLen])
		pos += valLen
	}

	return ret, nil
}

func parsePriceInfo(data []byte, offset int) PriceInfo {
	return PriceInfo{
		PriceComponent:      int64(binary.LittleEndian.Uint64(data[offset : offset+8])),
		ConfidenceComponent: binary.LittleEndian.Uint64(data[offset+8 : offset+16]),
		Status:              entity.PriceStatus(binary.LittleEndian.Uint32(data[offset+16 : offset+20])),
		PublishSlot:         binary.LittleEndian.Uint64(data[offset+24 : offset+32]),
	}
}

// ParsePrice decodes one price account.
func ParsePrice(data []byte) (*PriceAccount, error) {
	err := parseHeader(data, AccountTypePrice)
	if err != nil {
		return nil, fmt.Errorf("invalid price account: %w", err)
	}

	if len(data) < priceComponentsOffset {
		return nil, fmt.Errorf("price account too short: %d bytes", len(data))
	}

	count := int(binary.LittleEndian.Uint32(data[24:28]))

	if len(data) < priceComponentsOffset+count*priceComponentSize {
		return nil, fmt.Errorf("price account truncated: %d components in %d bytes", count, len(data))
	}

	ret := &PriceAccount{
		Exponent:          int32(binary.LittleEndian.Uint32(data[20:24])),
		ValidSlot:         binary.LittleEndian.Uint64(data[40:48]),
		Timestamp:         int64(binary.LittleEndian.Uint64(data[96:104])),
		ProductAccountKey: accountKeyAt(data, 112),
		Aggregate:         parsePriceInfo(data, 208),
		Components:        make([]PriceComponent, 0, count),
	}

	for i := 0; i < count; i++ {
		offset := priceComponentsOffset + i*priceComponentSize

		publisher := accountKeyAt(data, offset)
		if publisher == "" {
			continue
		}

		ret.Components = append(ret.Components, PriceComponent{
			Publisher: publisher,
			Aggregate: parsePriceInfo(data, offset+accountKeySize),
			Latest:    parsePriceInfo(data, offset+accountKeySize+32),
		})
	}

	return ret, nil
}

// FormatAmount scales a raw integer component by the power of ten exponent
// into a decimal string, e.g. (4212500000, -8) -> "42.125".
func FormatAmount(raw int64, exponent int32) string {
	return decimal.New(raw, exponent).String()
}

// FormatUnsignedAmount is FormatAmount for confidence components.
func FormatUnsignedAmount(raw uint64, exponent int32) string {
	return decimal.New(int64(raw), exponent).String()
}

// PublisherPriceInfo maps one publisher component to the entity level record.
func (p *PriceAccount) PublisherPriceInfo(component PriceComponent) entity.PublisherPriceInfo {
	return entity.PublisherPriceInfo{
		PublishPrice:      FormatAmount(component.Latest.PriceComponent, p.Exponent),
		PublishConfidence: FormatUnsignedAmount(component.Latest.ConfidenceComponent, p.Exponent),
		PublishStatus:     component.Latest.Status,
		PublishSlot:       component.Latest.PublishSlot,
		PublisherAccount:  component.Publisher,
	}
}

// ProductPriceInfo maps the aggregate price to the entity level record.
func (p *PriceAccount) ProductPriceInfo() entity.ProductPriceInfo {
	return entity.ProductPriceInfo{
		ProductStatus:     p.Aggregate.Status,
		ProductPrice:      FormatAmount(p.Aggregate.PriceComponent, p.Exponent),
		ProductConfidence: FormatUnsignedAmount(p.Aggregate.ConfidenceComponent, p.Exponent),
		ValidSlot:         p.ValidSlot,
		Timestamp:         p.Timestamp,
	}
}

// ProductInfo maps decoded product attributes to the entity level record.
func (p *ProductAccount) ProductInfo(productAccount string) entity.ProductInfo {
	return entity.ProductInfo{
		Symbol:         p.Attributes["symbol"],
		Base:           p.Attributes["base"],
		QuoteCurrency:  p.Attributes["quote_currency"],
		AssetType:      p.Attributes["asset_type"],
		GenericSymbol:  p.Attributes["generic_symbol"],
		Description:    p.Attributes["description"],
		PriceAccount:   p.PriceAccountKey,
		ProductAccount: productAccount,
	}
}
