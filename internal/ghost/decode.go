package ghost

import (
	"bytes"
	"encoding/binary"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Minimum serialized sizes (discriminator included). Market is variable
// because of its embedded strings; this is its size with all strings empty.
const (
	platformMinSize = 8 + 32 + 8 + 8 + 2 + 32 + 1
	positionMinSize = 8 + 32 + 8 + 8 + 8 + 8 + 8 + 1
	marketMinSize   = 8 + 8 + 32 + 4 + 4 + 4 + 32*4 + 8*4 + 4 + 1 + 1 + 8*3 + 1 + 1 + 1 + 2 + 1
)

// DecodePlatform decodes a Platform account from raw bytes.
func DecodePlatform(data []byte) (*Platform, error) {
	r, err := newAccountReader(data, PlatformDiscriminator, "Platform", platformMinSize)
	if err != nil {
		return nil, err
	}
	p := &Platform{
		Authority:   r.pubkey(),
		MarketCount: r.u64(),
		TotalVolume: r.u64(),
		FeeBps:      r.u16(),
		Treasury:    r.pubkey(),
		Bump:        r.u8(),
	}
	if r.err != nil {
		return nil, r.err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// DecodeMarket decodes a Market account from raw bytes. Accounts are
// allocated at their maximum rent size, so trailing zero padding after the
// last field is expected and ignored.
func DecodeMarket(data []byte) (*Market, error) {
	r, err := newAccountReader(data, MarketDiscriminator, "Market", marketMinSize)
	if err != nil {
		return nil, err
	}
	m := &Market{
		MarketID:           r.u64(),
		Authority:          r.pubkey(),
		Question:           r.str(),
		Description:        r.str(),
		Category:           r.str(),
		CollateralMint:     r.pubkey(),
		YesMint:            r.pubkey(),
		NoMint:             r.pubkey(),
		Vault:              r.pubkey(),
		YesReserve:         r.u64(),
		NoReserve:          r.u64(),
		TotalLiquidity:     r.u64(),
		Volume:             r.u64(),
		ResolutionSource:   r.str(),
		ResolutionValue:    r.optionU64(),
		ResolutionOperator: r.u8(),
		CreatedAt:          r.i64(),
		ExpiresAt:          r.i64(),
		LockTime:           r.i64(),
		ResolvedAt:         r.optionI64(),
		Outcome:            r.optionBool(),
		Status:             r.u8(),
		FeeBps:             r.u16(),
		Bump:               r.u8(),
	}
	if r.err != nil {
		return nil, r.err
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// DecodePosition decodes a UserPosition account from raw bytes.
func DecodePosition(data []byte) (*Position, error) {
	r, err := newAccountReader(data, PositionDiscriminator, "UserPosition", positionMinSize)
	if err != nil {
		return nil, err
	}
	p := &Position{
		User:           r.pubkey(),
		MarketID:       r.u64(),
		YesTokens:      r.u64(),
		NoTokens:       r.u64(),
		TotalDeposited: r.u64(),
		TotalWithdrawn: r.u64(),
		Bump:           r.u8(),
	}
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}

// accountReader wraps a Borsh decoder with a sticky error so decode
// functions read as a single field table. The first failure wins; later
// reads return zero values.
type accountReader struct {
	dec  *bin.Decoder
	name string
	err  error
}

func newAccountReader(data []byte, disc [8]byte, name string, minSize int) (*accountReader, error) {
	if len(data) < minSize {
		return nil, decodeErrorf("%s account too short: %d bytes, need at least %d", name, len(data), minSize)
	}
	if !bytes.Equal(data[:8], disc[:]) {
		return nil, decodeErrorf("%s discriminator mismatch: got %x, want %x", name, data[:8], disc[:])
	}
	return &accountReader{dec: bin.NewBorshDecoder(data[8:]), name: name}, nil
}

func (r *accountReader) fail(field string, err error) {
	if r.err == nil {
		r.err = decodeErrorf("%s.%s: %v", r.name, field, err)
	}
}

func (r *accountReader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint8()
	if err != nil {
		r.fail("u8", err)
	}
	return v
}

func (r *accountReader) u16() uint16 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint16(binary.LittleEndian)
	if err != nil {
		r.fail("u16", err)
	}
	return v
}

func (r *accountReader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		r.fail("u64", err)
	}
	return v
}

func (r *accountReader) i64() int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadInt64(binary.LittleEndian)
	if err != nil {
		r.fail("i64", err)
	}
	return v
}

func (r *accountReader) boolean() bool {
	if r.err != nil {
		return false
	}
	v, err := r.dec.ReadUint8()
	if err != nil {
		r.fail("bool", err)
		return false
	}
	return v != 0
}

func (r *accountReader) pubkey() solana.PublicKey {
	if r.err != nil {
		return solana.PublicKey{}
	}
	raw, err := r.dec.ReadNBytes(32)
	if err != nil {
		r.fail("pubkey", err)
		return solana.PublicKey{}
	}
	return solana.PublicKeyFromBytes(raw)
}

func (r *accountReader) str() string {
	if r.err != nil {
		return ""
	}
	v, err := r.dec.ReadString()
	if err != nil {
		r.fail("string", err)
	}
	return v
}

func (r *accountReader) optionU64() *uint64 {
	if !r.optionTag() {
		return nil
	}
	v := r.u64()
	if r.err != nil {
		return nil
	}
	return &v
}

func (r *accountReader) optionI64() *int64 {
	if !r.optionTag() {
		return nil
	}
	v := r.i64()
	if r.err != nil {
		return nil
	}
	return &v
}

func (r *accountReader) optionBool() *bool {
	if !r.optionTag() {
		return nil
	}
	v := r.boolean()
	if r.err != nil {
		return nil
	}
	return &v
}

func (r *accountReader) optionTag() bool {
	if r.err != nil {
		return false
	}
	tag, err := r.dec.ReadUint8()
	if err != nil {
		r.fail("option tag", err)
		return false
	}
	if tag > 1 {
		r.fail("option tag", decodeErrorf("invalid tag %d", tag))
		return false
	}
	return tag == 1
}
