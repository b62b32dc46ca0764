package ghost

import (
	"bytes"
	"encoding/binary"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Account encoders mirror the decoders field for field. The on-chain
// program owns the real serialization; these exist so local tooling and
// tests can fabricate account images with the exact wire layout.

// EncodePlatform serializes a Platform account, discriminator included.
func EncodePlatform(p *Platform) ([]byte, error) {
	w := newBorshWriter(PlatformDiscriminator)
	w.pubkey(p.Authority)
	w.u64(p.MarketCount)
	w.u64(p.TotalVolume)
	w.u16(p.FeeBps)
	w.pubkey(p.Treasury)
	w.u8(p.Bump)
	return w.finish()
}

// EncodeMarket serializes a Market account, discriminator included.
func EncodeMarket(m *Market) ([]byte, error) {
	w := newBorshWriter(MarketDiscriminator)
	w.u64(m.MarketID)
	w.pubkey(m.Authority)
	w.str(m.Question)
	w.str(m.Description)
	w.str(m.Category)
	w.pubkey(m.CollateralMint)
	w.pubkey(m.YesMint)
	w.pubkey(m.NoMint)
	w.pubkey(m.Vault)
	w.u64(m.YesReserve)
	w.u64(m.NoReserve)
	w.u64(m.TotalLiquidity)
	w.u64(m.Volume)
	w.str(m.ResolutionSource)
	w.optionU64(m.ResolutionValue)
	w.u8(m.ResolutionOperator)
	w.i64(m.CreatedAt)
	w.i64(m.ExpiresAt)
	w.i64(m.LockTime)
	w.optionI64(m.ResolvedAt)
	w.optionBool(m.Outcome)
	w.u8(m.Status)
	w.u16(m.FeeBps)
	w.u8(m.Bump)
	return w.finish()
}

// EncodePosition serializes a UserPosition account, discriminator included.
func EncodePosition(p *Position) ([]byte, error) {
	w := newBorshWriter(PositionDiscriminator)
	w.pubkey(p.User)
	w.u64(p.MarketID)
	w.u64(p.YesTokens)
	w.u64(p.NoTokens)
	w.u64(p.TotalDeposited)
	w.u64(p.TotalWithdrawn)
	w.u8(p.Bump)
	return w.finish()
}

type borshWriter struct {
	buf *bytes.Buffer
	enc *bin.Encoder
	err error
}

func newBorshWriter(disc [8]byte) *borshWriter {
	buf := new(bytes.Buffer)
	w := &borshWriter{buf: buf, enc: bin.NewBorshEncoder(buf)}
	w.bytes(disc[:])
	return w
}

func (w *borshWriter) finish() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

func (w *borshWriter) record(err error) {
	if w.err == nil && err != nil {
		w.err = err
	}
}

func (w *borshWriter) bytes(b []byte) { w.record(w.enc.WriteBytes(b, false)) }

func (w *borshWriter) u8(v uint8) { w.record(w.enc.WriteUint8(v)) }

func (w *borshWriter) u16(v uint16) { w.record(w.enc.WriteUint16(v, binary.LittleEndian)) }

func (w *borshWriter) u64(v uint64) { w.record(w.enc.WriteUint64(v, binary.LittleEndian)) }

func (w *borshWriter) i64(v int64) { w.record(w.enc.WriteInt64(v, binary.LittleEndian)) }

func (w *borshWriter) boolean(v bool) { w.record(w.enc.WriteBool(v)) }

func (w *borshWriter) pubkey(pk solana.PublicKey) { w.bytes(pk.Bytes()) }

func (w *borshWriter) str(s string) { w.record(w.enc.WriteString(s)) }

func (w *borshWriter) optionU64(v *uint64) {
	if v == nil {
		w.u8(0)
		return
	}
	w.u8(1)
	w.u64(*v)
}

func (w *borshWriter) optionI64(v *int64) {
	if v == nil {
		w.u8(0)
		return
	}
	w.u8(1)
	w.i64(*v)
}

func (w *borshWriter) optionBool(v *bool) {
	if v == nil {
		w.u8(0)
		return
	}
	w.u8(1)
	w.boolean(*v)
}
