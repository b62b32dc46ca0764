package ghost

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// DefaultProgramID is the deployed GhostOdds program.
var DefaultProgramID = solana.MustPublicKeyFromBase58("FU64EotiwqACVJ9hyhH6XA9iiqQKmWjmPTUmSF1i3ar9")

// Seed tables, one per entity type. Changing seed order or content breaks
// every derived address, so these stay in lock-step with the program.
//
//	platform:  ["platform"]
//	market:    ["market",   market_id le u64]
//	yes_mint:  ["yes_mint", market_id le u64]
//	no_mint:   ["no_mint",  market_id le u64]
//	vault:     ["vault",    market_id le u64]
//	position:  ["position", market_id le u64, user key]

func DerivePlatformPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("platform")}, programID)
}

func DeriveMarketPDA(programID solana.PublicKey, marketID uint64) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("market"), u64LE(marketID)}, programID)
}

func DeriveYesMintPDA(programID solana.PublicKey, marketID uint64) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("yes_mint"), u64LE(marketID)}, programID)
}

func DeriveNoMintPDA(programID solana.PublicKey, marketID uint64) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("no_mint"), u64LE(marketID)}, programID)
}

func DeriveVaultPDA(programID solana.PublicKey, marketID uint64) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("vault"), u64LE(marketID)}, programID)
}

func DerivePositionPDA(programID solana.PublicKey, marketID uint64, user solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("position"), u64LE(marketID), user.Bytes()}, programID)
}

func MustDeriveMarketPDA(programID solana.PublicKey, marketID uint64) solana.PublicKey {
	pk, _, err := DeriveMarketPDA(programID, marketID)
	if err != nil {
		panic(fmt.Errorf("derive market PDA: %w", err))
	}
	return pk
}

// DeriveHoldingAddress returns the user's associated token account for mint.
func DeriveHoldingAddress(wallet, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(wallet, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive associated token address: %w", err)
	}
	return addr, nil
}

func u64LE(value uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	return buf
}
