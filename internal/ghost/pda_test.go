package ghost_test

import (
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/ghostodds/backend/internal/ghost"
)

func TestDerivationIsDeterministic(t *testing.T) {
	user := solana.MustPublicKeyFromBase58("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS")

	first, firstBump, err := ghost.DerivePositionPDA(ghost.DefaultProgramID, 42, user)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	second, secondBump, err := ghost.DerivePositionPDA(ghost.DefaultProgramID, 42, user)
	if err != nil {
		t.Fatalf("derive again: %v", err)
	}
	if !first.Equals(second) || firstBump != secondBump {
		t.Errorf("derivation not stable: %s/%d vs %s/%d", first, firstBump, second, secondBump)
	}
}

func TestDerivationSeparatesEntities(t *testing.T) {
	seen := map[solana.PublicKey]string{}
	record := func(name string, pk solana.PublicKey, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("derive %s: %v", name, err)
		}
		if prev, dup := seen[pk]; dup {
			t.Errorf("%s and %s derive the same address %s", name, prev, pk)
		}
		seen[pk] = name
	}

	platform, _, err := ghost.DerivePlatformPDA(ghost.DefaultProgramID)
	record("platform", platform, err)

	for _, id := range []uint64{0, 1, 42} {
		market, _, err := ghost.DeriveMarketPDA(ghost.DefaultProgramID, id)
		record("market", market, err)
		yes, _, err := ghost.DeriveYesMintPDA(ghost.DefaultProgramID, id)
		record("yes mint", yes, err)
		no, _, err := ghost.DeriveNoMintPDA(ghost.DefaultProgramID, id)
		record("no mint", no, err)
		vault, _, err := ghost.DeriveVaultPDA(ghost.DefaultProgramID, id)
		record("vault", vault, err)
	}
}

func TestPositionDerivationSeparatesUsers(t *testing.T) {
	alice := solana.MustPublicKeyFromBase58("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS")
	bob := solana.MustPublicKeyFromBase58("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T")

	alicePos, _, err := ghost.DerivePositionPDA(ghost.DefaultProgramID, 7, alice)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	bobPos, _, err := ghost.DerivePositionPDA(ghost.DefaultProgramID, 7, bob)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if alicePos.Equals(bobPos) {
		t.Error("positions for different users must not collide")
	}

	aliceOther, _, err := ghost.DerivePositionPDA(ghost.DefaultProgramID, 8, alice)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if alicePos.Equals(aliceOther) {
		t.Error("positions for different markets must not collide")
	}
}

func TestHoldingAddressMatchesAssociatedTokenDerivation(t *testing.T) {
	owner := solana.MustPublicKeyFromBase58("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS")
	mint := solana.WrappedSol

	got, err := ghost.DeriveHoldingAddress(owner, mint)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	want, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		t.Fatalf("reference derive: %v", err)
	}
	if !got.Equals(want) {
		t.Errorf("holding address = %s, want %s", got, want)
	}
}
