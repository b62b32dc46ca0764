package ghost

import "crypto/sha256"

// Anchor account discriminators: sha256("account:<Name>")[0..8].
var (
	PlatformDiscriminator = accountDiscriminator("Platform")
	MarketDiscriminator   = accountDiscriminator("Market")
	PositionDiscriminator = accountDiscriminator("UserPosition")
)

// Anchor instruction discriminators: sha256("global:<snake_case_name>")[0..8].
var (
	initializePlatformDisc = instructionDiscriminator("initialize_platform")
	createMarketDisc       = instructionDiscriminator("create_market")
	buyOutcomeDisc         = instructionDiscriminator("buy_outcome")
	sellOutcomeDisc        = instructionDiscriminator("sell_outcome")
	resolveMarketDisc      = instructionDiscriminator("resolve_market")
	redeemWinningsDisc     = instructionDiscriminator("redeem_winnings")
	cancelMarketDisc       = instructionDiscriminator("cancel_market")
	redeemCancelledDisc    = instructionDiscriminator("redeem_cancelled")
)

func accountDiscriminator(name string) [8]byte {
	return discriminator("account:" + name)
}

func instructionDiscriminator(name string) [8]byte {
	return discriminator("global:" + name)
}

func discriminator(preimage string) [8]byte {
	hash := sha256.Sum256([]byte(preimage))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}
