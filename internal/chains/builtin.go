package chains

import "github.com/ethereum/go-ethereum/common"

const (
	ArbitrumID        uint64 = 42161
	ArbitrumSepoliaID uint64 = 421614
)

// Builtin returns the registry of escrow deployments the service ships with.
func Builtin() *Registry {
	arbitrum, err := NewChain(ArbitrumID, "arbitrum",
		Token{
			Symbol:   "eth",
			Kind:     TokenKindNative,
			Contract: common.HexToAddress("0xEda8B0898DAc56ead2bC4f573C5252D3ef3d0b3c"),
			Decimals: 18,
		},
		Token{
			Symbol:       "usdc",
			Kind:         TokenKindERC20,
			Contract:     common.HexToAddress("0xA7661b719aa7c7af86Dcd7bC0Dc58437945d1BEd"),
			TokenAddress: common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"),
			Decimals:     6,
		},
	)
	if err != nil {
		panic(err)
	}
	sepolia, err := NewChain(ArbitrumSepoliaID, "arbitrumSepolia",
		Token{
			Symbol:   "eth",
			Kind:     TokenKindNative,
			Contract: common.HexToAddress("0x6E46796857a0E061374a0Bcb4Ce01af851773d2A"),
			Decimals: 18,
		},
		Token{
			Symbol:       "usdc",
			Kind:         TokenKindERC20,
			Contract:     common.HexToAddress("0x48FD137b6cB91AC5e4eb5E71e0C8e31ee4801D7E"),
			TokenAddress: common.HexToAddress("0x75faf114eafb1BDbe2F0316DF893fd58CE46AA4d"),
			Decimals:     6,
		},
	)
	if err != nil {
		panic(err)
	}
	r, err := NewRegistry(arbitrum, sepolia)
	if err != nil {
		panic(err)
	}
	return r
}
