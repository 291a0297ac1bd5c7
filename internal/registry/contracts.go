package registry

import "strings"

// Router calling conventions.
const (
	RouterKindDirect  = "direct"
	RouterKindCommand = "command"
)

// Deployment lists the canonical V3 contracts of one DEX on one chain.
type Deployment struct {
	DEX             string
	Factory         string
	QuoterV2        string
	SwapRouter      string
	UniversalRouter string
}

var v3DeploymentsByChainID = map[int64]Deployment{
	1: {
		DEX:             "Uniswap V3",
		Factory:         "0x1F98431c8aD98523631AE4a59f267346ea31F984",
		QuoterV2:        "0x61fFE014bA17989E743c5F6cB21bF9697530B21e",
		SwapRouter:      "0x68b3465833fb72A70ecDF485E0e4C7bD8665Fc45",
		UniversalRouter: "0x3fC91A3afd70395Cd496C647d5a6CC9D4B2b7FAD",
	},
	56: {
		DEX:             "PancakeSwap V3",
		Factory:         "0x0BFbCF9fa4f9C56B0F40a671Ad40E0805A091865",
		QuoterV2:        "0xB048Bbc1Ee6b733FFfCFb9e9CeF7375518e25997",
		SwapRouter:      "0x13f4EA83D0bd40E75C8222255bc855a974568Dd4",
		UniversalRouter: "0x1A0A18AC4BECDDbd6389559687d1A73d8927E416",
	},
}

func V3Deployment(chainID int64) (Deployment, bool) {
	d, ok := v3DeploymentsByChainID[chainID]
	return d, ok
}

// RouterKind reports the calling convention of a canonical router address.
func RouterKind(chainID int64, router string) (string, bool) {
	d, ok := v3DeploymentsByChainID[chainID]
	if !ok {
		return "", false
	}
	switch {
	case strings.EqualFold(router, d.SwapRouter):
		return RouterKindDirect, true
	case strings.EqualFold(router, d.UniversalRouter):
		return RouterKindCommand, true
	}
	return "", false
}

// TokenDefault is a statically known token.
type TokenDefault struct {
	Address  string
	Symbol   string
	Decimals uint8
}

// Default traded pair per chain.
var defaultPairByChainID = map[int64][2]TokenDefault{
	56: {
		{Address: "0xad8c787992428cD158E451aAb109f724B6bc36de", Symbol: "ASP", Decimals: 18},
		{Address: "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c", Symbol: "WBNB", Decimals: 18},
	},
}

func DefaultPair(chainID int64) (TokenDefault, TokenDefault, bool) {
	pair, ok := defaultPairByChainID[chainID]
	if !ok {
		return TokenDefault{}, TokenDefault{}, false
	}
	return pair[0], pair[1], true
}
