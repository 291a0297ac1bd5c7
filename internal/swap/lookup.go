package swap

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/amm-swap/internal/cache"
	"github.com/ggonzalez94/amm-swap/internal/chain"
	clierr "github.com/ggonzalez94/amm-swap/internal/errors"
	"github.com/ggonzalez94/amm-swap/internal/id"
)

type TokenInfo struct {
	Address              common.Address
	Name                 string
	Symbol               string
	Decimals             uint8
	TotalSupply          *big.Int
	TotalSupplyFormatted string
}

type tokenMeta struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// TokenInfo reads ERC20 metadata and total supply for the input token in a
// single batch. Only the immutable metadata is cached.
func (s *Service) TokenInfo(ctx context.Context) (TokenInfo, error) {
	token := s.cfg.TokenIn.Address
	key := cache.TokenKey(s.cfg.ChainID, token)

	var meta tokenMeta
	cached, err := s.cache.Lookup(ctx, key, &meta)
	if err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("cache lookup failed")
	}

	var supply *big.Int
	if cached {
		values, err := s.reader.ReadCall(ctx, token, erc20ABI, "totalSupply")
		if err != nil {
			return TokenInfo{}, err
		}
		supply = bigOrZero(values[0])
	} else {
		results, err := s.reader.ReadBatch(ctx, []chain.ReadRequest{
			{Contract: token, ABI: erc20ABI, Method: "name"},
			{Contract: token, ABI: erc20ABI, Method: "symbol"},
			{Contract: token, ABI: erc20ABI, Method: "decimals"},
			{Contract: token, ABI: erc20ABI, Method: "totalSupply"},
		})
		if err != nil {
			return TokenInfo{}, err
		}
		for _, res := range results {
			if res.Err != nil {
				return TokenInfo{}, res.Err
			}
		}
		name, _ := results[0].Values[0].(string)
		symbol, _ := results[1].Values[0].(string)
		decimals, ok := results[2].Values[0].(uint8)
		if !ok {
			return TokenInfo{}, clierr.New(clierr.CodeUnavailable, "invalid decimals response").With("contract", token.Hex())
		}
		meta = tokenMeta{Name: name, Symbol: symbol, Decimals: decimals}
		supply = bigOrZero(results[3].Values[0])
		if err := s.cache.Remember(ctx, key, meta); err != nil {
			s.log.Debug().Err(err).Str("key", key).Msg("cache write failed")
		}
	}

	return TokenInfo{
		Address:              token,
		Name:                 meta.Name,
		Symbol:               meta.Symbol,
		Decimals:             meta.Decimals,
		TotalSupply:          supply,
		TotalSupplyFormatted: id.FormatThousands(id.FromBaseUnits(supply, meta.Decimals)) + " " + meta.Symbol,
	}, nil
}

type Pool struct {
	Address common.Address
	Fee     id.FeeTier
}

// PoolInfo lists the existing pools for the configured pair across the known
// fee tiers, deduplicated by pool address.
func (s *Service) PoolInfo(ctx context.Context) ([]Pool, error) {
	sortedA, sortedB := id.SortPair(s.cfg.TokenIn.Address, s.cfg.TokenOut.Address)
	seen := make(map[common.Address]struct{})
	pools := make([]Pool, 0, len(s.cfg.KnownFeeTiers))
	for _, fee := range s.cfg.KnownFeeTiers {
		addr, err := s.getPool(ctx, sortedA, sortedB, fee)
		if err != nil {
			return nil, err
		}
		if addr == (common.Address{}) {
			addr, err = s.getPool(ctx, sortedB, sortedA, fee)
			if err != nil {
				return nil, err
			}
		}
		if addr == (common.Address{}) {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		pools = append(pools, Pool{Address: addr, Fee: fee})
	}
	s.log.Debug().Int("pools", len(pools)).Msg("pool lookup finished")
	return pools, nil
}

func (s *Service) getPool(ctx context.Context, tokenA, tokenB common.Address, fee id.FeeTier) (common.Address, error) {
	key := cache.PoolKey(s.cfg.ChainID, s.cfg.Factory, tokenA, tokenB, uint32(fee))
	var cached string
	if found, _ := s.cache.Lookup(ctx, key, &cached); found && common.IsHexAddress(cached) {
		return common.HexToAddress(cached), nil
	}
	values, err := s.reader.ReadCall(ctx, s.cfg.Factory, factoryABI, "getPool", tokenA, tokenB, fee.BigInt())
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, clierr.New(clierr.CodeUnavailable, "invalid getPool response").With("fee", uint32(fee))
	}
	if addr != (common.Address{}) {
		if err := s.cache.Remember(ctx, key, addr.Hex()); err != nil {
			s.log.Debug().Err(err).Str("key", key).Msg("cache write failed")
		}
	}
	return addr, nil
}
