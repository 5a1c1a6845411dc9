package chains

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidConfig = errors.New("chains: invalid config")
	ErrUnknownChain  = errors.New("chains: unknown chain")
	ErrUnknownToken  = errors.New("chains: unknown token")
)

// TokenKind selects which escrow contract flavour (and ABI) backs a token.
type TokenKind uint8

const (
	TokenKindUnknown TokenKind = iota
	TokenKindNative
	TokenKindERC20
)

func (k TokenKind) String() string {
	switch k {
	case TokenKindNative:
		return "native"
	case TokenKindERC20:
		return "erc20"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Token describes one escrow contract instance on a chain.
//
// TokenAddress is zero for native-currency escrows.
type Token struct {
	Symbol       string
	Kind         TokenKind
	Contract     common.Address
	TokenAddress common.Address
	Decimals     uint8
}

// Chain is an immutable view over the escrow contracts deployed on one chain.
type Chain struct {
	ID   uint64
	Name string

	tokens map[string]Token
}

func NewChain(id uint64, name string, tokens ...Token) (Chain, error) {
	if id == 0 {
		return Chain{}, fmt.Errorf("%w: chain id must be non-zero", ErrInvalidConfig)
	}
	if strings.TrimSpace(name) == "" {
		return Chain{}, fmt.Errorf("%w: chain name must be non-empty", ErrInvalidConfig)
	}
	if len(tokens) == 0 {
		return Chain{}, fmt.Errorf("%w: chain %s has no tokens", ErrInvalidConfig, name)
	}

	m := make(map[string]Token, len(tokens))
	for i, t := range tokens {
		sym := normalizeSymbol(t.Symbol)
		if sym == "" {
			return Chain{}, fmt.Errorf("%w: token[%d] symbol is empty", ErrInvalidConfig, i)
		}
		if _, ok := m[sym]; ok {
			return Chain{}, fmt.Errorf("%w: duplicate token %s", ErrInvalidConfig, sym)
		}
		if t.Contract == (common.Address{}) {
			return Chain{}, fmt.Errorf("%w: token %s contract is zero", ErrInvalidConfig, sym)
		}
		switch t.Kind {
		case TokenKindNative:
			if t.TokenAddress != (common.Address{}) {
				return Chain{}, fmt.Errorf("%w: native token %s must not set a token address", ErrInvalidConfig, sym)
			}
		case TokenKindERC20:
			if t.TokenAddress == (common.Address{}) {
				return Chain{}, fmt.Errorf("%w: erc20 token %s needs a token address", ErrInvalidConfig, sym)
			}
		default:
			return Chain{}, fmt.Errorf("%w: token %s has unknown kind", ErrInvalidConfig, sym)
		}
		t.Symbol = sym
		m[sym] = t
	}
	return Chain{ID: id, Name: name, tokens: m}, nil
}

// Token resolves a token symbol. An empty symbol selects "eth".
func (c Chain) Token(symbol string) (Token, error) {
	sym := normalizeSymbol(symbol)
	if sym == "" {
		sym = DefaultToken
	}
	t, ok := c.tokens[sym]
	if !ok {
		return Token{}, fmt.Errorf("%w: %q on %s", ErrUnknownToken, symbol, c.Name)
	}
	return t, nil
}

// Symbols returns the supported token symbols in sorted order.
func (c Chain) Symbols() []string {
	out := make([]string, 0, len(c.tokens))
	for s := range c.tokens {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

const DefaultToken = "eth"

func normalizeSymbol(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Registry indexes chains by id and by name.
type Registry struct {
	byID   map[uint64]Chain
	byName map[string]uint64
}

func NewRegistry(chains ...Chain) (*Registry, error) {
	r := &Registry{
		byID:   make(map[uint64]Chain, len(chains)),
		byName: make(map[string]uint64, len(chains)),
	}
	for _, c := range chains {
		if c.ID == 0 || len(c.tokens) == 0 {
			return nil, fmt.Errorf("%w: chain %q not built with NewChain", ErrInvalidConfig, c.Name)
		}
		if _, ok := r.byID[c.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate chain id %d", ErrInvalidConfig, c.ID)
		}
		r.byID[c.ID] = c
		r.byName[strings.ToLower(c.Name)] = c.ID
	}
	return r, nil
}

func (r *Registry) ByID(id uint64) (Chain, error) {
	if r == nil {
		return Chain{}, ErrUnknownChain
	}
	c, ok := r.byID[id]
	if !ok {
		return Chain{}, fmt.Errorf("%w: id %d", ErrUnknownChain, id)
	}
	return c, nil
}

// Lookup accepts either a chain name (case-insensitive) or a decimal chain id.
func (r *Registry) Lookup(nameOrID string) (Chain, error) {
	if r == nil {
		return Chain{}, ErrUnknownChain
	}
	key := strings.ToLower(strings.TrimSpace(nameOrID))
	if id, ok := r.byName[key]; ok {
		return r.byID[id], nil
	}
	var id uint64
	if _, err := fmt.Sscanf(key, "%d", &id); err == nil && fmt.Sprint(id) == key {
		return r.ByID(id)
	}
	return Chain{}, fmt.Errorf("%w: %q", ErrUnknownChain, nameOrID)
}
