package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	EnvPrivateKey       = "AMMSWAP_PRIVATE_KEY"
	EnvPrivateKeyFile   = "AMMSWAP_PRIVATE_KEY_FILE"
	EnvKeystorePath     = "AMMSWAP_KEYSTORE_PATH"
	EnvKeystorePassword = "AMMSWAP_KEYSTORE_PASSWORD"

	KeySourceAuto     = "auto"
	KeySourceEnv      = "env"
	KeySourceFile     = "file"
	KeySourceKeystore = "keystore"
)

// LocalSigner signs with an in-memory secp256k1 key.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func (s *LocalSigner) Address() common.Address {
	return s.address
}

// String keeps key material out of formatted output.
func (s *LocalSigner) String() string {
	if s == nil {
		return "local-signer(<nil>)"
	}
	return "local-signer(" + s.address.Hex() + ")"
}

func (s *LocalSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("local signer is not initialized")
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// NewLocalSignerFromHex builds a signer from a caller-supplied hex key.
// Errors never echo the key material.
func NewLocalSignerFromHex(raw string) (*LocalSigner, error) {
	key, err := parseHexKey(raw)
	if err != nil {
		return nil, err
	}
	return newLocalSigner(key), nil
}

// KeyInputs are the places a CLI signing key can come from. Precedence in
// auto mode is Hex, then File, then Keystore.
type KeyInputs struct {
	Hex      string
	File     string
	Keystore string
	Password string
}

func KeyInputsFromEnv() KeyInputs {
	return KeyInputs{
		Hex:      strings.TrimSpace(os.Getenv(EnvPrivateKey)),
		File:     strings.TrimSpace(os.Getenv(EnvPrivateKeyFile)),
		Keystore: strings.TrimSpace(os.Getenv(EnvKeystorePath)),
		Password: os.Getenv(EnvKeystorePassword),
	}
}

// only keeps the inputs that belong to source.
func (in KeyInputs) only(source string) (KeyInputs, error) {
	switch source {
	case "", KeySourceAuto:
		return in, nil
	case KeySourceEnv:
		return KeyInputs{Hex: in.Hex}, nil
	case KeySourceFile:
		return KeyInputs{File: in.File}, nil
	case KeySourceKeystore:
		return KeyInputs{Keystore: in.Keystore, Password: in.Password}, nil
	}
	return KeyInputs{}, fmt.Errorf("unsupported key source %q (expected %s|%s|%s|%s)", source, KeySourceAuto, KeySourceEnv, KeySourceFile, KeySourceKeystore)
}

func (in KeyInputs) load() (*ecdsa.PrivateKey, error) {
	switch {
	case in.Hex != "":
		return parseHexKey(in.Hex)
	case in.File != "":
		buf, err := os.ReadFile(in.File)
		if err != nil {
			return nil, fmt.Errorf("read private key file: %w", err)
		}
		return parseHexKey(string(buf))
	case in.Keystore != "":
		if strings.TrimSpace(in.Password) == "" {
			return nil, fmt.Errorf("keystore password is required (set %s)", EnvKeystorePassword)
		}
		buf, err := os.ReadFile(in.Keystore)
		if err != nil {
			return nil, fmt.Errorf("read keystore file: %w", err)
		}
		key, err := keystore.DecryptKey(buf, in.Password)
		if err != nil {
			return nil, fmt.Errorf("decrypt keystore: %w", err)
		}
		return key.PrivateKey, nil
	}
	return nil, fmt.Errorf("missing signing key: pass --private-key or set %s, %s or %s", EnvPrivateKey, EnvPrivateKeyFile, EnvKeystorePath)
}

// NewLocalSignerFromInputs resolves the CLI key. A non-empty override
// (the --private-key flag) wins over every environment source.
func NewLocalSignerFromInputs(source, override string) (*LocalSigner, error) {
	if strings.TrimSpace(override) != "" {
		return NewLocalSignerFromHex(override)
	}
	inputs, err := KeyInputsFromEnv().only(strings.ToLower(strings.TrimSpace(source)))
	if err != nil {
		return nil, err
	}
	key, err := inputs.load()
	if err != nil {
		return nil, err
	}
	return newLocalSigner(key), nil
}

func newLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	if clean == "" {
		return nil, errors.New("empty private key")
	}
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, errors.New("private key must be 64 hex characters")
	}
	return key, nil
}
