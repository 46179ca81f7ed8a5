package auth

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// CanonicalRequest builds the message a client signs for a request.
func CanonicalRequest(method, path string, timestamp int64, nonce string, body []byte) []byte {
	sum := sha256.Sum256(body)
	return []byte(fmt.Sprintf("%s\n%s\n%d\n%s\n%s",
		strings.ToUpper(method), path, timestamp, nonce, hex.EncodeToString(sum[:])))
}

// SignRequest produces a 0x-prefixed EIP-191 signature over the canonical request.
func SignRequest(key *ecdsa.PrivateKey, method, path string, timestamp int64, nonce string, body []byte) (string, error) {
	digest := accounts.TextHash(CanonicalRequest(method, path, timestamp, nonce, body))
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// RecoverSigner returns the address that produced signature over the canonical request.
func RecoverSigner(method, path string, timestamp int64, nonce string, body []byte, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	digest := accounts.TextHash(CanonicalRequest(method, path, timestamp, nonce, body))
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	return crypto.PubkeyToAddress(*pub), nil
}
