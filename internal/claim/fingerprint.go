package claim

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	xerrors "PoE-Chain/internal/errors"
)

// DefaultMaxClaimLength 是未配置时使用的指纹长度上限。
const DefaultMaxClaimLength = 512

// Fingerprint 是存证的不可变字节指纹，只能通过有界构造函数创建。
type Fingerprint struct {
	raw string
}

// NewFingerprint 校验长度后构造指纹。maxLen 小于等于 0 时使用 DefaultMaxClaimLength。
func NewFingerprint(raw []byte, maxLen int) (Fingerprint, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxClaimLength
	}
	if len(raw) > maxLen {
		return Fingerprint{}, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("claim length %d exceeds limit %d", len(raw), maxLen),
			xerrors.WithMetadata("length", strconv.Itoa(len(raw))),
			xerrors.WithMetadata("max_length", strconv.Itoa(maxLen)),
		)
	}
	return Fingerprint{raw: string(raw)}, nil
}

// ParseFingerprint 解析十六进制（可带 0x 前缀）形式的指纹。
func ParseFingerprint(s string, maxLen int) (Fingerprint, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return Fingerprint{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "claim must be hex encoded")
	}
	return NewFingerprint(raw, maxLen)
}

// MustFingerprint 用于测试与常量场景，超长时 panic。
func MustFingerprint(raw []byte) Fingerprint {
	fp, err := NewFingerprint(raw, len(raw))
	if err != nil {
		panic(err)
	}
	return fp
}

// Bytes 返回指纹字节的副本。
func (f Fingerprint) Bytes() []byte {
	return []byte(f.raw)
}

// Len 返回指纹长度。
func (f Fingerprint) Len() int {
	return len(f.raw)
}

// Hex 返回带 0x 前缀的十六进制表示。
func (f Fingerprint) Hex() string {
	return "0x" + hex.EncodeToString([]byte(f.raw))
}

// String 实现 fmt.Stringer。
func (f Fingerprint) String() string {
	return f.Hex()
}

// Equal 按字节比较两个指纹。
func (f Fingerprint) Equal(other Fingerprint) bool {
	return bytes.Equal([]byte(f.raw), []byte(other.raw))
}
