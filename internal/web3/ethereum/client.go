package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"PoE-Chain/internal/claim"
	xerrors "PoE-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes the EVM node used as the registry's logical clock.
type Config struct {
	Name string
	// RPCURL is the JSON-RPC endpoint of the node.
	RPCURL string
	// ChainID, when non-zero, must match the node's reported chain id.
	ChainID uint64
	// Confirmations is subtracted from the head so only settled blocks are reported.
	Confirmations uint64
}

// BlockReader is the subset of an EVM client needed to read the chain head.
type BlockReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// BlockClock implements claim.LogicalClock by reading the chain head.
type BlockClock struct {
	name          string
	reader        BlockReader
	confirmations uint64
	closer        func()
	mu            sync.Mutex
}

var _ claim.LogicalClock = (*BlockClock)(nil)

// DialBlockClock connects to cfg.RPCURL and verifies the chain id when configured.
func DialBlockClock(ctx context.Context, cfg Config) (*BlockClock, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeClockFailure, err, "连接以太坊节点失败")
	}
	eth := ethclient.NewClient(rpcClient)

	clock := NewBlockClockFromBackend(cfg.Name, eth, cfg.Confirmations)
	clock.closer = eth.Close

	if cfg.ChainID != 0 {
		if err := clock.VerifyChainID(ctx, cfg.ChainID); err != nil {
			clock.Close()
			return nil, err
		}
	}
	return clock, nil
}

// NewBlockClockFromBackend wraps any block reader, such as a simulated backend client.
func NewBlockClockFromBackend(name string, reader BlockReader, confirmations uint64) *BlockClock {
	if name == "" {
		name = "ethereum"
	}
	return &BlockClock{name: name, reader: reader, confirmations: confirmations}
}

// Name returns the configured network name.
func (c *BlockClock) Name() string { return c.name }

// Now returns the latest settled block number.
func (c *BlockClock) Now(ctx context.Context) (claim.TimePoint, error) {
	reader := c.backend()
	if reader == nil {
		return 0, xerrors.New(xerrors.CodeClockFailure, "以太坊客户端已关闭")
	}
	head, err := reader.BlockNumber(ctx)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeClockFailure, err, "获取最新区块高度失败",
			xerrors.WithMetadata("network", c.name))
	}
	if head < c.confirmations {
		return 0, nil
	}
	return claim.TimePoint(head - c.confirmations), nil
}

// VerifyChainID fails when the node serves a different chain than expected.
func (c *BlockClock) VerifyChainID(ctx context.Context, expected uint64) error {
	reader := c.backend()
	if reader == nil {
		return xerrors.New(xerrors.CodeClockFailure, "以太坊客户端已关闭")
	}
	id, err := reader.ChainID(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeClockFailure, err, "获取链 ID 失败")
	}
	if id == nil || !id.IsUint64() || id.Uint64() != expected {
		return xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("链 ID 不匹配: 期望 %d, 实际 %s", expected, toString(id)))
	}
	return nil
}

// Close releases the underlying RPC connection.
func (c *BlockClock) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closer != nil {
		c.closer()
		c.closer = nil
	}
	c.reader = nil
}

func (c *BlockClock) backend() BlockReader {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reader
}

func toString(v *big.Int) string {
	if v == nil {
		return "<nil>"
	}
	return v.String()
}
