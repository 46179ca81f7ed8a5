package ethereum

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PoE-Chain/internal/claim"
	xerrors "PoE-Chain/internal/errors"
)

func newSimulatedClock(t *testing.T, confirmations uint64) (*BlockClock, *simulated.Backend) {
	t.Helper()
	backend := simulated.NewBackend(types.GenesisAlloc{})
	t.Cleanup(func() { _ = backend.Close() })
	return NewBlockClockFromBackend("simulated", backend.Client(), confirmations), backend
}

func TestBlockClockFollowsChainHead(t *testing.T) {
	clock, backend := newSimulatedClock(t, 0)
	ctx := context.Background()

	start, err := clock.Now(ctx)
	require.NoError(t, err)

	backend.Commit()
	backend.Commit()

	next, err := clock.Now(ctx)
	require.NoError(t, err)
	assert.Equal(t, start+2, next)
}

func TestBlockClockConfirmations(t *testing.T) {
	clock, backend := newSimulatedClock(t, 3)
	ctx := context.Background()

	now, err := clock.Now(ctx)
	require.NoError(t, err)
	assert.Equal(t, claim.TimePoint(0), now, "head below confirmation depth")

	for i := 0; i < 5; i++ {
		backend.Commit()
	}
	head, err := backend.Client().BlockNumber(ctx)
	require.NoError(t, err)
	now, err = clock.Now(ctx)
	require.NoError(t, err)
	assert.Equal(t, claim.TimePoint(head-3), now)
}

func TestBlockClockVerifyChainID(t *testing.T) {
	clock, backend := newSimulatedClock(t, 0)
	ctx := context.Background()

	id, err := backend.Client().ChainID(ctx)
	require.NoError(t, err)
	require.NoError(t, clock.VerifyChainID(ctx, id.Uint64()))

	err = clock.VerifyChainID(ctx, id.Uint64()+1)
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
}

type brokenReader struct{}

func (brokenReader) BlockNumber(context.Context) (uint64, error) { return 0, errors.New("boom") }
func (brokenReader) ChainID(context.Context) (*big.Int, error)  { return nil, errors.New("boom") }

func TestBlockClockWrapsFailures(t *testing.T) {
	clock := NewBlockClockFromBackend("", brokenReader{}, 0)
	assert.Equal(t, "ethereum", clock.Name())

	_, err := clock.Now(context.Background())
	assert.Equal(t, xerrors.CodeClockFailure, xerrors.CodeOf(err))
	assert.True(t, xerrors.RetryableError(err))

	clock.Close()
	_, err = clock.Now(context.Background())
	assert.Equal(t, xerrors.CodeClockFailure, xerrors.CodeOf(err))
}

func TestDialBlockClockRequiresURL(t *testing.T) {
	_, err := DialBlockClock(context.Background(), Config{})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}
