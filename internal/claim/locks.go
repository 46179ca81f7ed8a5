package claim

import "sync"

// numLockShards 决定注册表内部互斥锁分片数量。
const numLockShards = 128

// shardedLocks 按指纹哈希选择分片，保证同一指纹上的变更串行执行，
// 不同指纹之间互不阻塞。
type shardedLocks struct {
	shards [numLockShards]sync.Mutex
}

func (l *shardedLocks) lock(fp Fingerprint) func() {
	m := &l.shards[hashFingerprint(fp.raw)%numLockShards]
	m.Lock()
	return m.Unlock
}

// hashFingerprint 使用 FNV-1a。
func hashFingerprint(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
