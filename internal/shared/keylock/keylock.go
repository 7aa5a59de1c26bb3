package keylock

import (
	"hash/fnv"
	"sync"
)

// KeyLock serializa seções críticas por chave (ex: id de usuário, id de
// mercado) usando um conjunto fixo de mutexes particionados por hash.
// Chaves distintas seguem em paralelo salvo colisão de shard.
type KeyLock struct {
	shards []sync.Mutex
}

const defaultShards = 128

func New() *KeyLock {
	return &KeyLock{shards: make([]sync.Mutex, defaultShards)}
}

func (k *KeyLock) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &k.shards[h.Sum32()%uint32(len(k.shards))]
}

// Lock bloqueia a seção da chave e retorna a função de liberação
func (k *KeyLock) Lock(key string) (unlock func()) {
	m := k.shard(key)
	m.Lock()
	return m.Unlock
}

// Do executa fn com a seção da chave bloqueada
func (k *KeyLock) Do(key string, fn func()) {
	defer k.Lock(key)()
	fn()
}
