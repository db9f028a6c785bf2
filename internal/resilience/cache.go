package resilience

import (
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/blake2b"
)

type cacheEntry struct {
	value     json.RawMessage
	expiresAt time.Time
}

// ResponseCache — TTL-кэш ответов идемпотентных запросов.
// LRU с общим верхним TTL, плюс индивидуальный expiresAt на запись:
// вытеснение ленивое, при чтении. Кэшировать мутирующие запросы нельзя —
// это контракт вызывающего (ApiClient пускает сюда только GET).
type ResponseCache struct {
	lru *lru.LRU[string, cacheEntry]
}

// NewResponseCache создает кэш на size записей. maxTTL — общий потолок жизни
// записи; индивидуальный ttl в Set может быть только короче.
func NewResponseCache(size int, maxTTL time.Duration) *ResponseCache {
	return &ResponseCache{
		lru: lru.NewLRU[string, cacheEntry](size, nil, maxTTL),
	}
}

// Get возвращает значение или промах. Протухшая запись выселяется на месте.
func (c *ResponseCache) Get(key string) (json.RawMessage, bool) {
	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.lru.Remove(key)
		return nil, false
	}
	return entry.value, true
}

// Set кладет значение с индивидуальным TTL.
func (c *ResponseCache) Set(key string, value json.RawMessage, ttl time.Duration) {
	c.lru.Add(key, cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})
}

// Purge сбрасывает кэш целиком.
func (c *ResponseCache) Purge() {
	c.lru.Purge()
}

// Len — число живых записей (для метрик).
func (c *ResponseCache) Len() int {
	return c.lru.Len()
}

// Signature — детерминированный ключ запроса: blake2b от метода и URL.
// Заголовки авторизации в подпись не входят намеренно — токен не должен
// утекать даже в виде хэш-материала ключей.
func Signature(method, url string) string {
	sum := blake2b.Sum256([]byte(method + "|" + url))
	return fmt.Sprintf("%x", sum)
}
