package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "repogov"
)

// Ключи для Sets (состояние)
const (
	RedisKeyPausedOps  = RedisNamespace + ":ops:paused_set"
	RedisKeyAbortedOps = RedisNamespace + ":ops:aborted_set"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanPause — канал сигналов оператора "<operation>:on|off" для паузы bulk-синка.
	RedisChanPause = RedisNamespace + ":ops:pause-signal"
	// RedisChanAbort — канал аварийной остановки (kill switch) для конкретной операции.
	RedisChanAbort = RedisNamespace + ":ops:abort-signal"
)
