package control

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// listenResilient — универсальный цикл "живучей" подписки на сигналы Redis.
// Обрабатывает переподключения, логирование и разбор сигналов "<op>:on|off".
func listenResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func() error, // Синхронизация состояния при переподключении
	onMessage func(op string, status bool),
) {
	for {
		pubsub := rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		// Синхронизация (Init) при каждом успешном коннекте
		if err := onReconnect(); err != nil {
			logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				// Формат "operation:status"
				parts := strings.Split(msg.Payload, ":")
				if len(parts) != 2 {
					logger.Error("invalid signal format", zap.String("payload", msg.Payload))
					continue
				}

				op := parts[0]
				status := parts[1] == "true" || parts[1] == "on"

				onMessage(op, status)
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}

// warmupSet подтягивает содержимое Redis-сета в локальный L1 при старте.
func warmupSet(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	redisKey string,
	updateL1 func([]string),
) error {
	items, err := rdb.SMembers(ctx, redisKey).Result()
	if err != nil {
		return err
	}
	updateL1(items)
	logger.Info("control state warmed up", zap.String("key", redisKey), zap.Int("count", len(items)))
	return nil
}
