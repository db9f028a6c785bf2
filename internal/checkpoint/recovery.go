package checkpoint

import (
	"encoding/json"
	"errors"

	"go.uber.org/zap"
)

// Recovery решает, можно ли возобновить операцию, и достает последнее
// пригодное состояние. Битые файлы не фатальны: откатываемся на более
// старый чекпоинт, в худшем случае — "восстановления нет".
type Recovery struct {
	mgr    *Manager
	logger *zap.Logger
}

func NewRecovery(mgr *Manager, zl *zap.Logger) *Recovery {
	return &Recovery{mgr: mgr, logger: zl.With(zap.String("mod", "recovery"))}
}

// CanRecover — true, если существует хотя бы один чекпоинт операции.
func (r *Recovery) CanRecover(name string) bool {
	snaps, err := r.mgr.List(name)
	return err == nil && len(snaps) > 0
}

// Recover возвращает payload новейшего читаемого чекпоинта.
// (nil, nil) — восстановления нет (в том числе когда все файлы битые).
func (r *Recovery) Recover(name string) (json.RawMessage, error) {
	snaps, err := r.mgr.List(name)
	if err != nil {
		return nil, err
	}

	// От новейшего к старейшему, пропуская битые
	for i := len(snaps) - 1; i >= 0; i-- {
		payload, err := r.mgr.loadFile(r.mgr.pathFor(name, snaps[i].Sequence))
		if err == nil {
			r.logger.Info("recovered from checkpoint",
				zap.String("name", name),
				zap.Uint64("seq", snaps[i].Sequence),
			)
			return payload, nil
		}

		var corrupt *CorruptError
		if !errors.As(err, &corrupt) {
			return nil, err
		}
		r.logger.Warn("skipping corrupt checkpoint",
			zap.String("path", corrupt.Path),
			zap.Error(corrupt.Cause),
		)
	}

	return nil, nil
}
