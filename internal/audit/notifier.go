package audit

// RollbackNotifier транслирует сломанный откат транзакции в security-событие
// audit trail. Подключается к txn.Manager структурно, без обратного импорта.
type RollbackNotifier struct {
	l *Logger
}

func NewRollbackNotifier(l *Logger) *RollbackNotifier {
	return &RollbackNotifier{l: l}
}

// RollbackFailed фиксирует шаг и ошибки undo: система может остаться в
// неконсистентном состоянии, compliance обязан это видеть.
func (n *RollbackNotifier) RollbackFailed(step string, cause error, undoErrs []error) {
	msgs := make([]string, 0, len(undoErrs))
	for _, e := range undoErrs {
		msgs = append(msgs, e.Error())
	}

	tx := n.l.Begin("txn", "rollback", step, nil)
	tx.SecurityEvent("rollback-failed", map[string]any{
		"step":        step,
		"cause":       cause.Error(),
		"undo_errors": msgs,
	})
	tx.End(StatusFailed, nil)
}
