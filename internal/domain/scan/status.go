// Пакет scan — конечный автомат статусов проверки файла.
//
// Жизненный цикл:
//
//	NOT_STARTED → IN_PROGRESS → {SUCCESS, FAILURE_UNSAFE, FAILURE_RETRIABLE}
//	FAILURE_RETRIABLE → RETRYING → IN_PROGRESS
//
// SUCCESS и FAILURE_UNSAFE — терминальные. Статус IN_PROGRESS и все
// исходы выставляет только ScanWorker; RETRYING — только RetrySweeper.
package scan

import "fmt"

// Status — статус проверки файла сканером.
type Status string

const (
	// StatusNotStarted — запись создана, проверка ещё не начиналась
	StatusNotStarted Status = "NOT_STARTED"
	// StatusInProgress — файл отправлен сканеру, идёт ожидание результата
	StatusInProgress Status = "IN_PROGRESS"
	// StatusSuccess — проверка завершена, файл безопасен (терминальный)
	StatusSuccess Status = "SUCCESS"
	// StatusFailureUnsafe — сканер признал файл небезопасным (терминальный)
	StatusFailureUnsafe Status = "FAILURE_UNSAFE"
	// StatusFailureRetriable — проверка не удалась, допускает повтор
	StatusFailureRetriable Status = "FAILURE_RETRIABLE"
	// StatusRetrying — повторная проверка запланирована RetrySweeper'ом
	StatusRetrying Status = "RETRYING"
)

// validTransitions — матрица допустимых переходов.
// Ключ — текущий статус, значение — набор допустимых целевых статусов.
var validTransitions = map[Status]map[Status]bool{
	StatusNotStarted: {StatusInProgress: true},
	StatusInProgress: {
		StatusSuccess:          true,
		StatusFailureUnsafe:    true,
		StatusFailureRetriable: true,
	},
	StatusFailureRetriable: {StatusRetrying: true},
	StatusRetrying:         {StatusInProgress: true, StatusFailureRetriable: true},
	// Терминальные статусы — переходы запрещены
	StatusSuccess:       {},
	StatusFailureUnsafe: {},
}

// IsValid проверяет, является ли строка допустимым статусом.
func (s Status) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal возвращает true для терминальных статусов.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailureUnsafe
}

// CanTransitionTo проверяет, допустим ли переход в указанный статус.
func (s Status) CanTransitionTo(target Status) bool {
	transitions, ok := validTransitions[s]
	if !ok {
		return false
	}
	return transitions[target]
}

// TransitionError — ошибка недопустимого перехода между статусами.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("недопустимый переход статуса проверки: %s → %s", e.From, e.To)
}

// Transition валидирует переход и возвращает целевой статус.
// При недопустимом переходе возвращает *TransitionError.
func Transition(from, to Status) (Status, error) {
	if !from.CanTransitionTo(to) {
		return from, &TransitionError{From: from, To: to}
	}
	return to, nil
}

// ParseStatus преобразует строку в Status.
// Возвращает ошибку для недопустимых значений.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", fmt.Errorf("недопустимый статус проверки: %q", s)
	}
	return st, nil
}
