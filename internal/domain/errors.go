package domain

import (
	"errors"
	"fmt"
)

// ErrOpportunityNotFound возвращается если запись возможности не найдена.
var ErrOpportunityNotFound = errors.New("возможность не найдена")

// ErrResponseNotFound возвращается если у возможности нет подготовленного ответа.
var ErrResponseNotFound = errors.New("подготовленный ответ не найден")

// ErrResponseTerminal возвращается при попытке перехода из терминального статуса.
var ErrResponseTerminal = errors.New("ответ в терминальном статусе")

// ErrResponseNotPending возвращается если согласуемый ответ не ожидает решения.
var ErrResponseNotPending = errors.New("ответ не в статусе pending")

// ErrResponseNotApproved возвращается при попытке отправки несогласованного ответа.
var ErrResponseNotApproved = errors.New("ответ не согласован")

// ErrSendAttemptsExceeded возвращается когда лимит попыток отправки исчерпан.
var ErrSendAttemptsExceeded = errors.New("исчерпан лимит попыток отправки")

// ErrSessionNotFound возвращается когда сохранённая сессия отсутствует.
var ErrSessionNotFound = errors.New("сессия не найдена")

// ErrAcquisitionTimeout сигнализирует о системном таймауте слоя сбора.
// Вызывающий повторяет с backoff; после исчерпания попыток прогон прерывается.
var ErrAcquisitionTimeout = errors.New("таймаут сбора сообщений")

// AuthError — ошибка аутентификации источника. Сессия уже инвалидирована,
// повторная попытка после перелогина допустима.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("ошибка аутентификации источника: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// MalformedEntryError — некорректная запись в пачке. Изолируется и
// пропускается, никогда не прерывает пачку целиком.
type MalformedEntryError struct {
	ThreadID string
	Reason   string
}

func (e *MalformedEntryError) Error() string {
	return fmt.Sprintf("некорректная запись треда %q: %s", e.ThreadID, e.Reason)
}

// OracleError — сбой оракула извлечения или оценки. Кейс уходит на ручное
// ревью вместо провала всей пачки.
type OracleError struct {
	Err error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("ошибка оракула: %v", e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

// DeliveryError — сбой доставки согласованного ответа.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("ошибка доставки ответа: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
