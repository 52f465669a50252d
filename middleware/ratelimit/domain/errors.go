package domain

import "errors"

var (
	// ErrInvalidPolicy indica tabela de políticas malformada. É fatal no startup.
	ErrInvalidPolicy = errors.New("invalid rate limit policy")

	// ErrStoreUnavailable envolve falhas de conectividade/timeout do store distribuído.
	ErrStoreUnavailable = errors.New("window store unavailable")

	// ErrStoreFull é retornado pelo store local quando o limite de chaves foi atingido
	// e a limpeza não liberou espaço.
	ErrStoreFull = errors.New("window store full")
)
