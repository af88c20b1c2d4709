package utils

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// stackError はメッセージにスタックトレースを含めるエラーです
// zerolog の Err() は Error() だけを出力するため、トレースもメッセージに入れます
type stackError struct {
	cause error
}

func (e *stackError) Error() string {
	var st stackTracer
	if !errors.As(e.cause, &st) {
		return e.cause.Error()
	}
	return fmt.Sprintf("%s\nStack trace:%+v", e.cause.Error(), st.StackTrace())
}

func (e *stackError) Unwrap() error { return e.cause }

// GetStackWithError は、エラーとスタックトレースを組み合わせて返します
// 既にスタックトレースを持つエラーはそのまま返すため、二重に付与されることはありません
// errors.Is / errors.As で元のエラーを判定できます
func GetStackWithError(err error) error {
	if err == nil {
		return nil
	}
	var st stackTracer
	if errors.As(err, &st) {
		return err
	}
	return &stackError{cause: pkgerrors.WithStack(err)}
}
