// Package faults 区分两类故障通道：
// 软错误（单条/单文件问题，记日志后继续本批次）和
// 致命错误（完整性破坏，必须向上传播并以非零码退出）。
package faults

import (
	"errors"
	"fmt"
)

// SoftError 可恢复错误：跳过当前条目，处理继续。
type SoftError struct {
	Op  string
	Err error
}

func (e *SoftError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SoftError) Unwrap() error {
	return e.Err
}

// Soft 把 err 包装为软错误
func Soft(op string, err error) error {
	if err == nil {
		return nil
	}
	return &SoftError{Op: op, Err: err}
}

// Softf 构造软错误
func Softf(op, format string, args ...interface{}) error {
	return &SoftError{Op: op, Err: fmt.Errorf(format, args...)}
}

// IsSoft 判断是否软错误
func IsSoft(err error) bool {
	var se *SoftError
	return errors.As(err, &se)
}

// FatalError 完整性错误：两个存储面分叉、重复主键等，
// 继续跑只会放大损伤，调用方必须终止本次运行。
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal 把 err 包装为致命错误
func Fatal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Op: op, Err: err}
}

// Fatalf 构造致命错误
func Fatalf(op, format string, args ...interface{}) error {
	return &FatalError{Op: op, Err: fmt.Errorf(format, args...)}
}

// IsFatal 判断是否致命错误
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
