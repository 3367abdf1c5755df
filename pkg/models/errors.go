package models

import (
	"errors"
	"strings"
)

// ErrorKind 是对调用方可见的错误类别，本身实现 error，可配合 errors.Is 使用。
type ErrorKind string

func (k ErrorKind) Error() string { return string(k) }

const (
	ErrNotInstalled        ErrorKind = "not installed"
	ErrAlreadyInstalled    ErrorKind = "already installed"
	ErrAlreadyInstalling   ErrorKind = "already installing"
	ErrIsCurrent           ErrorKind = "is current"
	ErrNoSuchCandidate     ErrorKind = "no such candidate"
	ErrNoVersionsAvailable ErrorKind = "no versions available"
	ErrNetworkUnavailable  ErrorKind = "network unavailable"
	ErrCorruptArchive      ErrorKind = "corrupt archive"
	ErrInstallIncomplete   ErrorKind = "install incomplete"
	ErrRegistryLocked      ErrorKind = "registry locked"
	ErrNoneInstalled       ErrorKind = "none installed"
	ErrNotFound            ErrorKind = "not found"
	ErrNoSession           ErrorKind = "no session"
)

// Error 携带失败的操作、涉及的 candidate/version 以及磁盘状态是否已被修改。
type Error struct {
	Kind      ErrorKind
	Op        string
	Candidate string
	Version   string
	Path      string // 残留的磁盘路径，例如未能提升的 staging 目录
	Changed   bool
	Err       error
}

// NewError 构造一个 Error。kind 可以为空，此时 Error 只负责补充上下文。
func NewError(kind ErrorKind, op, candidate, version string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Candidate: candidate, Version: version, Err: cause}
}

// WithPath 记录残留路径并标记磁盘状态已改变。
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	e.Changed = path != ""
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	for _, part := range []string{e.Candidate, e.Version} {
		if part != "" {
			b.WriteByte(' ')
			b.WriteString(part)
		}
	}
	if e.Kind != "" {
		b.WriteString(": ")
		b.WriteString(string(e.Kind))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	switch {
	case e.Path != "":
		b.WriteString(" (on-disk state changed, see ")
		b.WriteString(e.Path)
		b.WriteByte(')')
	case e.Changed:
		b.WriteString(" (on-disk state changed)")
	default:
		b.WriteString(" (no on-disk changes)")
	}
	return b.String()
}

// Unwrap 同时暴露错误类别与底层原因。
func (e *Error) Unwrap() []error {
	var errs []error
	if e.Kind != "" {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf 返回错误链中第一个 Error 的类别，没有则返回空串。
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) && e.Kind != "" {
		return e.Kind
	}
	var k ErrorKind
	if errors.As(err, &k) {
		return k
	}
	return ""
}
