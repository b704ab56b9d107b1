// Package logging 定义仿真使用的日志接口。
package logging

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// MessageType 消息级别
type MessageType int

// 消息级别定义
const (
	Error   MessageType = iota // 错误
	Warning                    // 警告
	Info                       // 信息
	Verbose                    // 详细
)

func (t MessageType) String() string {
	switch t {
	case Error:
		return "error"
	case Warning:
		return "warning"
	case Info:
		return "info"
	case Verbose:
		return "verbose"
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// Log 日志接口
type Log interface {
	WriteLine(t MessageType, msg string)
}

// Null 丢弃所有消息
type Null struct{}

func (Null) WriteLine(MessageType, string) {}

// Std 使用标准库 log 输出，Level 以上（数值更大）的消息被丢弃
type Std struct {
	*log.Logger
	Level MessageType
}

// NewStd 创建输出到标准错误的日志
func NewStd(prefix string, level MessageType) *Std {
	return &Std{Logger: log.New(os.Stderr, prefix, log.LstdFlags), Level: level}
}

func (l *Std) WriteLine(t MessageType, msg string) {
	if t > l.Level {
		return
	}
	l.Printf("[%s] %s", t, msg)
}

// Limited 限制消息速率，超出速率的消息被丢弃并计数
type Limited struct {
	Log
	limiter *rate.Limiter
	dropped atomic.Int64
}

// NewLimited 每秒最多 perSecond 条，允许 burst 条突发
func NewLimited(l Log, perSecond float64, burst int) *Limited {
	return &Limited{Log: l, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limited) WriteLine(t MessageType, msg string) {
	if !l.limiter.Allow() {
		l.dropped.Add(1)
		return
	}
	if n := l.dropped.Swap(0); n > 0 {
		msg = fmt.Sprintf("%s (另有 %d 条消息被丢弃)", msg, n)
	}
	l.Log.WriteLine(t, msg)
}

// Dropped 得到尚未报告的丢弃数量
func (l *Limited) Dropped() int64 { return l.dropped.Load() }

// Writef 格式化输出
func Writef(l Log, t MessageType, format string, args ...any) {
	if l == nil {
		return
	}
	l.WriteLine(t, fmt.Sprintf(format, args...))
}
