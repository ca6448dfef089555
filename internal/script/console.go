package script

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/kaushiksamanta/krama/internal/domain"
)

// console собирает вызовы console.* скрипта в упорядоченный список.
type console struct {
	mu   sync.Mutex
	logs []domain.LogEntry
}

func newConsole() *console {
	return &console{logs: make([]domain.LogEntry, 0)}
}

func (c *console) add(level, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, domain.LogEntry{Level: level, Message: msg, Time: time.Now()})
}

func (c *console) entries() []domain.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.LogEntry, len(c.logs))
	copy(out, c.logs)
	return out
}

// object создаёт JS объект console с уровнями log, info, warn, error, debug.
func (c *console) object(vm *goja.Runtime) *goja.Object {
	obj := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		level := level
		_ = obj.Set(level, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = formatValue(arg)
			}
			c.add(level, strings.Join(parts, " "))
			return goja.Undefined()
		})
	}
	return obj
}

func formatValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok {
		if _, isFn := goja.AssertFunction(obj); !isFn {
			if data, err := json.Marshal(obj.Export()); err == nil {
				return string(data)
			}
		}
	}
	return v.String()
}
