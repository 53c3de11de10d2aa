package disco

import (
	"context"
	"log"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// registerGoFunctions exposes the Go-side bindings a disco script can
// call. Scripts only ever touch color-scheme indices (0x10 frames);
// there is no brightness/power axis on this trainer's color command.
func (e *Engine) registerGoFunctions(L *lua.LState, ctx context.Context) {
	L.SetGlobal("set_color_scheme", L.NewFunction(e.luaSetColorScheme(ctx)))
	L.SetGlobal("cycle_schemes", L.NewFunction(e.luaCycleSchemes(ctx)))
	L.SetGlobal("sleep", L.NewFunction(luaSleep(ctx)))
	L.SetGlobal("should_stop", L.NewFunction(luaShouldStop(ctx)))
	L.SetGlobal("print", L.NewFunction(luaPrint))
}

func luaPrint(L *lua.LState) int {
	log.Printf("[disco] %s", L.ToString(1))
	return 0
}

func (e *Engine) luaSetColorScheme(ctx context.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		scheme := L.ToInt(1)
		if err := e.writer.WriteColorScheme(ctx, byte(scheme)); err != nil {
			log.Printf("[disco] set_color_scheme(%d) failed: %v", scheme, err)
		}
		return 0
	}
}

// luaCycleSchemes steps through a table of scheme indices, holding
// each for intervalMs, stopping early if the script is cancelled.
func (e *Engine) luaCycleSchemes(ctx context.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		table := L.ToTable(1)
		intervalMs := L.ToInt(2)
		if table == nil || intervalMs <= 0 {
			return 0
		}

		interval := time.Duration(intervalMs) * time.Millisecond
		n := table.Len()
		for i := 1; i <= n; i++ {
			scheme := int(lua.LVAsNumber(table.RawGetInt(i)))
			if err := e.writer.WriteColorScheme(ctx, byte(scheme)); err != nil {
				log.Printf("[disco] cycle_schemes step %d failed: %v", scheme, err)
			}
			if cancellableSleep(ctx, interval) {
				return 0
			}
		}
		return 0
	}
}

func cancellableSleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return false
	case <-ctx.Done():
		return true
	}
}

func luaSleep(ctx context.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		ms := L.ToInt(1)
		cancellableSleep(ctx, time.Duration(ms)*time.Millisecond)
		return 0
	}
}

func luaShouldStop(ctx context.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		select {
		case <-ctx.Done():
			L.Push(lua.LBool(true))
		default:
			L.Push(lua.LBool(false))
		}
		return 1
	}
}
