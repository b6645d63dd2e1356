// Package luapack hosts rules packs written in Lua. A script calls
// register_pack{...} with its id and callbacks; the Go side supplies the
// session scaffolding (phases, turn order, versioning) so scripts only
// deal with their own data table.
//
// The Lua VM is owned by the session goroutine, the same discipline the
// rest of the engine follows; nothing here is safe for concurrent use.
package luapack

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single Lua VM and the packs its scripts registered.
type Engine struct {
	vm    *lua.LState
	packs []*Pack
	log   *zap.Logger
}

// NewEngine creates the VM, installs the register_pack global, and loads
// every .lua file in dir. A missing dir is fine; the engine just hosts
// no packs.
func NewEngine(dir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{SkipOpenLibs: false})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}
	vm.SetGlobal("register_pack", vm.NewFunction(e.luaRegisterPack))

	if err := e.loadDir(dir); err != nil {
		vm.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read scripts dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua pack script", zap.String("file", path))
	}
	return nil
}

// luaRegisterPack is the register_pack(table) global. It validates the
// required fields before accepting the pack.
func (e *Engine) luaRegisterPack(L *lua.LState) int {
	tbl := L.CheckTable(1)

	id := lua.LVAsString(tbl.RawGetString("pack_id"))
	if id == "" {
		L.RaiseError("register_pack: pack_id is required")
		return 0
	}
	for _, field := range []string{"initial_data", "allowed_actions", "apply_action", "check_game_end", "board_view", "player_view"} {
		if _, ok := tbl.RawGetString(field).(*lua.LFunction); !ok {
			L.RaiseError("register_pack %q: %s must be a function", id, field)
			return 0
		}
	}

	e.packs = append(e.packs, &Pack{engine: e, id: id, tbl: tbl})
	e.log.Info("registered lua pack", zap.String("pack", id))
	return 0
}

// Packs returns the packs registered during script loading.
func (e *Engine) Packs() []*Pack {
	return e.packs
}

// Close shuts the VM down.
func (e *Engine) Close() {
	e.vm.Close()
}

// call invokes one of the pack's callbacks with the given arguments and
// returns its single result.
func (e *Engine) call(fn lua.LValue, args ...lua.LValue) (lua.LValue, error) {
	if err := e.vm.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		return lua.LNil, err
	}
	ret := e.vm.Get(-1)
	e.vm.Pop(1)
	return ret, nil
}

// goToLua converts the plain JSON-ish value shapes the session core uses
// into Lua values.
func (e *Engine) goToLua(v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case string:
		return lua.LString(t)
	case int:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case float64:
		return lua.LNumber(t)
	case []string:
		tbl := e.vm.NewTable()
		for _, s := range t {
			tbl.Append(lua.LString(s))
		}
		return tbl
	case []any:
		tbl := e.vm.NewTable()
		for _, el := range t {
			tbl.Append(e.goToLua(el))
		}
		return tbl
	case map[string]int:
		tbl := e.vm.NewTable()
		for k, el := range t {
			tbl.RawSetString(k, lua.LNumber(el))
		}
		return tbl
	case map[string][]string:
		tbl := e.vm.NewTable()
		for k, el := range t {
			tbl.RawSetString(k, e.goToLua(el))
		}
		return tbl
	case map[string]any:
		tbl := e.vm.NewTable()
		for k, el := range t {
			tbl.RawSetString(k, e.goToLua(el))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", t))
	}
}

// luaToGo converts Lua values back. Tables with only sequential integer
// keys become slices, everything else becomes a string-keyed map.
func luaToGo(v lua.LValue) any {
	switch t := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(t)
	case lua.LString:
		return string(t)
	case lua.LNumber:
		f := float64(t)
		if f == float64(int64(f)) {
			return int(f)
		}
		return f
	case *lua.LTable:
		maxN := t.MaxN()
		if maxN > 0 {
			list := make([]any, 0, maxN)
			for i := 1; i <= maxN; i++ {
				list = append(list, luaToGo(t.RawGetInt(i)))
			}
			return list
		}
		m := map[string]any{}
		t.ForEach(func(k, el lua.LValue) {
			if ks, ok := k.(lua.LString); ok {
				m[string(ks)] = luaToGo(el)
			}
		})
		return m
	default:
		return nil
	}
}
