package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/driftline/engine/internal/ecs"
)

// System runs game logic written in Lua as an ordinary update system.
// One VM, single-goroutine access only: the system collection serializes
// each system against itself, and nothing else touches the VM.
//
// Scripts are loaded once at construction. Each frame the global
// update(t, dt) function is called with both times in seconds; a script
// without one is legal and does nothing.
type System struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewSystem creates a Lua VM and runs every .lua file in the directory,
// sorted by name. A missing directory is an error; an empty one is not.
func NewSystem(scriptsDir string, log *zap.Logger) (*System, error) {
	if log == nil {
		log = zap.NewNop()
	}
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	s := &System{vm: vm, log: log}
	if err := s.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, err
	}
	return s, nil
}

func (s *System) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read scripts dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := s.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		s.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// Name implements ecs.System.
func (s *System) Name() string { return "script" }

// Run calls the scripts' update hook. A Lua error fails the frame the
// same way a Go system error would.
func (s *System) Run(res *ecs.Resources, t, dt time.Duration) error {
	fn := s.vm.GetGlobal("update")
	if fn == lua.LNil {
		return nil
	}
	err := s.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, lua.LNumber(t.Seconds()), lua.LNumber(dt.Seconds()))
	if err != nil {
		return fmt.Errorf("lua update: %w", err)
	}
	return nil
}

// Close releases the VM.
func (s *System) Close() {
	s.vm.Close()
}
