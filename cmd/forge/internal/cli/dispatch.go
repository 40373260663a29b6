package cli

import (
	"fmt"
	"sort"
)

// Dispatch holds every registered subcommand, grounded on the teacher's
// commands.Registry (register/GetCommand/ExecuteCommand), renamed to avoid
// colliding with internal/registry.
type Dispatch struct {
	commands map[string]CommandHandler
}

func NewDispatch() *Dispatch {
	d := &Dispatch{commands: make(map[string]CommandHandler)}
	d.register("build", NewBuildCommand())
	d.register("resolve", NewResolveCommand())
	d.register("lock", NewLockCommand())
	d.register("package", NewPackageCommand())
	d.register("meta", NewMetaCommand())
	return d
}

func (d *Dispatch) register(name string, h CommandHandler) { d.commands[name] = h }

func (d *Dispatch) Get(name string) (CommandHandler, bool) {
	h, ok := d.commands[name]
	return h, ok
}

func (d *Dispatch) Names() []string {
	names := make([]string, 0, len(d.commands))
	for name := range d.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Dispatch) PrintUsage() {
	fmt.Println("Available subcommands:")
	for _, name := range d.Names() {
		h, _ := d.Get(name)
		fmt.Printf("  %s - %s\n", name, h.Description())
	}
}

func (d *Dispatch) Execute(name string, ctx Context, args []string) error {
	h, ok := d.Get(name)
	if !ok {
		return fmt.Errorf("unknown subcommand: %s", name)
	}
	return h.Execute(ctx, args)
}
