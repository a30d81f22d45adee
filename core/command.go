package core

import (
	"fmt"
	"sync"

	"sdspi/protocol"
)

// CommandHandler decodes its arguments from args and runs the command.
type CommandHandler func(args *protocol.Reader) error

// Kind tells commands (host to device) from responses (device to host).
type Kind uint8

const (
	KindCommand Kind = iota
	KindResponse
)

// Command is a message known to the dictionary. A command may be
// registered before its handler is installed.
type Command struct {
	ID      uint32
	Name    string
	Format  string // argument format, e.g. "offset=%u count=%c"
	Kind    Kind
	Handler CommandHandler
}

// Spec returns the dictionary key, the name followed by the format.
func (c *Command) Spec() string {
	if c.Format == "" {
		return c.Name
	}
	return c.Name + " " + c.Format
}

// Registry assigns message ids in registration order.
type Registry struct {
	mu       sync.RWMutex
	commands []*Command
	byName   map[string]uint32
}

// NewRegistry returns a registry holding the bootstrap messages, which
// keep fixed ids so a host can fetch the dictionary before it knows
// anything else.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]uint32)}
	r.Response("identify_response", "offset=%u data=%*s") // 0
	r.Register("identify", "offset=%u count=%c", nil)    // 1
	return r
}

// Register adds a command and returns its id. Registering a known
// command replaces its handler and keeps the id.
func (r *Registry) Register(name, format string, handler CommandHandler) uint32 {
	return r.add(name, format, KindCommand, handler)
}

// Response adds a device to host message.
func (r *Registry) Response(name, format string) uint32 {
	return r.add(name, format, KindResponse, nil)
}

func (r *Registry) add(name, format string, kind Kind, handler CommandHandler) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byName[name]; ok {
		cmd := r.commands[id]
		if cmd.Kind == KindCommand {
			cmd.Handler = handler
		}
		return id
	}
	id := uint32(len(r.commands))
	r.commands = append(r.commands, &Command{ID: id, Name: name, Format: format, Kind: kind, Handler: handler})
	r.byName[name] = id
	return id
}

// Lookup returns the id registered for name.
func (r *Registry) Lookup(name string) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

// Get returns the message with the given id.
func (r *Registry) Get(id uint32) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id >= uint32(len(r.commands)) {
		return nil, false
	}
	return r.commands[id], true
}

// Count returns the number of registered messages.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch runs the handler of command id. It matches protocol.Handler.
func (r *Registry) Dispatch(id uint32, args *protocol.Reader) error {
	cmd, ok := r.Get(id)
	if !ok || cmd.Kind != KindCommand || cmd.Handler == nil {
		return fmt.Errorf("%w: %d", protocol.ErrUnknownCommand, id)
	}
	if err := cmd.Handler(args); err != nil {
		return err
	}
	return args.Err()
}

// Split returns the commands and the responses keyed by Spec.
func (r *Registry) Split() (commands, responses map[string]uint32) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	commands = make(map[string]uint32)
	responses = make(map[string]uint32)
	for _, c := range r.commands {
		if c.Kind == KindCommand {
			commands[c.Spec()] = c.ID
		} else {
			responses[c.Spec()] = c.ID
		}
	}
	return commands, responses
}
