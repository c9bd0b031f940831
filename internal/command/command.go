// Package command runs multi-step workflows that can stop halfway to wait for
// answers from other services and continue later, possibly in another process.
//
// A workflow is a Macro: an ordered list of Commands. Running it executes the
// commands in order until one of them returns false. That command has
// registered one or more behov on the Context, and the Context records where
// the run stopped. When every behov has a løsning, running the same Macro
// again skips the finished commands and resumes the one that stopped.
//
// Nothing is held in memory between the two runs. The Context is a plain
// record that is persisted after each run and restored before the next.
package command

import (
	"context"
	"errors"
	"fmt"
)

// ErrUgyldigSti is returned when a persisted resume path does not fit the
// Macro it is replayed against.
var ErrUgyldigSti = errors.New("command: resume path does not match macro")

// Command is one step of a workflow. Execute and Resume return true when the
// step is finished. Both may be called again for the same context after a
// crash or redelivery and must not repeat side effects.
type Command interface {
	Navn() string
	Execute(ctx context.Context, cc *Context) (bool, error)
	Resume(ctx context.Context, cc *Context) (bool, error)
}

// Step is a Command built from functions. A nil Resume runs Execute again,
// which then finds the løsninger it asked for on the context.
type Step struct {
	Name    string
	Run     func(ctx context.Context, cc *Context) (bool, error)
	Restart func(ctx context.Context, cc *Context) (bool, error)
}

// Navn implements Command.
func (s Step) Navn() string { return s.Name }

// Execute implements Command.
func (s Step) Execute(ctx context.Context, cc *Context) (bool, error) {
	return s.Run(ctx, cc)
}

// Resume implements Command.
func (s Step) Resume(ctx context.Context, cc *Context) (bool, error) {
	if s.Restart == nil {
		return s.Run(ctx, cc)
	}
	return s.Restart(ctx, cc)
}

// Macro runs its commands in slice order. A Macro is itself a Command, so
// workflows nest; the resume path then holds one index per level.
type Macro struct {
	name     string
	commands []Command
}

// NewMacro returns a Macro running commands in the given order.
func NewMacro(name string, commands ...Command) *Macro {
	return &Macro{name: name, commands: commands}
}

// Navn implements Command.
func (m *Macro) Navn() string { return m.name }

// Commands returns the commands in execution order.
func (m *Macro) Commands() []Command { return m.commands }

// Execute implements Command.
func (m *Macro) Execute(ctx context.Context, cc *Context) (bool, error) {
	return m.run(ctx, cc, 0)
}

// Resume implements Command. It re-enters the command recorded on the path,
// calls its Resume, and continues with the commands after it.
func (m *Macro) Resume(ctx context.Context, cc *Context) (bool, error) {
	i, ok := cc.popSti()
	if !ok || i < 0 || i >= len(m.commands) {
		return false, fmt.Errorf("%s: index %d: %w", m.name, i, ErrUgyldigSti)
	}
	c := m.commands[i]
	done, err := c.Resume(ctx, cc)
	if err != nil {
		return false, fmt.Errorf("%s: resume %s: %w", m.name, c.Navn(), err)
	}
	if !done {
		cc.pushSti(i)
		return false, nil
	}
	return m.run(ctx, cc, i+1)
}

func (m *Macro) run(ctx context.Context, cc *Context, from int) (bool, error) {
	for i := from; i < len(m.commands); i++ {
		c := m.commands[i]
		done, err := c.Execute(ctx, cc)
		if err != nil {
			return false, fmt.Errorf("%s: execute %s: %w", m.name, c.Navn(), err)
		}
		if !done {
			cc.pushSti(i)
			return false, nil
		}
	}
	return true, nil
}
