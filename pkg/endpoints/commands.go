package endpoints

// Command is one modification of one end-point.
type Command interface {
	// Begin raises the "changing" notifications. An error vetoes the change.
	Begin() error
	// Perform applies the change.
	Perform()
	// End raises the "changed" notifications.
	End()
	// Expand returns a command that also covers every other end-point the
	// change affects.
	Expand() (*ExpandedCommand, error)
}

// NopCommand changes nothing.
type NopCommand struct{}

func (NopCommand) Begin() error { return nil }
func (NopCommand) Perform()     {}
func (NopCommand) End()         {}

func (c NopCommand) Expand() (*ExpandedCommand, error) { return NewExpandedCommand(c), nil }

// Touchable is implemented by end-points that record modification even when
// no data changes.
type Touchable interface {
	Touch()
}

// touchCommand marks an end-point touched without changing data.
type touchCommand struct {
	target Touchable
}

// NewTouchCommand returns a command that only touches target.
func NewTouchCommand(target Touchable) Command { return &touchCommand{target: target} }

func (c *touchCommand) Begin() error { return nil }
func (c *touchCommand) Perform()     { c.target.Touch() }
func (c *touchCommand) End()         {}

func (c *touchCommand) Expand() (*ExpandedCommand, error) { return NewExpandedCommand(c), nil }

// CompositeCommand runs several commands as one: Begin in order, Perform in
// order, End in reverse order.
type CompositeCommand struct {
	commands []Command
}

// NewCompositeCommand combines cmds. nil entries are dropped.
func NewCompositeCommand(cmds ...Command) *CompositeCommand {
	c := &CompositeCommand{}
	return c.with(cmds...)
}

func (c *CompositeCommand) with(cmds ...Command) *CompositeCommand {
	for _, cmd := range cmds {
		if cmd == nil {
			continue
		}
		if _, nop := cmd.(NopCommand); nop {
			continue
		}
		c.commands = append(c.commands, cmd)
	}
	return c
}

// Commands returns the combined commands in execution order.
func (c *CompositeCommand) Commands() []Command {
	return append([]Command(nil), c.commands...)
}

// CombineWith returns a new composite with cmds appended.
func (c *CompositeCommand) CombineWith(cmds ...Command) *CompositeCommand {
	return NewCompositeCommand(c.commands...).with(cmds...)
}

func (c *CompositeCommand) Begin() error {
	for _, cmd := range c.commands {
		if err := cmd.Begin(); err != nil {
			return err
		}
	}
	return nil
}

func (c *CompositeCommand) Perform() {
	for _, cmd := range c.commands {
		cmd.Perform()
	}
}

func (c *CompositeCommand) End() {
	for i := len(c.commands) - 1; i >= 0; i-- {
		c.commands[i].End()
	}
}

// Expand expands every combined command.
func (c *CompositeCommand) Expand() (*ExpandedCommand, error) {
	result := NewExpandedCommand()
	for _, cmd := range c.commands {
		expanded, err := cmd.Expand()
		if err != nil {
			return nil, err
		}
		result = result.CombineWith(expanded.composite.commands...)
	}
	return result, nil
}

// NotifyAndPerform raises every "changing" notification, and only if none
// vetoes performs every change and raises the "changed" notifications.
func (c *CompositeCommand) NotifyAndPerform() error {
	if err := c.Begin(); err != nil {
		return err
	}
	c.Perform()
	c.End()
	return nil
}

// ExpandedCommand is a command together with the commands of all other
// end-points its change affects. It is ready to execute.
type ExpandedCommand struct {
	composite *CompositeCommand
}

// NewExpandedCommand combines cmds into an expanded command.
func NewExpandedCommand(cmds ...Command) *ExpandedCommand {
	return &ExpandedCommand{composite: NewCompositeCommand(cmds...)}
}

// CombineWith returns a new expanded command with cmds appended.
func (e *ExpandedCommand) CombineWith(cmds ...Command) *ExpandedCommand {
	return &ExpandedCommand{composite: e.composite.CombineWith(cmds...)}
}

func (e *ExpandedCommand) Commands() []Command { return e.composite.Commands() }
func (e *ExpandedCommand) Begin() error        { return e.composite.Begin() }
func (e *ExpandedCommand) Perform()            { e.composite.Perform() }
func (e *ExpandedCommand) End()                { e.composite.End() }

func (e *ExpandedCommand) Expand() (*ExpandedCommand, error) { return e, nil }

// NotifyAndPerform executes the expanded command. See
// CompositeCommand.NotifyAndPerform.
func (e *ExpandedCommand) NotifyAndPerform() error { return e.composite.NotifyAndPerform() }
