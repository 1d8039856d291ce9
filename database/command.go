package database

import (
	"fmt"
	"strings"
)

// Command is a provider-neutral Statement: the SQL text plus the parameters
// bound to it. Adapters translate it into their own argument form.
type Command struct {
	Text string

	params  []Parameter
	index   map[string]int
	outputs map[string]any
	after   []func(Statement) error
}

func NewCommand(text string) *Command {
	return &Command{Text: text, index: make(map[string]int)}
}

// Bind adds p, replacing an earlier parameter of the same name.
func (c *Command) Bind(p Parameter) error {
	if p.Name == "" {
		return fmt.Errorf("database: bind parameter without a name")
	}
	if c.index == nil {
		c.index = make(map[string]int)
	}
	key := strings.ToLower(p.Name)
	if i, ok := c.index[key]; ok {
		c.params[i] = p
		return nil
	}
	c.index[key] = len(c.params)
	c.params = append(c.params, p)
	return nil
}

// Params returns the bound parameters in bind order.
func (c *Command) Params() []Parameter { return append([]Parameter(nil), c.params...) }

func (c *Command) Param(name string) (Parameter, bool) {
	i, ok := c.index[strings.ToLower(name)]
	if !ok {
		return Parameter{}, false
	}
	return c.params[i], true
}

// Inputs returns the parameters whose direction carries a value in.
func (c *Command) Inputs() []Parameter {
	in := make([]Parameter, 0, len(c.params))
	for _, p := range c.params {
		if p.Direction.IsInput() {
			in = append(in, p)
		}
	}
	return in
}

// HasOutputs reports whether any parameter expects a value back.
func (c *Command) HasOutputs() bool {
	for _, p := range c.params {
		if p.Direction.IsOutput() {
			return true
		}
	}
	return false
}

func (c *Command) AfterExecute(fn func(Statement) error) { c.after = append(c.after, fn) }

// ReadBack returns an output value delivered by Complete.
func (c *Command) ReadBack(name string) (any, error) {
	if c.outputs == nil {
		return nil, fmt.Errorf("database: read back %q before execution", name)
	}
	for k, v := range c.outputs {
		if strings.EqualFold(k, name) {
			return v, nil
		}
	}
	return nil, fmt.Errorf("database: no output value for %q", name)
}

// Complete records the output values of an execution and runs the
// AfterExecute hooks in registration order.
func (c *Command) Complete(outputs map[string]any) error {
	if outputs == nil {
		outputs = map[string]any{}
	}
	c.outputs = outputs
	for _, fn := range c.after {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears parameters, outputs and hooks so the command can be reused.
func (c *Command) Reset() {
	c.params = c.params[:0]
	clear(c.index)
	c.outputs = nil
	c.after = nil
}

func argValue(p Parameter) any {
	if IsDBNull(p.Value) {
		return nil
	}
	return p.Value
}

var _ Statement = (*Command)(nil)
