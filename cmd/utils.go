package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// choice is a flag restricted to a fixed list of names. Setting it stores the
// value mapped to the chosen name into target.
type choice[T any] struct {
	target  *T
	name    string
	options []choiceOption[T]
}

type choiceOption[T any] struct {
	name  string
	value T
	help  string
}

func option[T any](name string, value T, help string) choiceOption[T] {
	return choiceOption[T]{name: name, value: value, help: help}
}

// newChoice binds target to the options and sets it to the value of def
func newChoice[T any](target *T, def string, options ...choiceOption[T]) *choice[T] {
	c := &choice[T]{target: target, options: options}
	if err := c.Set(def); err != nil {
		panic(fmt.Sprintf("default %q: %v", def, err))
	}
	return c
}

func (c *choice[T]) String() string { return c.name }
func (c *choice[T]) Type() string   { return "string" }

// Set accepts any name case-insensitively and stores its canonical spelling
func (c *choice[T]) Set(v string) error {
	for _, o := range c.options {
		if strings.EqualFold(o.name, v) {
			c.name = o.name
			*c.target = o.value
			return nil
		}
	}
	return fmt.Errorf("must be one of %s", strings.Join(c.names(), ", "))
}

func (c *choice[T]) names() []string {
	names := make([]string, len(c.options))
	for i, o := range c.options {
		names[i] = o.name
	}
	return names
}

// complete lists the names in declaration order with their help text
func (c *choice[T]) complete(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	items := make([]string, 0, len(c.options))
	for _, o := range c.options {
		if o.help != "" {
			items = append(items, o.name+"\t"+o.help)
		} else {
			items = append(items, o.name)
		}
	}
	return items, cobra.ShellCompDirectiveNoFileComp
}

func (c *choice[T]) addTo(fs *pflag.FlagSet, name, short, usage string) {
	fs.VarP(c, name, short, usage+": "+strings.Join(c.names(), ", "))
}

// register adds the flag to cmd along with its shell completion
func (c *choice[T]) register(cmd *cobra.Command, name, short, usage string) {
	c.addTo(cmd.Flags(), name, short, usage)
	cmd.RegisterFlagCompletionFunc(name, c.complete)
}
