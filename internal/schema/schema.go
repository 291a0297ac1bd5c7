// Package schema describes the command tree in machine-readable form so
// scripts can discover commands, flags and which inputs are secrets.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// SensitiveAnnotation marks flags whose values must never be echoed.
const SensitiveAnnotation = "ammswap_sensitive"

type CommandSchema struct {
	Path        string          `json:"path"`
	Use         string          `json:"use"`
	Short       string          `json:"short"`
	Flags       []FlagSchema    `json:"flags,omitempty"`
	GlobalFlags []FlagSchema    `json:"global_flags,omitempty"`
	Subcommands []CommandSchema `json:"subcommands,omitempty"`
}

type FlagSchema struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
	Required  bool   `json:"required,omitempty"`
	Sensitive bool   `json:"sensitive,omitempty"`
}

// MarkSensitive annotates a flag so schema output flags it as a secret.
func MarkSensitive(flags *pflag.FlagSet, name string) error {
	return flags.SetAnnotation(name, SensitiveAnnotation, []string{"true"})
}

// Build serializes root, or the subcommand at commandPath below it.
func Build(root *cobra.Command, commandPath string) (CommandSchema, error) {
	cmd := root
	for _, part := range strings.Fields(commandPath) {
		next := findChild(cmd, part)
		if next == nil {
			return CommandSchema{}, fmt.Errorf("command not found: %s", commandPath)
		}
		cmd = next
	}
	s := serialize(cmd)
	if cmd == root {
		s.GlobalFlags = collect(root.PersistentFlags())
	}
	return s, nil
}

func findChild(cmd *cobra.Command, name string) *cobra.Command {
	for _, c := range cmd.Commands() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func serialize(cmd *cobra.Command) CommandSchema {
	s := CommandSchema{
		Path:  strings.TrimSpace(cmd.CommandPath()),
		Use:   cmd.Use,
		Short: cmd.Short,
		Flags: collect(cmd.LocalNonPersistentFlags()),
	}
	for _, sub := range cmd.Commands() {
		if sub.Hidden || sub.Name() == "help" || sub.Name() == "completion" {
			continue
		}
		s.Subcommands = append(s.Subcommands, serialize(sub))
	}
	return s
}

func collect(flags *pflag.FlagSet) []FlagSchema {
	var items []FlagSchema
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Hidden || f.Name == "help" {
			return
		}
		item := FlagSchema{
			Name:      f.Name,
			Type:      f.Value.Type(),
			Usage:     f.Usage,
			Default:   f.DefValue,
			Required:  hasAnnotation(f, cobra.BashCompOneRequiredFlag),
			Sensitive: hasAnnotation(f, SensitiveAnnotation),
		}
		if item.Sensitive {
			item.Default = ""
		}
		items = append(items, item)
	})
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items
}

func hasAnnotation(f *pflag.Flag, key string) bool {
	values, ok := f.Annotations[key]
	return ok && len(values) > 0 && values[0] == "true"
}
