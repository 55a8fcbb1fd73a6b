// Package console implements the interactive rule console: install watches,
// feed events and inspect compiled rules without a live feed.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/tidwall/gjson"

	"github.com/rcwatch/rcwatch/internal/rules"
	"github.com/rcwatch/rcwatch/internal/watch"
)

// Source is the source constraint of every watch created in the console.
const Source = "console"

// Destination is where console watches deliver.
const Destination = "console"

// templateSeparator splits a watch command's rule from its output template.
const templateSeparator = " => "

var (
	errExit     = errors.New("exit")
	errNoSample = errors.New("no sample event loaded (start the console with --sample)")
)

type commandHandler func(ctx context.Context, args string) error

type command struct {
	usage   string
	desc    string
	handler commandHandler
}

// Console evaluates console commands against a private watcher.
type Console struct {
	out      io.Writer
	watcher  *watch.Watcher
	sample   any
	commands map[string]command
	names    []string
}

// New creates a console writing to out. sample, when non-nil, is the decoded
// event used by the eval and fire commands.
func New(out io.Writer, sample any, opts watch.Options) *Console {
	c := &Console{
		out:      out,
		watcher:  watch.New(opts),
		sample:   sample,
		commands: make(map[string]command),
	}
	c.register("watch", "watch <name> <rule> [=> <template>]", "install a watch on console events", c.cmdWatch)
	c.register("unwatch", "unwatch <name>...", "remove watches", c.cmdUnwatch)
	c.register("watched", "watched [<name>...]", "list watches, or describe the named ones", c.cmdWatched)
	c.register("check", "check <rule>", "compile a rule and show its compiled form", c.cmdCheck)
	c.register("event", "event <json>", "feed a JSON fragment to the console watches", c.cmdEvent)
	c.register("discard", "discard", "drop the buffered partial event", c.cmdDiscard)
	c.register("eval", "eval <rule>", "evaluate a rule against the sample event", c.cmdEval)
	c.register("fire", "fire", "deliver the sample event to the console watches", c.cmdFire)
	c.register("help", "help", "show this help", c.cmdHelp)
	c.register("exit", "exit", "leave the console", func(context.Context, string) error { return errExit })
	c.commands["quit"] = c.commands["exit"]
	c.commands["?"] = c.commands["help"]
	return c
}

func (c *Console) register(name, usage, desc string, h commandHandler) {
	c.commands[name] = command{usage: usage, desc: desc, handler: h}
	c.names = append(c.names, name)
}

// Watcher returns the console's watcher.
func (c *Console) Watcher() *watch.Watcher {
	return c.watcher
}

// Execute runs one command line. It returns io.EOF when the line asks to
// leave the console.
func (c *Console) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	name, args, _ := strings.Cut(line, " ")
	cmd, ok := c.commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", name)
	}
	if err := cmd.handler(ctx, strings.TrimSpace(args)); err != nil {
		if errors.Is(err, errExit) {
			return io.EOF
		}
		return err
	}
	return nil
}

// Run starts the readline loop until EOF or exit.
func (c *Console) Run(ctx context.Context) error {
	cyan := color.New(color.FgCyan).SprintFunc()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            cyan("rcwatch> "),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		AutoComplete:      readline.NewPrefixCompleter(c.completions()...),
		Stdout:            c.out,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(c.out, "%s\n", color.New(color.FgCyan, color.Bold).Sprint("rcwatch rule console"))
	fmt.Fprintln(c.out, "Type 'help' for available commands, 'exit' to quit")

	red := color.New(color.FgRed).SprintFunc()
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		if err := c.Execute(ctx, line); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			fmt.Fprintf(c.out, "%s %v\n", red("Error:"), err)
		}
	}
}

func (c *Console) completions() []readline.PrefixCompleterInterface {
	items := make([]readline.PrefixCompleterInterface, 0, len(c.names))
	for _, name := range c.names {
		items = append(items, readline.PcItem(name))
	}
	return items
}

func (c *Console) cmdWatch(ctx context.Context, args string) error {
	name, rest, _ := strings.Cut(args, " ")
	rule, template, _ := strings.Cut(strings.TrimSpace(rest), templateSeparator)
	if name == "" || strings.TrimSpace(rule) == "" {
		return fmt.Errorf("usage: %s", c.commands["watch"].usage)
	}

	id, err := c.watcher.Register(watch.Registration{
		Name:        name,
		Source:      Source,
		Rule:        rule,
		Template:    strings.TrimSpace(template),
		Destination: Destination,
		Notify:      c.printNotification,
	})
	if err != nil {
		return err
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(c.out, "%s watch %s installed as %s\n", green("OK"), name, id)
	return nil
}

func (c *Console) printNotification(_ context.Context, n watch.Notification) {
	yellow := color.New(color.FgYellow).SprintFunc()
	fmt.Fprintf(c.out, "%s %s\n", yellow("->"), n.Message)
}

func (c *Console) cmdUnwatch(ctx context.Context, args string) error {
	names := strings.Fields(args)
	if len(names) == 0 {
		return fmt.Errorf("usage: %s", c.commands["unwatch"].usage)
	}
	var missing []string
	for _, name := range names {
		if c.watcher.UnregisterName(name) {
			fmt.Fprintf(c.out, "watch %s removed\n", name)
		} else {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("no such watch: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *Console) cmdWatched(ctx context.Context, args string) error {
	names := strings.Fields(args)
	if len(names) == 0 {
		active := c.watcher.ListActive()
		if len(active) == 0 {
			fmt.Fprintln(c.out, "no watches")
			return nil
		}
		for _, info := range active {
			fmt.Fprintf(c.out, "%s %s\n", info.ID, info.Name)
		}
		return nil
	}
	for _, name := range names {
		info, ok := c.watcher.Lookup(name)
		if !ok {
			fmt.Fprintf(c.out, "unknown watch %q\n", name)
			continue
		}
		fmt.Fprintf(c.out, "%s (%s): %s\n", info.Name, info.ID, info.Rule)
	}
	return nil
}

func (c *Console) cmdCheck(ctx context.Context, args string) error {
	_, err := DescribeRule(c.out, args)
	return err
}

func (c *Console) cmdEvent(ctx context.Context, args string) error {
	if args == "" {
		return fmt.Errorf("usage: %s", c.commands["event"].usage)
	}
	fired := c.watcher.Ingest(ctx, Source, args)
	if pending := c.watcher.Buffers().Pending(Source); pending != "" {
		fmt.Fprintf(c.out, "buffered %d bytes, waiting for the rest of the event\n", len(pending))
		return nil
	}
	fmt.Fprintf(c.out, "%d watch(es) fired\n", fired)
	return nil
}

func (c *Console) cmdDiscard(ctx context.Context, args string) error {
	pending := c.watcher.Buffers().Pending(Source)
	if pending == "" {
		fmt.Fprintln(c.out, "nothing buffered")
		return nil
	}
	c.watcher.Buffers().Reset(Source)
	fmt.Fprintf(c.out, "discarded %d bytes\n", len(pending))
	return nil
}

func (c *Console) cmdFire(ctx context.Context, args string) error {
	if c.sample == nil {
		return errNoSample
	}
	fired := c.watcher.Dispatch(ctx, Source, c.sample)
	fmt.Fprintf(c.out, "%d watch(es) fired\n", fired)
	return nil
}

func (c *Console) cmdEval(ctx context.Context, args string) error {
	if c.sample == nil {
		return errNoSample
	}
	rule, err := rules.CompileRule(args)
	if err != nil {
		return err
	}
	value := rule.Eval(c.sample)
	fmt.Fprintf(c.out, "%s => %s (match: %t)\n", rule.Compiled(), formatValue(value), rules.Truthy(value))
	return nil
}

func (c *Console) cmdHelp(ctx context.Context, args string) error {
	green := color.New(color.FgGreen).SprintFunc()
	names := append([]string(nil), c.names...)
	sort.Strings(names)
	for _, name := range names {
		cmd := c.commands[name]
		fmt.Fprintf(c.out, "  %-40s %s\n", green(cmd.usage), cmd.desc)
	}
	return nil
}

// DescribeRule compiles text and prints its compiled form, cost and warnings.
// The compile error is returned unchanged.
func DescribeRule(out io.Writer, text string) (*rules.CompiledRule, error) {
	rule, err := rules.CompileRule(text)
	if err != nil {
		return nil, err
	}
	bold := color.New(color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(out, "%s %s\n", bold("compiled:"), rule.Compiled())
	fmt.Fprintf(out, "%s %d\n", bold("cost:"), rule.Cost)
	for _, w := range rule.Warnings {
		fmt.Fprintf(out, "%s %s\n", yellow("warning:"), w)
	}
	return rule, nil
}

// DecodeSample decodes a JSON sample event into the record shape the rules
// evaluate.
func DecodeSample(data []byte) (any, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid sample event: not valid JSON")
	}
	return gjson.ParseBytes(data).Value(), nil
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	if v == nil {
		return "nil"
	}
	return rules.Text(v)
}
