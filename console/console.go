package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/d1nch8g/linecue/engine"
	"github.com/d1nch8g/linecue/events"
	"github.com/d1nch8g/linecue/queue"
)

// ErrQuit is returned by Exec when the operator asks to leave.
var ErrQuit = errors.New("quit")

var (
	slotStyle    = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#777"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#e5c07b"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#e06c75"))
	currentStyle = lipgloss.NewStyle().Reverse(true)

	stateStyles = map[queue.State]lipgloss.Style{
		queue.Idle:            lipgloss.NewStyle().Foreground(lipgloss.Color("#888")),
		queue.Playing:         lipgloss.NewStyle().Foreground(lipgloss.Color("#98c379")),
		queue.AwaitingTrigger: lipgloss.NewStyle().Foreground(lipgloss.Color("#61afef")),
		queue.Finished:        lipgloss.NewStyle().Foreground(lipgloss.Color("#c678dd")),
	}
)

const helpText = `commands:
  bind-output <slot> <device>   bind a headset (id, index or name)
  bind-input <slot> <path>      bind a button device path
  unbind-input <slot>           clear a slot's button device
  add <slot> <file>             queue an mp3 or wav file
  say <slot> <text>             queue synthesized speech
  next <slot>                   force-advance a slot
  replay <slot>                 replay the current clip
  pause <slot>                  pause or resume playback
  remove <slot> <n>             drop queued clip #n
  status [slot]                 show slot state
  outputs                       list output devices
  inputs                        list button devices
  quit`

var slotCommands = map[string]bool{
	"bind-output": true, "bind-input": true, "unbind-input": true,
	"add": true, "say": true, "next": true, "replay": true, "pause": true, "remove": true,
}

// Console is the operator's line-oriented control surface.
type Console struct {
	engine *engine.Engine

	mu  sync.Mutex
	out io.Writer
}

func New(eng *engine.Engine, out io.Writer) *Console {
	return &Console{engine: eng, out: out}
}

// Run executes commands read from in until EOF, quit or ctx cancellation.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.print(dimStyle.Render("type help for commands"))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := c.Exec(ctx, line)
			if errors.Is(err, ErrQuit) {
				return nil
			}
			if err != nil {
				c.print(errorStyle.Render("error: " + err.Error()))
			}
		}
	}
}

// Watch prints warnings from sub until ctx is cancelled.
func (c *Console) Watch(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			switch ev.Kind {
			case events.KindWarning:
				c.print(warnStyle.Render(fmt.Sprintf("slot %d: %s", ev.Slot, ev.Message)))
			case events.KindTriggerDropped:
				c.print(warnStyle.Render(fmt.Sprintf("slot %d: dropped %s, trigger queue full", ev.Slot, ev.Message)))
			}
		}
	}
}

// Exec runs a single command line.
func (c *Console) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help", "?":
		c.print(helpText)
		return nil
	case "quit", "exit":
		return ErrQuit
	case "status":
		return c.status(args)
	case "outputs":
		return c.outputs()
	case "inputs":
		return c.inputs()
	}

	if !slotCommands[cmd] {
		return fmt.Errorf("unknown command %q, type help", cmd)
	}
	slot, rest, err := slotArg(cmd, args)
	if err != nil {
		return err
	}

	switch cmd {
	case "bind-output":
		if rest == "" {
			return errors.New("usage: bind-output <slot> <device>")
		}
		device, err := c.engine.BindOutput(slot, rest)
		if err != nil {
			return err
		}
		c.printf("slot %d output -> %s", slot, device)
	case "bind-input":
		if rest == "" {
			return errors.New("usage: bind-input <slot> <path>")
		}
		transfer, err := c.engine.BindInput(slot, rest)
		if err != nil {
			return err
		}
		if transfer != nil {
			c.print(warnStyle.Render("warning: " + transfer.Warning().Error()))
		}
		c.printf("slot %d input -> %s", slot, rest)
	case "unbind-input":
		path, err := c.engine.UnbindInput(slot)
		if err != nil {
			return err
		}
		if path == "" {
			c.printf("slot %d had no input", slot)
		} else {
			c.printf("slot %d input %s cleared", slot, path)
		}
	case "add":
		if rest == "" {
			return errors.New("usage: add <slot> <file>")
		}
		item, err := c.engine.AddInstruction(slot, rest)
		if err != nil {
			return err
		}
		c.printf("slot %d queued #%d %s", slot, item.Seq, item.Label)
	case "say":
		if rest == "" {
			return errors.New("usage: say <slot> <text>")
		}
		item, err := c.engine.AddSpoken(ctx, slot, rest)
		if err != nil {
			return err
		}
		c.printf("slot %d queued #%d %q", slot, item.Seq, item.Label)
	case "next":
		if err := c.engine.ForceAdvance(slot); err != nil {
			return err
		}
		return c.status([]string{strconv.Itoa(slot)})
	case "replay":
		if err := c.engine.Replay(slot); err != nil {
			return err
		}
		return c.status([]string{strconv.Itoa(slot)})
	case "pause":
		paused, err := c.engine.TogglePause(slot)
		if err != nil {
			return err
		}
		if paused {
			c.printf("slot %d paused", slot)
		} else {
			c.printf("slot %d resumed", slot)
		}
	case "remove":
		seq, err := strconv.Atoi(rest)
		if err != nil {
			return errors.New("usage: remove <slot> <n>")
		}
		item, err := c.engine.RemoveInstruction(slot, seq)
		if err != nil {
			return err
		}
		c.printf("slot %d removed #%d %s", slot, item.Seq, item.Label)
	}
	return nil
}

func slotArg(cmd string, args []string) (int, string, error) {
	if len(args) == 0 {
		return 0, "", fmt.Errorf("%s needs a slot number", cmd)
	}
	slot, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, "", fmt.Errorf("%w: %q", engine.ErrInvalidSlot, args[0])
	}
	return slot, strings.Join(args[1:], " "), nil
}

func (c *Console) status(args []string) error {
	var slots []engine.SlotStatus
	if len(args) > 0 {
		slot, _, err := slotArg("status", args)
		if err != nil {
			return err
		}
		st, err := c.engine.Status(slot)
		if err != nil {
			return err
		}
		slots = []engine.SlotStatus{st}
	} else {
		slots = c.engine.StatusAll()
	}

	blocks := make([]string, 0, len(slots))
	for _, st := range slots {
		blocks = append(blocks, RenderSlot(st))
	}
	c.print(strings.Join(blocks, "\n"))
	return nil
}

func (c *Console) outputs() error {
	devices, err := c.engine.OutputDevices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		c.print(dimStyle.Render("no output devices"))
		return nil
	}
	for _, d := range devices {
		c.printf("%3d  %-40s %s", d.Index, d.ID, dimStyle.Render(fmt.Sprintf("%dch %.0fHz", d.Channels, d.DefaultSampleRate)))
	}
	return nil
}

func (c *Console) inputs() error {
	devices, err := c.engine.InputDevices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		c.print(dimStyle.Render("no input devices"))
		return nil
	}
	for _, d := range devices {
		c.printf("%-24s %s %s", d.Path, d.Product, dimStyle.Render(d.Manufacturer))
	}
	return nil
}

// RenderSlot formats one slot with its queue.
func RenderSlot(st engine.SlotStatus) string {
	style, ok := stateStyles[st.State]
	if !ok {
		style = dimStyle
	}
	state := st.State.String()
	if st.Paused {
		state += " (paused)"
	}

	output, input := st.Output, st.Input
	if output == "" {
		output = "-"
	}
	if input == "" {
		input = "-"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s  %d/%d  %s",
		slotStyle.Render(fmt.Sprintf("Slot %d", st.ID)),
		style.Render(state),
		st.Index+1, st.Length,
		dimStyle.Render("out: "+output+"  in: "+input),
	)
	if st.Failures > 0 {
		b.WriteString(warnStyle.Render(fmt.Sprintf("  %d failed starts", st.Failures)))
	}

	for i, item := range st.Items {
		line := fmt.Sprintf("  #%-3d %s", item.Seq, item.Label)
		switch {
		case i == st.Index:
			line = currentStyle.Render(line)
		case i < st.Index:
			line = dimStyle.Render(line)
		}
		b.WriteString("\n" + line)
	}
	return b.String()
}

func (c *Console) printf(format string, args ...any) {
	c.print(fmt.Sprintf(format, args...))
}

func (c *Console) print(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}
