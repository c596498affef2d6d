package headless

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/event"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/logging"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// Printer renders one conversation's events as they arrive. Message
// snapshots are diffed against what was already shown, so text is printed
// as deltas and each tool state change once.
type Printer struct {
	mu        sync.Mutex
	writer    io.Writer
	format    OutputFormat
	quiet     bool
	verbose   bool
	startTime time.Time

	printed   map[string]int             // message ID -> runes of text shown
	toolState map[string]types.ToolState // tool call ID -> last state shown
	notices   map[string]bool            // synthetic message IDs shown
}

// NewPrinter creates a new event printer.
func NewPrinter(writer io.Writer, format OutputFormat, quiet, verbose bool) *Printer {
	return &Printer{
		writer:    writer,
		format:    format,
		quiet:     quiet,
		verbose:   verbose,
		startTime: time.Now(),
		printed:   make(map[string]int),
		toolState: make(map[string]types.ToolState),
		notices:   make(map[string]bool),
	}
}

// Skip marks every message in history as already shown, so continuing a
// conversation only prints the new turn.
func (p *Printer) Skip(history []*types.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, msg := range history {
		p.printed[msg.ID] = len([]rune(msg.Text()))
		if msg.Synthetic != "" {
			p.notices[msg.ID] = true
		}
		for _, tool := range msg.ToolParts() {
			p.toolState[tool.ToolCallID] = tool.State
		}
	}
}

// Handle renders one event.
func (p *Printer) Handle(e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.format == OutputJSONL && p.verbose {
		p.writeLine(string(e.Type), e.Data)
	}

	switch data := e.Data.(type) {
	case event.MessagesUpdatedData:
		for _, msg := range data.Messages {
			if msg.Role == types.RoleAssistant || msg.Role == types.RoleTool {
				p.message(msg)
			}
		}
	case event.StatusChangedData:
		p.status(data.Status)
	}
}

func (p *Printer) message(msg *types.Message) {
	if msg.Synthetic != "" {
		if p.notices[msg.ID] {
			return
		}
		p.notices[msg.ID] = true
		switch p.format {
		case OutputText:
			fmt.Fprintf(p.writer, "\n[%s] %s\n", msg.Synthetic, msg.Text())
		case OutputJSONL:
			if !p.verbose {
				p.writeLine("notice", map[string]string{"kind": msg.Synthetic, "text": msg.Text()})
			}
		}
		return
	}

	text := []rune(msg.Text())
	if shown := p.printed[msg.ID]; len(text) > shown {
		delta := string(text[shown:])
		p.printed[msg.ID] = len(text)
		switch p.format {
		case OutputText:
			fmt.Fprint(p.writer, delta)
		case OutputJSONL:
			if !p.verbose {
				p.writeLine("text", map[string]string{"messageID": msg.ID, "delta": delta})
			}
		}
	}

	for _, tool := range msg.ToolParts() {
		if p.toolState[tool.ToolCallID] == tool.State {
			continue
		}
		p.toolState[tool.ToolCallID] = tool.State
		p.tool(tool)
	}
}

func (p *Printer) tool(tool *types.ToolPart) {
	switch p.format {
	case OutputJSONL:
		if !p.verbose {
			p.writeLine("tool", tool)
		}
	case OutputText:
		if p.quiet {
			return
		}
		switch tool.State {
		case types.ToolExecuting:
			fmt.Fprintf(p.writer, "\n[tool:%s] %s\n", tool.ToolName, logging.Truncate(string(tool.Input), 80))
		case types.ToolOutputAvailable:
			if p.verbose {
				fmt.Fprintf(p.writer, "[tool:%s] %s\n", tool.ToolName, logging.Truncate(string(tool.Output), 200))
			}
		case types.ToolOutputError:
			fmt.Fprintf(p.writer, "[tool:%s] Error: %s\n", tool.ToolName, tool.ErrorText)
		}
	}
}

func (p *Printer) status(status types.Status) {
	switch p.format {
	case OutputJSONL:
		if !p.verbose {
			p.writeLine("status", map[string]types.Status{"status": status})
		}
	case OutputText:
		if !p.quiet && status == types.StatusIdle {
			fmt.Fprintf(p.writer, "\n[done] Completed in %s\n", formatDuration(time.Since(p.startTime)))
		}
	}
}

// PrintResult writes the final result for the json format.
func (p *Printer) PrintResult(result *Result) {
	if p.format != OutputJSON {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintln(p.writer, string(data))
}

func (p *Printer) writeLine(eventType string, data any) {
	line, err := json.Marshal(Event{Type: eventType, Timestamp: time.Now(), Data: data})
	if err != nil {
		return
	}
	fmt.Fprintln(p.writer, string(line))
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
