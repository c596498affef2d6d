package commands

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/headless"
)

var (
	runModel        string
	runFormat       string
	runFiles        []string
	runConversation string
	runStdin        bool
	runTimeout      time.Duration
	runQuiet        bool
	runVerbose      bool
	runNoSave       bool
)

var runCmd = &cobra.Command{
	Use:   "run [prompt...]",
	Short: "Send one prompt and print the reply",
	Long: `Send one prompt to a new or existing conversation and stream the reply.

Only tools from configured MCP servers are available; browser tools need a
connected client and therefore 'aipex serve'.

Examples:
  aipex run "Summarize this page"
  aipex run --file page.html "List the links on this page"
  aipex run --format json "What is 2+2?"
  echo "Explain this" | aipex run --stdin
  aipex run --conversation 01J... "And then?"`,
	RunE: runPrompt,
}

func init() {
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model to use")
	runCmd.Flags().StringVar(&runFormat, "format", "text", "Output format: text, json, jsonl")
	runCmd.Flags().StringArrayVarP(&runFiles, "file", "f", nil, "File(s) to attach as context")
	runCmd.Flags().StringVarP(&runConversation, "conversation", "c", "", "Continue a stored conversation")
	runCmd.Flags().BoolVar(&runStdin, "stdin", false, "Read the prompt from stdin")
	runCmd.Flags().DurationVarP(&runTimeout, "timeout", "t", 30*time.Minute, "Maximum execution time")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Only print the reply text")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Show every event (jsonl) or tool output (text)")
	runCmd.Flags().BoolVar(&runNoSave, "no-save", false, "Don't persist the conversation")
}

func runPrompt(cmd *cobra.Command, args []string) error {
	format, ok := headless.ParseOutputFormat(strings.ToLower(runFormat))
	if !ok {
		return fmt.Errorf("invalid output format: %s (must be text, json, or jsonl)", runFormat)
	}

	prompt := strings.Join(args, " ")
	if prompt == "" && !runStdin {
		return fmt.Errorf("prompt required. Usage: aipex run \"your prompt\"")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cmd, appOptions{model: runModel, noSave: runNoSave})
	if err != nil {
		return err
	}

	cfg := &headless.Config{
		Prompt:         prompt,
		Files:          runFiles,
		ConversationID: runConversation,
		OutputFormat:   format,
		Timeout:        runTimeout,
		Quiet:          runQuiet,
		Verbose:        runVerbose,
	}
	if runStdin {
		cfg.Stdin = os.Stdin
	}

	result, err := headless.NewRunner(cfg, a.service).Run(ctx, cmd.OutOrStdout())
	a.Close()

	if result.ExitCode != headless.ExitSuccess {
		if err != nil && format == headless.OutputText {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		}
		os.Exit(int(result.ExitCode))
	}
	return nil
}
