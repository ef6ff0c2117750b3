package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/harun/umile/internal/daemon"
	"github.com/spf13/cobra"
)

var (
	errEmptyPrompt   = errors.New("prompt is empty")
	errRequestFailed = errors.New("request failed")
)

var (
	promptText string
	promptFile string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single prompt and exit",
	Long: `Run a single prompt through the worker pool and pipeline, print the
reply and flush the collector. The prompt comes from --prompt-file, --prompt
or, when neither is set, standard input.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&promptText, "prompt", "", "prompt text")
	runCmd.Flags().StringVar(&promptFile, "prompt-file", "", "read the prompt from a file")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	prompt, err := readPrompt(cmd)
	if err != nil {
		return err
	}
	if strings.TrimSpace(prompt) == "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning: empty prompt provided.")
		return errEmptyPrompt
	}

	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := newLogger(cmd, cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, daemon.WithOneShot(), daemon.WithConsoleOutput(cmd.OutOrStdout()))
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	handle, err := d.Ask(cmd.Context(), prompt)
	if err != nil {
		_ = d.Stop()
		return err
	}

	ok := true
	if handle != nil {
		res, waitErr := handle.Wait(cmd.Context())
		ok = waitErr == nil && res.IsOk()
	}

	// Stop waits for the reply and flushes the collector.
	if err := d.Stop(); err != nil {
		return err
	}
	if !ok {
		return errRequestFailed
	}
	return nil
}

// readPrompt picks the prompt from --prompt-file, --prompt or stdin.
func readPrompt(cmd *cobra.Command) (string, error) {
	if promptFile != "" {
		data, err := os.ReadFile(promptFile)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt file: %w", err)
		}
		return string(data), nil
	}
	if cmd.Flags().Changed("prompt") {
		return promptText, nil
	}

	fmt.Fprint(cmd.OutOrStdout(), "Enter your prompt: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read prompt: %w", err)
	}
	return line, nil
}
