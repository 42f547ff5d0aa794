package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"wishmaster/internal/engine"
	"wishmaster/internal/prompt"
)

func (a *app) generateCmd() *cobra.Command {
	var raw bool
	var system string
	cmd := &cobra.Command{
		Use:   "generate [prompt...]",
		Short: "Generate one reply and print it as it streams",
		Example: "  wishmaster generate -m ~/models/qwen2.5-7b-instruct-q4_k_m.gguf \"Write a haiku\"\n" +
			"  echo \"Summarize this\" | wishmaster generate -m qwen2.5-7b-instruct-q4_k_m -",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "" || text == "-" {
				b, err := io.ReadAll(a.stdin)
				if err != nil {
					return fmt.Errorf("read prompt: %w", err)
				}
				text = string(b)
			}
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("empty prompt")
			}

			eng, err := a.newEngine(nil)
			if err != nil {
				return err
			}
			defer eng.Close()
			if err := a.loadModel(eng, a.cfg.ModelPath); err != nil {
				return err
			}
			if !raw {
				text = a.builder(system).Build(prompt.NewMemoryHistory(), strings.TrimSpace(text))
			}
			st, err := eng.Generate(text, a.params())
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			_, last := streamTo(ctx, st, a.stdout)
			fmt.Fprintln(a.stdout)
			if last.Kind == engine.EventError {
				return last.Err
			}
			a.log.Debug().Str("reason", string(last.Reason)).Int("tokens", last.Tokens).Msg("generation finished")
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Send the prompt verbatim instead of wrapping it in the chat template")
	cmd.Flags().StringVar(&system, "system", "", "Override the system preamble")
	return cmd
}
