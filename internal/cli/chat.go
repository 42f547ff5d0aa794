package cli

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"wishmaster/internal/engine"
	"wishmaster/internal/prompt"
)

func (a *app) chatCmd() *cobra.Command {
	var system string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation with the loaded model",
		Long:  "Reads one message per line. /reset clears the conversation, /exit quits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.newEngine(nil)
			if err != nil {
				return err
			}
			defer eng.Close()
			if err := a.loadModel(eng, a.cfg.ModelPath); err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			hist := prompt.NewMemoryHistory()
			b := a.builder(system)
			in := bufio.NewScanner(a.stdin)
			fmt.Fprintf(a.stdout, "%s ready. /reset clears history, /exit quits.\n", eng.LoadedModelName())
			for {
				fmt.Fprint(a.stdout, "> ")
				if !in.Scan() {
					fmt.Fprintln(a.stdout)
					return in.Err()
				}
				line := strings.TrimSpace(in.Text())
				switch line {
				case "":
					continue
				case "/exit", "/quit":
					return nil
				case "/reset":
					hist.Reset()
					fmt.Fprintln(a.stdout, "history cleared")
					continue
				}
				st, err := eng.Generate(b.Build(hist, line), a.params())
				if err != nil {
					return err
				}
				reply, last := streamTo(ctx, st, a.stdout)
				fmt.Fprintln(a.stdout)
				if ctx.Err() != nil {
					return nil
				}
				if last.Kind == engine.EventError {
					a.log.Error().Err(last.Err).Msg("generation failed")
					continue
				}
				hist.Append(prompt.RoleUser, line)
				hist.Append(prompt.RoleAssistant, strings.TrimSpace(reply))
			}
		},
	}
	cmd.Flags().StringVar(&system, "system", "", "Override the system preamble")
	return cmd
}
