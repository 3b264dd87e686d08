package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joescharf/council/internal/models"
	"github.com/joescharf/council/internal/output"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Show the models resident on the inference server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return modelsListRun(cmd.Context())
	},
}

var modelsUnloadCmd = &cobra.Command{
	Use:   "unload <model>",
	Short: "Evict a model from the inference server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return modelsUnloadRun(cmd.Context(), args[0])
	},
}

func init() {
	modelsCmd.AddCommand(modelsUnloadCmd)
	rootCmd.AddCommand(modelsCmd)
}

func modelsListRun(ctx context.Context) error {
	ctx = cmdContext(ctx)
	eng, err := newEngine()
	if err != nil {
		return err
	}
	if eng.ollama != nil {
		if v, err := eng.ollama.Ping(ctx); err == nil {
			ui.Info("Ollama %s at %s", v, eng.ollama.BaseURL())
		} else {
			return fmt.Errorf("inference server unreachable: %w", err)
		}
	}

	resident, err := eng.gateway.ListResident(ctx)
	if err != nil {
		return err
	}
	if len(resident) == 0 {
		ui.Info("No models loaded")
		return nil
	}

	table := ui.Table([]string{"MODEL", "SIZE", "VRAM", "EXPIRES"})
	for _, m := range resident {
		expires := "-"
		if !m.ExpiresAt.IsZero() {
			expires = humanize.Time(m.ExpiresAt)
		}
		_ = table.Append([]string{
			output.Cyan(m.Name),
			humanize.Bytes(uint64(max(m.Size, 0))),
			humanize.Bytes(uint64(max(m.SizeVRAM, 0))),
			expires,
		})
	}
	return table.Render()
}

func modelsUnloadRun(ctx context.Context, model string) error {
	ctx = cmdContext(ctx)
	// A running server owns residency for its reviews; go through its API so the
	// unload is refused while a review is in flight.
	if serverInstance().Held() {
		return fmt.Errorf("council server is running; unload %s through its API (POST /api/v1/models/unload)", model)
	}
	eng, err := newEngine()
	if err != nil {
		return err
	}
	if eng.residency == nil {
		return fmt.Errorf("model residency is not managed for this provider")
	}

	start := time.Now()
	eng.residency.Evict(ctx, model)
	switch eng.residency.Status(model) {
	case models.ResidencyError:
		return fmt.Errorf("unload %s failed", model)
	case models.ResidencyUnloading:
		ui.Warning("%s is still resident; the server may keep it until its keep-alive expires", model)
		return nil
	}
	ui.Success("Unloaded %s (%s)", output.Cyan(model), time.Since(start).Round(time.Millisecond))
	return nil
}
