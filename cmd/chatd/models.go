package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"chatd/internal/common/fsutil"
	"chatd/internal/registry"
	"chatd/pkg/types"
)

var (
	idStyle    = lipgloss.NewStyle().Bold(true)
	quantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func newModelsCmd(opts *rootOptions) *cobra.Command {
	o := &overrides{}
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models found in the models directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, opts, o)
			if err != nil {
				return err
			}
			dir, err := fsutil.ExpandHome(cfg.ModelsDir)
			if err != nil {
				return err
			}
			if !fsutil.PathExists(dir) {
				return fmt.Errorf("models dir %s does not exist", dir)
			}
			models, err := registry.LoadDir(dir)
			if err != nil {
				return err
			}
			return printModels(cmd.OutOrStdout(), models)
		},
	}
	cmd.Flags().StringVar(&o.modelsDir, "models-dir", "", "Directory to scan for *.gguf model files")
	return cmd
}

func printModels(w io.Writer, models []types.Model) error {
	if len(models) == 0 {
		_, err := fmt.Fprintln(w, dimStyle.Render("no models found"))
		return err
	}
	for _, m := range models {
		line := idStyle.Render(m.ID)
		if m.Quant != "" {
			line += " " + quantStyle.Render(m.Quant)
		}
		if m.SizeBytes > 0 {
			line += " " + dimStyle.Render(humanize.IBytes(uint64(m.SizeBytes)))
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
