package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/plinthdb/plinth/internal/config"
	"github.com/plinthdb/plinth/internal/queue"
	"github.com/plinthdb/plinth/internal/tui"
)

var statusOnce bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Watch the schema job queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		ctx := context.Background()
		store, err := connectMetadata(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close(context.Background())

		q := queue.New(store.Client(), cfg.Metadata.Database)

		if statusOnce {
			st, err := q.CollectStats(ctx)
			if err != nil {
				return fmt.Errorf("collecting queue stats: %w", err)
			}
			fmt.Printf("Pending: %d\n", st.Pending)
			fmt.Printf("Leased:  %d\n", st.Leased)
			fmt.Printf("Done:    %d\n", st.Done)
			fmt.Printf("Failed:  %d\n", st.Failed)
			return nil
		}

		p := tea.NewProgram(tui.NewDashboard(q))
		_, err = p.Run()
		return err
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusOnce, "once", false, "print stats once instead of the live dashboard")
	rootCmd.AddCommand(statusCmd)
}
