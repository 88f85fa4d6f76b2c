// Command stargan trains a StarGAN voice conversion model on MCEP features
// and converts evaluation utterances with a saved generator.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ChizhovVadim/StarganVC/internal/app"
	"github.com/ChizhovVadim/StarganVC/internal/config"
)

func newRootCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "stargan",
		Short: "Train and test a StarGAN voice conversion model",
		Long: `stargan trains the generator and discriminator on feature files of
train_data_dir and writes checkpoints to model_save_dir. Every sample_step
iterations it converts the evaluation speaker pair (p262 to p272 for VCTK,
sf3 to tm3 for VCC2016) into sample_dir.

With --mode test the generator saved at --test_iters converts the
evaluation set and nothing is trained.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var binding = config.Bind(cmd.Flags())
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := binding.Resolve()
		if err != nil {
			return err
		}
		return app.Run(cmd.Context(), cfg, cmd.ErrOrStderr(), binding.Warnings()...)
	}
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
