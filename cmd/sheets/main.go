// Command sheets is the development and operations CLI: it drives the
// docker compose stack, runs tests and binaries, applies migrations and
// sweeps orphaned files.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kikuyu-catholic-sheets/sheets/internal/config"
)

var (
	composeFile string
	configFile  string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "sheets: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sheets",
		Short: "Kikuyu Catholic Sheets CLI",
		Long: `sheets orchestrates development workflows (building and running the Docker stack,
tests, the binaries) and operator tasks (schema migrations, orphaned file cleanup).`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&composeFile, "compose-file", "f", "docker-compose.yml", "Compose file to use for stack commands")
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default "+config.DefaultPath()+")")
	cmd.AddCommand(
		newBuildCmd(),
		newUpCmd(),
		newDownCmd(),
		newLogsCmd(),
		newTestCmd(),
		newRunCmd(),
		newMigrateCmd(),
		newReconcileCmd(),
	)
	return cmd
}

// compose runs docker compose against the selected compose file.
func compose(ctx context.Context, args ...string) error {
	return runCommand(ctx, "docker", append([]string{"compose", "-f", composeFile}, args...)...)
}

func newBuildCmd() *cobra.Command {
	var noCache bool
	cmd := &cobra.Command{
		Use:   "build [service...]",
		Short: "Build the server and worker images",
		RunE: func(cmd *cobra.Command, args []string) error {
			buildArgs := []string{"build"}
			if noCache {
				buildArgs = append(buildArgs, "--no-cache")
			}
			return compose(cmd.Context(), append(buildArgs, args...)...)
		},
	}
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Disable Docker build cache")
	return cmd
}

func newUpCmd() *cobra.Command {
	var (
		detach, skipBuild bool
		wait              time.Duration
	)
	cmd := &cobra.Command{
		Use:   "up [service...]",
		Short: "Start Postgres, Redis, MinIO, the portal and the worker",
		Long: `up starts the stack. When detached it then polls the portal's /healthz until the
server has applied its migrations and is serving, or --wait runs out.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			upArgs := []string{"up"}
			if !skipBuild {
				upArgs = append(upArgs, "--build")
			}
			if detach {
				upArgs = append(upArgs, "-d")
			}
			if err := compose(cmd.Context(), append(upArgs, args...)...); err != nil {
				return err
			}
			if !detach || wait <= 0 {
				return nil
			}
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if err := waitHealthy(cmd.Context(), cfg.BaseURL+"/healthz", wait); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "portal ready at %s\n", cfg.BaseURL)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&detach, "detached", "d", true, "Run docker compose in detached mode")
	cmd.Flags().BoolVar(&skipBuild, "skip-build", false, "Skip rebuilding images before starting")
	cmd.Flags().DurationVar(&wait, "wait", time.Minute, "How long to wait for the portal to report healthy (0 disables)")
	return cmd
}

// waitHealthy polls url until it answers 200 or timeout elapses.
func waitHealthy(ctx context.Context, url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		if resp, err := http.DefaultClient.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("portal at %s not healthy after %s", url, timeout)
		case <-ticker.C:
		}
	}
}

func newDownCmd() *cobra.Command {
	var removeVolumes bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop the stack",
		Long:  "down stops the stack. --volumes also drops the Postgres data and every stored file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			downArgs := []string{"down"}
			if removeVolumes {
				downArgs = append(downArgs, "-v")
			}
			return compose(cmd.Context(), downArgs...)
		},
	}
	cmd.Flags().BoolVarP(&removeVolumes, "volumes", "v", false, "Remove the database and object volumes")
	return cmd
}

func newLogsCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs [service...]",
		Short: "Show logs of the portal and worker (or the named services)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"server", "worker"}
			}
			logArgs := []string{"logs"}
			if follow {
				logArgs = append(logArgs, "-f")
			}
			return compose(cmd.Context(), append(logArgs, args...)...)
		},
	}
	// -f is taken by the persistent --compose-file flag.
	cmd.Flags().BoolVarP(&follow, "follow", "F", false, "Stream logs continuously")
	return cmd
}

func newTestCmd() *cobra.Command {
	var race, cover bool
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run Go tests (defaults to ./...)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs := args
			if len(pkgs) == 0 {
				pkgs = []string{"./..."}
			}
			goArgs := []string{"test"}
			if race {
				goArgs = append(goArgs, "-race")
			}
			if cover {
				goArgs = append(goArgs, "-cover")
			}
			return runCommand(cmd.Context(), "go", append(goArgs, pkgs...)...)
		},
	}
	cmd.Flags().BoolVar(&race, "race", false, "Enable Go race detector")
	cmd.Flags().BoolVar(&cover, "cover", false, "Collect coverage data")
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run individual Go binaries directly",
	}
	cmd.AddCommand(
		newServiceRunner("server", "./cmd/server"),
		newServiceRunner("worker", "./cmd/worker"),
	)
	return cmd
}

func newServiceRunner(name, path string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("go run %s", path),
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				os.Setenv("SHEETS_CONFIG_FILE", configFile)
			}
			return runCommand(cmd.Context(), "go", append([]string{"run", path}, args...)...)
		},
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}
