// Command inkpress runs the daily content production loop: generate
// candidate articles, mail them for human review, and act on the reply.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mkwei/inkpress/internal/app"
	"github.com/mkwei/inkpress/internal/config"
	"github.com/mkwei/inkpress/internal/dispatch"
	"github.com/mkwei/inkpress/internal/instruction"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "inkpress",
		Short:         "Daily article production with a human review gate over email",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: platform config dir)")

	root.AddCommand(
		initCmd(),
		serveCmd(),
		runCmd(),
		checkCmd(),
		expireCmd(),
		sendCmd(),
		parseCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config (run 'inkpress init' first): %w", err)
	}
	return cfg, nil
}

func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return fn(ctx, a)
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file to edit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if err := cfg.Save(); err != nil {
				return err
			}
			path, _ := config.ConfigPath()
			fmt.Printf("Wrote %s\nFill in SMTP, IMAP and API credentials before running.\n", path)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: daily generation, reply polling, expiry sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				return a.Run(ctx)
			})
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one production run now and mail the review request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				return a.RunPipeline(ctx)
			})
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Poll the inbox once and apply any review replies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				return a.CheckReplies(ctx)
			})
		},
	}
}

func expireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Resolve review requests past the expiry window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				return a.CheckExpiry(ctx)
			})
		},
	}
}

func sendCmd() *cobra.Command {
	var candidate int
	cmd := &cobra.Command{
		Use:   "send <cycle-date>",
		Short: "Apply a publish instruction to a cycle without waiting for mail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				date := strings.ReplaceAll(args[0], "-", "")
				instr := instruction.Instruction{Action: instruction.ActionPublish, Candidate: candidate}
				return a.Dispatcher().Apply(ctx, date, instr, dispatch.OriginReply)
			})
		},
	}
	cmd.Flags().IntVarP(&candidate, "candidate", "n", 1, "1-based candidate to publish")
	return cmd
}

func parseCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "parse [reply text]",
		Short: "Parse reply text into a structured instruction (reads stdin if no argument)",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := strings.Join(args, " ")
			if body == "" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
				body = string(data)
			}

			parser := instruction.NewParser(instruction.DefaultTokens())
			instr := parser.Parse(body, count)

			out, err := json.MarshalIndent(instr, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "candidates", "n", 3, "candidate count for index validation")
	return cmd
}
