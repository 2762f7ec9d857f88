package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit %d", e.code)
}

var Version = "dev"

func Execute(args []string, in io.Reader, out io.Writer, errOut io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return run(ctx, App{In: in, Out: out, Err: errOut}, args)
}

func run(ctx context.Context, app App, args []string) int {
	flags := GlobalFlags{}
	var showVersion bool

	root := &cobra.Command{
		Use:           "pagegrab",
		Short:         "Read the visible text of a page in an already-running browser",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.SetIn(app.In)
	root.SetOut(app.Out)
	root.SetErr(app.Err)

	root.PersistentFlags().BoolVarP(&showVersion, "version", "V", false, "version")
	root.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "C", "", "config file")
	root.PersistentFlags().StringVarP(&flags.Endpoint, "endpoint", "e", "", "remote debugging endpoint (host:port)")
	root.PersistentFlags().StringVarP(&flags.Driver, "driver", "d", "", "browser driver (playwright, chromedp)")
	root.PersistentFlags().StringVarP(&flags.Mode, "mode", "m", "", "run mode (scrape, login)")
	root.PersistentFlags().StringVarP(&flags.URL, "url", "u", "", "navigate to url before reading")
	root.PersistentFlags().StringVarP(&flags.Timeout, "timeout", "t", "", "action timeout")
	root.PersistentFlags().StringVarP(&flags.State, "storage-state", "s", "", "storage state file saved after login, restored before scrape")
	root.PersistentFlags().StringVarP(&flags.Selector, "selector", "S", "", "root element to read")
	root.PersistentFlags().StringVarP(&flags.Format, "format", "f", "", "output format (text, json, prompts)")
	root.PersistentFlags().StringVarP(&flags.Provider, "provider", "r", "", "prompt provider (auto, gemini, openai)")
	root.PersistentFlags().BoolVarP(&flags.JSON, "json", "j", false, "json output")
	root.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "quiet output")
	root.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "verbose output")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if showVersion {
			fmt.Fprintln(app.Out, Version)
			return exitError{code: exitSuccess}
		}
		if flags.Quiet && flags.Verbose {
			fmt.Fprintln(app.Err, "cannot set both --quiet and --verbose")
			return exitError{code: exitUsage}
		}
		return nil
	}

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Attach, run the configured mode and print the page text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return exitOrNil(app.runSession(cmd.Context(), flags, ""))
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "scrape",
		Short: "Attach to an authenticated browser and print the page text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return exitOrNil(app.runSession(cmd.Context(), flags, modeScrape))
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "login",
		Short: "Attach, run the login steps, then print the page text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return exitOrNil(app.runSession(cmd.Context(), flags, modeLogin))
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "text [FILE]",
		Short: "Print the visible text of an HTML file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return exitOrNil(app.runText(flags, path))
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "probe",
		Short: "Check that a browser is listening on the debugging endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return exitOrNil(app.runProbe(cmd.Context(), flags))
		},
	})

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install the Playwright driver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			withBrowser, _ := cmd.Flags().GetBool("with-browser")
			return exitOrNil(app.runInstall(flags, withBrowser))
		},
	}
	installCmd.Flags().BoolP("with-browser", "B", false, "also download chromium")
	root.AddCommand(installCmd)

	root.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "Check config, endpoint and driver health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return exitOrNil(app.runDoctor(cmd.Context(), flags))
		},
	})

	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			return exit.code
		}
		fmt.Fprintln(app.Err, err)
		return exitUsage
	}
	return exitSuccess
}

func exitOrNil(code int) error {
	if code == exitSuccess {
		return nil
	}
	return exitError{code: code}
}
