package main

import (
	"context"
	"fmt"
	"os"
	osSignal "os/signal"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/straytrace/stray/procfs"
	"github.com/straytrace/stray/tracer"
	"github.com/straytrace/stray/tracer/syscalls"
)

var (
	flagNoASLR      bool
	flagKillOnExit  bool
	flagTrace       string
	flagMaxString   int
	flagInteractive bool
	flagVerbose     bool
	flagKillOnStop  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "stray",
		Short:         "stray traces the syscalls of a command or process",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd := &cobra.Command{
		Use:   "run [flags] -- program [args...]",
		Short: "launch a command and trace its syscalls",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runMain,
	}
	runCmd.Flags().BoolVar(
		&flagNoASLR,
		"no-aslr",
		false,
		"disable address space layout randomization in the tracee")
	runCmd.Flags().BoolVar(
		&flagInteractive,
		"interactive",
		false,
		"step through events at a prompt")

	attachCmd := &cobra.Command{
		Use:   "attach <pid>",
		Short: "attach to a running process and trace its syscalls",
		Args:  cobra.ExactArgs(1),
		RunE:  attachMain,
	}

	for _, cmd := range []*cobra.Command{runCmd, attachCmd} {
		cmd.Flags().StringVar(
			&flagTrace,
			"trace",
			"",
			"comma separated syscall names or numbers to report")
		cmd.Flags().IntVar(
			&flagMaxString,
			"max-string",
			0,
			"cap on remote string reads (0 uses the default)")
		cmd.Flags().BoolVar(
			&flagKillOnExit,
			"kill-on-exit",
			false,
			"kill the tracee if the tracer dies without detaching")
		cmd.Flags().BoolVarP(
			&flagVerbose,
			"verbose",
			"v",
			false,
			"debug logging")
		cmd.Flags().BoolVarP(
			&flagKillOnStop,
			"kill",
			"k",
			false,
			"kill the tracee on interrupt instead of detaching")
	}

	rootCmd.AddCommand(runCmd, attachCmd)

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "stray:", err)
		os.Exit(1)
	}
}

func buildConfig() (tracer.Config, error) {
	config := tracer.Config{
		DisableASLR:      flagNoASLR,
		KillTraceeOnExit: flagKillOnExit,
		MaxStringLen:     flagMaxString,
		Stdin:            os.Stdin,
		Stdout:           os.Stdout,
		Stderr:           os.Stderr,
	}

	if flagKillOnStop {
		config.OnCancel = tracer.CancelKill
	}

	if flagVerbose {
		logger := logrus.New()
		logger.SetOutput(os.Stderr)
		logger.SetLevel(logrus.DebugLevel)
		config.Logger = logger
	}

	if flagTrace != "" {
		filter := tracer.NewFilter()

		var numbers []int
		for _, chunk := range strings.Split(flagTrace, ",") {
			chunk = strings.TrimSpace(chunk)
			if chunk == "" {
				continue
			}

			if descriptor, ok := syscalls.ByName(chunk); ok {
				numbers = append(numbers, descriptor.Number)
				continue
			}

			number, err := strconv.Atoi(chunk)
			if err != nil {
				return tracer.Config{}, fmt.Errorf(
					"unknown syscall %q in --trace",
					chunk)
			}
			numbers = append(numbers, number)
		}

		filter.ReportOnly(numbers)
		config.Filter = filter
	}

	return config, nil
}

func runMain(cmd *cobra.Command, args []string) error {
	config, err := buildConfig()
	if err != nil {
		return err
	}

	session, err := tracer.Launch(config, args[0], args[1:]...)
	if err != nil {
		return err
	}
	defer session.Close()

	if flagInteractive {
		return stepLoop(session)
	}

	return trace(session)
}

func attachMain(cmd *cobra.Command, args []string) error {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid pid %q", args[0])
	}

	config, err := buildConfig()
	if err != nil {
		return err
	}

	session, err := tracer.Attach(config, pid)
	if err != nil {
		return err
	}
	defer session.Close()

	status, err := procfs.GetProcessStatus(session.Pid)
	if err == nil {
		fmt.Fprintf(
			os.Stderr,
			"stray: attached to %d (%s)\n",
			status.Pid,
			status.Comm)
	}

	return trace(session)
}

func trace(session *tracer.Session) error {
	// ^C detaches (or kills with -k) instead of tearing the tracer down
	// mid-stop; a second ^C terminates the tracer the usual way.
	ctx, stop := osSignal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	printer := newPrinter(os.Stdout)
	defer printer.flush()

	err := session.Run(ctx, printer)
	if err == context.Canceled {
		return nil
	}
	return err
}
