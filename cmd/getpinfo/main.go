// Command getpinfo is the user-space tool for the pseudo-kernel. It
// registers tasks and drives the getpinfo channel from the shell.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/picokernel/kernel/internal/client"
	"github.com/picokernel/kernel/internal/getpinfo"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "getpinfo",
		Short:         "Query the picokernel getpinfo channel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("server", "http://localhost:8000", "picokernel base URL")
	root.PersistentFlags().String("channel", "getpinfo/getpinfo_call", "channel file path")
	viper.SetEnvPrefix("picokernel")
	cobra.CheckErr(viper.BindPFlag("server", root.PersistentFlags().Lookup("server")))
	cobra.CheckErr(viper.BindPFlag("channel", root.PersistentFlags().Lookup("channel")))
	viper.AutomaticEnv()

	root.AddCommand(newRegisterCmd())
	root.AddCommand(newCallCmd())
	root.AddCommand(newSubmitCmd())
	root.AddCommand(newFetchCmd())
	root.AddCommand(newTasksCmd())
	root.AddCommand(newExitCmd())
	return root
}

func api() *client.Client {
	return client.New(viper.GetString("server"))
}

func channelPath() string {
	return viper.GetString("channel")
}

// identityArgs parses the "pid gen" pair every channel command needs.
func identityArgs(args []string) (uint32, string, error) {
	pid, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return 0, "", fmt.Errorf("invalid pid %q", args[0])
	}
	return uint32(pid), args[1], nil
}

func newRegisterCmd() *cobra.Command {
	var parentPID uint32
	cmd := &cobra.Command{
		Use:   "register <command>",
		Short: "Register a task and print its identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tk, err := api().Register(cmd.Context(), args[0], parentPID)
			if err != nil {
				return err
			}
			fmt.Printf("%d %s\n", tk.PID, tk.Gen)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&parentPID, "parent", 0, "parent PID (0 parents to init)")
	return cmd
}

func newCallCmd() *cobra.Command {
	var verb string
	cmd := &cobra.Command{
		Use:   "call <pid> <gen>",
		Short: "Submit a verb and print the response",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, gen, err := identityArgs(args)
			if err != nil {
				return err
			}
			report, err := api().Call(cmd.Context(), channelPath(), client.Identity(pid, gen), verb)
			if err != nil {
				return err
			}
			fmt.Print(report)
			return nil
		},
	}
	cmd.Flags().StringVar(&verb, "verb", getpinfo.VerbGetPinfo, "verb to submit")
	return cmd
}

func newSubmitCmd() *cobra.Command {
	var verb string
	cmd := &cobra.Command{
		Use:   "submit <pid> <gen>",
		Short: "Write a verb to the channel without reading the response",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, gen, err := identityArgs(args)
			if err != nil {
				return err
			}
			n, err := api().Submit(cmd.Context(), channelPath(), client.Identity(pid, gen), verb)
			if err != nil {
				return err
			}
			fmt.Printf("wrote %d bytes\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&verb, "verb", getpinfo.VerbGetPinfo, "verb to submit")
	return cmd
}

func newFetchCmd() *cobra.Command {
	var capacity int
	cmd := &cobra.Command{
		Use:   "fetch <pid> <gen>",
		Short: "Read the queued response for a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, gen, err := identityArgs(args)
			if err != nil {
				return err
			}
			payload, err := api().Fetch(cmd.Context(), channelPath(), client.Identity(pid, gen), capacity)
			if err != nil {
				return err
			}
			if len(payload) == 0 {
				fmt.Println("no response queued for this task")
				return nil
			}
			fmt.Print(strings.TrimRight(string(payload), "\x00"))
			return nil
		},
	}
	cmd.Flags().IntVar(&capacity, "capacity", getpinfo.MaxResp, "read buffer capacity")
	return cmd
}

func newTasksCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List live tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := api().Tasks(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(tasks)
			}
			for _, tk := range tasks {
				fmt.Printf("%5d  pri=%d  state=%d  %s\n", tk.PID, tk.Priority, tk.State, tk.Command)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print tasks as JSON")
	return cmd
}

func newExitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exit <pid>",
		Short: "Remove a task from the table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid pid %q", args[0])
			}
			return api().Exit(cmd.Context(), uint32(pid))
		},
	}
}
