package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	waitTimeout time.Duration

	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcStore.Set(args[0], []byte(args[1])); err != nil {
				return err
			}
			fmt.Println("set successfully")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key, waiting until it is set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), waitTimeout)
			defer cancel()
			value, err := rpcStore.Get(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, value=%s\n", args[0], value)
			return nil
		},
	}
	addCmd = &cobra.Command{
		Use:   "add [key] [delta]",
		Short: "Adds delta to the integer stored under key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("delta must be a number: %w", err)
			}
			value, err := rpcStore.Add(args[0], delta)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, value=%d\n", args[0], value)
			return nil
		},
	}
	casCmd = &cobra.Command{
		Use:   "cas [key] [expected] [desired]",
		Short: "Sets key to desired if its value equals expected (empty expected matches a missing key)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := rpcStore.CompareSet(args[0], []byte(args[1]), []byte(args[2]))
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, swapped=%v, value=%s\n", args[0], string(value) == args[2], value)
			return nil
		},
	}
	checkCmd = &cobra.Command{
		Use:   "check [key...]",
		Short: "Checks if all keys exist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := rpcStore.Check(args...)
			if err != nil {
				return err
			}
			fmt.Printf("keys=%s, found=%t\n", strings.Join(args, ","), ok)
			return nil
		},
	}
	waitCmd = &cobra.Command{
		Use:   "wait [key...]",
		Short: "Waits until all keys exist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), waitTimeout)
			defer cancel()
			if err := rpcStore.Wait(ctx, args...); err != nil {
				return err
			}
			fmt.Printf("keys=%s, found=true\n", strings.Join(args, ","))
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deleted, err := rpcStore.Delete(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, deleted=%t\n", args[0], deleted)
			return nil
		},
	}
	numKeysCmd = &cobra.Command{
		Use:   "numkeys",
		Short: "Prints the number of keys in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := rpcStore.NumKeys()
			if err != nil {
				return err
			}
			fmt.Printf("keys=%d\n", n)
			return nil
		},
	}
)

func init() {
	for _, cmd := range []*cobra.Command{getCmd, waitCmd} {
		cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 30*time.Second, "How long to wait for the keys")
	}
}
