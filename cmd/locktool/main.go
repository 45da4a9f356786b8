// Copyright 2023 The acquirecloud Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command locktool is a small demonstration consumer of the dynalock
// client: it exercises acquire/release/retrieve against a BuntDB-backed
// store from the command line.
package main

import (
	stdcontext "context"
	"fmt"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/acquirecloud/dynalock"
	"github.com/acquirecloud/dynalock/golibs/config"
	dynctx "github.com/acquirecloud/dynalock/golibs/context"
	"github.com/acquirecloud/dynalock/kv/buntdb"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type clientFactory func() (*dynalock.Client, *buntdb.Gateway, error)

// toolConfig is the file/env-loadable shape of this command's settings, fed
// through golibs/config.Enricher the same way the teacher's own cmd
// packages load their server configuration.
type toolConfig struct {
	DBFilePath      string        `json:"dbFilePath"`
	AcquireTimeout  time.Duration `json:"acquireTimeout"`
	RetryPeriod     time.Duration `json:"retryPeriod"`
	LockDuration    time.Duration `json:"lockDuration"`
	HeartbeatPeriod time.Duration `json:"heartbeatPeriod"`
}

// loadConfig builds toolConfig from (in increasing precedence order) its
// zero value, an optional YAML/JSON file, and DYNALOCK_-prefixed
// environment variables.
func loadConfig(configFile string) (toolConfig, error) {
	e := config.NewEnricher(toolConfig{})
	if err := e.LoadFromFile(configFile); err != nil {
		return toolConfig{}, fmt.Errorf("could not load config file %s: %w", configFile, err)
	}
	if err := e.ApplyEnvVariables("DYNALOCK", "_"); err != nil {
		return toolConfig{}, fmt.Errorf("could not apply environment variables: %w", err)
	}
	return e.Value(), nil
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "locktool",
		Short: "locktool exercises the dynalock client against a BuntDB-backed store",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML or JSON config file (optional)")

	newClient := clientFactory(func() (*dynalock.Client, *buntdb.Gateway, error) {
		cfg, err := loadConfig(configFile)
		if err != nil {
			return nil, nil, err
		}
		gw, err := buntdb.Open(buntdb.Config{DBFilePath: cfg.DBFilePath})
		if err != nil {
			return nil, nil, err
		}
		policy := dynalock.Policy{
			AcquireTimeout:  cfg.AcquireTimeout,
			RetryPeriod:     cfg.RetryPeriod,
			LockDuration:    cfg.LockDuration,
			HeartbeatPeriod: cfg.HeartbeatPeriod,
		}
		return dynalock.NewClient(gw, policy, dynalock.Schema{}), gw, nil
	})

	root.AddCommand(acquireCmd(newClient), releaseCmd(newClient), retrieveCmd(newClient))
	return root
}

func acquireCmd(newClient clientFactory) *cobra.Command {
	var noWait bool
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "acquire <name>",
		Short: "acquire a named lock and print the resulting record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, gw, err := newClient()
			if err != nil {
				return err
			}
			defer gw.Close()

			ctx := dynctx.NewSignalsContext(os.Interrupt)
			if timeout > 0 {
				var cancel stdcontext.CancelFunc
				ctx, cancel = stdcontext.WithTimeout(ctx, timeout)
				defer cancel()
			}

			var opts []dynalock.AcquireOption
			if noWait {
				opts = append(opts, dynalock.WithNoWait())
			}
			lock := c.Acquire(ctx, args[0], opts...)
			if lock == nil {
				return fmt.Errorf("could not acquire %q", args[0])
			}
			spew.Dump(lock)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "fail immediately instead of retrying")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall time budget for the command")
	return cmd
}

func releaseCmd(newClient clientFactory) *cobra.Command {
	var del bool
	cmd := &cobra.Command{
		Use:   "release <name>",
		Short: "acquire then immediately release a lock, to demonstrate the release API shape",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, gw, err := newClient()
			if err != nil {
				return err
			}
			defer gw.Close()
			lock := c.Acquire(cmd.Context(), args[0])
			if lock == nil {
				return fmt.Errorf("could not acquire %q to demonstrate release", args[0])
			}
			ok := c.Release(cmd.Context(), lock, &del)
			fmt.Println("released:", ok)
			return nil
		},
	}
	cmd.Flags().BoolVar(&del, "delete", true, "delete the row instead of leaving a tombstone")
	return cmd
}

func retrieveCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "retrieve <name>",
		Short: "print the current view of a lock, or report that it does not exist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, gw, err := newClient()
			if err != nil {
				return err
			}
			defer gw.Close()
			lock := c.Retrieve(cmd.Context(), args[0])
			if lock == nil {
				fmt.Println("no lock named", args[0])
				return nil
			}
			spew.Dump(lock)
			return nil
		},
	}
}
