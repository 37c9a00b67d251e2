// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/packetd/xcproxy/common"
	"github.com/packetd/xcproxy/confengine"
	"github.com/packetd/xcproxy/controller"
	"github.com/packetd/xcproxy/internal/sigs"
	"github.com/packetd/xcproxy/logger"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Accept plaintext application connections and dial the peer node",
	Run: func(cmd *cobra.Command, args []string) {
		runProxy(controller.ModeListen)
	},
	Example: "# xcproxy listen --config xcproxy.yaml",
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Accept encoded peer connections and dial the local application",
	Run: func(cmd *cobra.Command, args []string) {
		runProxy(controller.ModeConnect)
	},
	Example: "# xcproxy connect --config xcproxy.yaml",
}

var configPath string

func init() {
	for _, c := range []*cobra.Command{listenCmd, connectCmd} {
		c.Flags().StringVar(&configPath, "config", "xcproxy.yaml", "Configuration file path")
		rootCmd.AddCommand(c)
	}
}

func runProxy(mode controller.Mode) {
	cfg, err := confengine.LoadConfigPath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctr, err := controller.New(cfg, mode, common.GetBuildInfo())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create controller: %v\n", err)
		os.Exit(1)
	}
	if err := ctr.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start controller: %v\n", err)
		os.Exit(1)
	}

	var reloadTotal int
	for {
		select {
		case <-sigs.Terminate():
			ctr.Stop()
			return

		case <-sigs.Reload():
			reloadTotal++

			cfg, err := confengine.LoadConfigPath(configPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to load config (count=%d): %v\n", reloadTotal, err)
				continue
			}

			start := time.Now()
			if err := ctr.Reload(cfg); err != nil {
				logger.Errorf("failed to reload config: %v", err)
			}
			logger.Infof("reload (count=%d) take %s", reloadTotal, time.Since(start))
		}
	}
}
