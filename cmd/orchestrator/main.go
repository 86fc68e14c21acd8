// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command orchestrator wires the session engine, checkpoint store, model
// router, and agent runtime into a single local process and drives one
// feature request through them end to end.
//
// Usage:
//
//	orchestrator -config config.yaml -project p1 -feature f1 -task "Build login"
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/demiarch/orchestrator/pkg/logger"
)

func main() {
	var (
		cfgPath     = flag.String("config", "config.yaml", "path to config file")
		projectID   = flag.String("project", "", "project id")
		featureID   = flag.String("feature", "", "feature id")
		task        = flag.String("task", "", "natural-language feature request")
		metricsAddr = flag.String("metrics-addr", "", "address to serve /metrics on (empty disables)")
		logLevel    = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	log := logger.Init(*logLevel)

	app, err := bootstrap(*cfgPath)
	if err != nil {
		log.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn("shutdown cleanup failed", "error", err)
		}
	}()

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", app.Metrics.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Warn("metrics server stopped", "error", err)
			}
		}()
		log.Info("metrics endpoint listening", "addr", *metricsAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	if err := app.StartMaintenance(ctx); err != nil {
		log.Error("failed to start maintenance jobs", "error", err)
		os.Exit(1)
	}

	if *task == "" {
		info, found, err := app.Sessions.Recover(ctx)
		if err != nil {
			log.Error("session recovery failed", "error", err)
			os.Exit(1)
		}
		if found {
			fmt.Println(info.Summary())
		} else {
			fmt.Println("no session recovery needed")
		}
		return
	}

	if *projectID == "" || *featureID == "" {
		fmt.Fprintln(os.Stderr, "-project and -feature are required with -task")
		os.Exit(2)
	}

	result, err := runFeature(ctx, app, *projectID, *featureID, *task)
	if err != nil {
		log.Error("feature run failed", "error", err, "success", result.Success)
		os.Exit(1)
	}

	fmt.Printf("feature run complete: success=%t tokens=%d artifacts=%d\n",
		result.Success, result.TotalTokens(), len(result.Artifacts))
}
