// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command timeslicemerger is the CLI entrypoint: it loads the run
// configuration, wires a Driver, runs it to completion or to a clean
// source-exhaustion halt, and maps any error to the exit code its
// taxonomy category mandates (spec.md §7).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/simonge/edm4hep-timeslice/internal/config"
	"github.com/simonge/edm4hep-timeslice/internal/driver"
	"github.com/simonge/edm4hep-timeslice/internal/log"
	"github.com/simonge/edm4hep-timeslice/internal/xerrors"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	cfg, err := config.Load(argv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "timeslicemerger:", err)
		return xerrors.ExitCode(err)
	}

	if err := log.Init(log.Config{Level: "info", Format: "console"}); err != nil {
		fmt.Fprintln(os.Stderr, "timeslicemerger: initialising logger:", err)
		return 1
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := driver.New(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "timeslicemerger:", err)
		return xerrors.ExitCode(err)
	}

	produced, runErr := d.Run(ctx)
	fmt.Println(d.Summary(produced))

	if closeErr := d.Close(); closeErr != nil && runErr == nil {
		runErr = closeErr
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, "timeslicemerger:", runErr)
		return xerrors.ExitCode(runErr)
	}
	return 0
}
