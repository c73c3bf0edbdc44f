// Copyright 2025 The Osmium Authors.
//
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

// Binary vmtool brings up a machine from a YAML description and lets
// you inspect the resulting kernel address space.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"osmium.dev/osmium/pkg/machine"
)

var debug = flag.Bool("debug", false, "enable debug logging")

// bringUp loads the machine description the subcommand was given and
// brings it up. It exits on failure; subcommands have nothing to clean
// up at that point.
func bringUp(path string) *machine.Machine {
	cfg, err := machine.LoadConfig(path)
	if err != nil {
		logrus.Fatalf("loading machine config: %v", err)
	}
	m, err := machine.BringUp(cfg)
	if err != nil {
		logrus.Fatalf("bringing up machine: %v", err)
	}
	return m
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(Sections), "")
	subcommands.Register(new(Translate), "")
	subcommands.Register(new(Dump), "")

	flag.Parse()
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}

	os.Exit(int(subcommands.Execute(context.Background())))
}
