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

package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"osmium.dev/osmium/pkg/memtypes"
)

// Translate implements subcommands.Command for the "translate" command.
type Translate struct{}

// Name implements subcommands.Command.Name.
func (*Translate) Name() string {
	return "translate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Translate) Synopsis() string {
	return "resolve virtual addresses through the kernel address space"
}

// Usage implements subcommands.Command.Usage.
func (*Translate) Usage() string {
	return "translate <machine.yaml> <vaddr>...\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Translate) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Translate) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() < 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	m := bringUp(f.Arg(0))
	defer m.Shutdown()

	status := subcommands.ExitSuccess
	for _, arg := range f.Args()[1:] {
		raw, err := strconv.ParseUint(arg, 0, 64)
		if err != nil {
			logrus.Errorf("bad address %q: %v", arg, err)
			status = subcommands.ExitFailure
			continue
		}
		vaddr, ok := memtypes.NewVirtualAddress(raw)
		if !ok {
			fmt.Printf("%#018x  non-canonical\n", raw)
			status = subcommands.ExitFailure
			continue
		}
		paddr, flags, ok := m.Translate(vaddr)
		if !ok {
			fmt.Printf("%#018x  unmapped\n", raw)
			status = subcommands.ExitFailure
			continue
		}
		fmt.Printf("%#018x  -> %#010x  %s\n", raw, paddr.Value(), flags.String())
	}
	return status
}
