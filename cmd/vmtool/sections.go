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
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
)

// Sections implements subcommands.Command for the "sections" command.
type Sections struct{}

// Name implements subcommands.Command.Name.
func (*Sections) Name() string {
	return "sections"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Sections) Synopsis() string {
	return "list the kernel sections mapped at bring-up"
}

// Usage implements subcommands.Command.Usage.
func (*Sections) Usage() string {
	return "sections <machine.yaml>\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Sections) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Sections) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	m := bringUp(f.Arg(0))
	defer m.Shutdown()

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPAGES\tSIZE\tFLAGS")
	for _, s := range m.Sections {
		r := s.Mapped.Range()
		fmt.Fprintf(w, "%s\t%s\t%#x\t%s\n", s.Name, r.String(), r.SizeInBytes(), s.Mapped.Flags().String())
	}
	w.Flush()
	return subcommands.ExitSuccess
}
