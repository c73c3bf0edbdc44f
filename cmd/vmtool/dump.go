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

	"osmium.dev/osmium/pkg/memtypes"
	"osmium.dev/osmium/pkg/pagetables"
)

// Dump implements subcommands.Command for the "dump" command.
type Dump struct {
	tables bool
}

// Name implements subcommands.Command.Name.
func (*Dump) Name() string {
	return "dump"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Dump) Synopsis() string {
	return "walk the kernel page table and print every mapping"
}

// Usage implements subcommands.Command.Usage.
func (*Dump) Usage() string {
	return "dump [-tables] <machine.yaml>\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Dump) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&d.tables, "tables", false, "also print intermediate table frames")
}

// Execute implements subcommands.Command.Execute.
func (d *Dump) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	m := bringUp(f.Arg(0))
	defer m.Shutdown()

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "root frame %d\n", m.Kernel.RootFrame().Number())
	fmt.Fprintln(w, "VADDR\tPADDR\tSIZE\tFLAGS")
	if err := d.dumpTable(w, m.Kernel.Mapper().RootTable(), 0); err != nil {
		w.Flush()
		fmt.Fprintf(os.Stderr, "walking page table: %v\n", err)
		return subcommands.ExitFailure
	}
	w.Flush()
	return subcommands.ExitSuccess
}

// dumpTable prints every valid leaf below tbl. prefix accumulates the
// index path, nine bits per level walked so far.
func (d *Dump) dumpTable(w *tabwriter.Writer, tbl *pagetables.Table, prefix uint64) error {
	for i := 0; i < pagetables.EntriesPerTable; i++ {
		if tbl.Level() == pagetables.P4 && i == pagetables.RecursiveIndex {
			continue
		}
		flags, err := tbl.Entry(i).Flags()
		if err != nil {
			return err
		}
		if !flags.IsValid() {
			continue
		}
		path := prefix<<9 | uint64(i)
		if tbl.Level() == pagetables.P1 || flags.IsHuge() {
			frame, _, err := tbl.Entry(i).PointedFrame()
			if err != nil {
				return err
			}
			// A leaf above P1 maps a whole lower-level region.
			pages := uint64(1) << (9 * uint(tbl.Level()-pagetables.P1))
			vaddr := memtypes.CanonicalVirtualAddress(path << (12 + 9*uint(tbl.Level()-pagetables.P1)))
			fmt.Fprintf(w, "%#018x\t%#010x\t%#x\t%s\n",
				vaddr.Value(), frame.StartAddress().Value(), pages*memtypes.PageSize, flags.String())
			continue
		}
		next, err := tbl.NextTable(i)
		if err != nil || next == nil {
			return err
		}
		if d.tables {
			fmt.Fprintf(w, "table L%d[%d]\tframe %d\t\t\n", next.Level(), i, next.Frame().Number())
		}
		if err := d.dumpTable(w, next, path); err != nil {
			return err
		}
	}
	return nil
}
