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

package pagetables

import "errors"

var (
	// ErrOutOfMemory indicates frame-allocator exhaustion while creating
	// an intermediate table.
	ErrOutOfMemory = errors.New("pagetables: out of memory")

	// ErrAlreadyMapped indicates an attempt to map onto a present entry
	// without remap intent.
	ErrAlreadyMapped = errors.New("pagetables: already mapped")

	// ErrInvalidAddress indicates an address outside the relevant owned
	// range, or one that is not mapped where a mapping is required.
	ErrInvalidAddress = errors.New("pagetables: invalid address")

	// ErrHugePageUnsupported indicates an attempt to navigate through a
	// huge-page leaf as if it were a table.
	ErrHugePageUnsupported = errors.New("pagetables: huge page unsupported")

	// ErrNoTemporaryPage indicates that probing for a free temporary
	// page slot exhausted the reserved region.
	ErrNoTemporaryPage = errors.New("pagetables: no temporary page available")
)
