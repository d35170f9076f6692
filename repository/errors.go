// Copyright 2025 Poiesic Systems
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


package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration indicates a repository was used before being wired
	// with a required collaborator. It is never worth retrying.
	ErrConfiguration = errors.New("repository misconfigured")

	// ErrNoFactoryConfigured indicates NewItem or FindByID was called on a
	// repository without a factory.
	ErrNoFactoryConfigured = fmt.Errorf("%w: no factory configured", ErrConfiguration)

	// ErrNoDelegateConfigured indicates an operation needing storage was
	// called on a repository without a delegate.
	ErrNoDelegateConfigured = fmt.Errorf("%w: no storage delegate configured", ErrConfiguration)

	// ErrEmptyType indicates a repository was created without a type.
	ErrEmptyType = fmt.Errorf("%w: type cannot be empty", ErrConfiguration)

	// ErrPrimaryKeyNotSet indicates Update or Delete was called on a record
	// whose primary key field is not set.
	ErrPrimaryKeyNotSet = errors.New("primary key not set")

	// ErrNotUpdated indicates the delegate reported that an update matched
	// nothing. Only returned by repositories created WithStrictUpdates.
	ErrNotUpdated = errors.New("record not updated")
)
