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


package core

import "errors"

var (
	// ErrEmptyFieldName indicates a field name was empty.
	ErrEmptyFieldName = errors.New("field name cannot be empty")

	// ErrEmptyPrimaryKey indicates the primary key field name was empty.
	ErrEmptyPrimaryKey = errors.New("primary key field cannot be empty")
)
