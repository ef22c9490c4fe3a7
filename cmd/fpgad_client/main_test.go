// Copyright 2026 Intel Corporation. All Rights Reserved.
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
	"testing"

	"github.com/intel/fpgad/internal/events"
)

func TestParseEventType(t *testing.T) {
	tcases := []struct {
		input       string
		expected    events.EventType
		expectedErr bool
	}{
		{input: "interrupt", expected: events.Interrupt},
		{input: "error", expected: events.Error},
		{input: "power-thermal", expected: events.PowerThermal},
		{input: "thermal", expectedErr: true},
	}

	for _, tc := range tcases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := parseEventType(tc.input)
			if tc.expectedErr != (err != nil) {
				t.Fatalf("unexpected error state: %v", err)
			}

			if got != tc.expected {
				t.Errorf("expected %s, got %s", tc.expected, got)
			}
		})
	}
}
