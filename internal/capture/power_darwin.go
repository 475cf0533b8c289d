/* SPDX-License-Identifier: GPL-3.0-or-later
 *
 * QAnotherRTSP
 * Copyright (C) 2025 e1z0 <e1z0@icloud.com>
 *
 * This file is part of QAnotherRTSP.
 *
 * QAnotherRTSP is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * QAnotherRTSP is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with QAnotherRTSP.  If not, see <https://www.gnu.org/licenses/>.
 */

//go:build darwin
// +build darwin

package capture

import (
	"context"
	"log"

	"github.com/prashantgupta24/mac-sleep-notifier/notifier"
)

// darwinPowerEvents adapts mac-sleep-notifier to the PowerEvents
// capability, the same source darwin.go's HandleSleep reads from.
type darwinPowerEvents struct{}

// NewPowerEvents returns the platform's PowerEvents implementation.
func NewPowerEvents() PowerEvents { return darwinPowerEvents{} }

func (darwinPowerEvents) Start(ctx context.Context) (<-chan PowerEvent, error) {
	src := notifier.GetInstance().Start()
	out := make(chan PowerEvent, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case activity, ok := <-src:
				if !ok {
					return
				}
				switch activity.Type {
				case notifier.Awake:
					log.Printf("capture: machine awake")
					select {
					case out <- Wake:
					case <-ctx.Done():
						return
					}
				case notifier.Sleep:
					log.Printf("capture: machine sleeping")
					select {
					case out <- Sleep:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}
