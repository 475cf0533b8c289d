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

import "syscall"

/*
#include <stdint.h>

#ifdef __cplusplus
#include <csignal>
#else
#include <signal.h>
#endif

void rewind_ignore_signal(int sigNum);

void rewind_ignore_signal(int sigNum) {
    struct sigaction sa;
    sa.sa_handler = SIG_DFL;
    sigemptyset(&sa.sa_mask);
    sa.sa_flags |= SA_ONSTACK;
    sigaction(sigNum, &sa, NULL);
}
*/
import "C"

// ignoreSignal resets sigNum's handler to SIG_DFL. The Go runtime's
// preemption signal (SIGURG) otherwise interrupts some CoreAudio/
// CoreMedia driver callbacks mid-syscall, the same interaction
// darwin.go's IgnoreSignum works around.
func ignoreSignal(sigNum syscall.Signal) {
	C.rewind_ignore_signal(C.int(sigNum))
}

// SuppressPreemptionSignal must be called once at startup before any
// audio/video capture thread is spawned.
func SuppressPreemptionSignal() {
	ignoreSignal(syscall.SIGURG)
}
