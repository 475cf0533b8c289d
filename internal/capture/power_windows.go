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

//go:build windows
// +build windows

package capture

import (
	"context"
	"log"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// windowsPowerEvents watches WM_POWERBROADCAST on a hidden message-only
// window, the same technique windows.go's powerMsgLoop uses for the
// teacher's per-camera resume hook.
type windowsPowerEvents struct{}

// NewPowerEvents returns the platform's PowerEvents implementation.
func NewPowerEvents() PowerEvents { return windowsPowerEvents{} }

var (
	user32               = windows.NewLazySystemDLL("user32.dll")
	kernel32             = windows.NewLazySystemDLL("kernel32.dll")
	procRegisterClassExW = user32.NewProc("RegisterClassExW")
	procCreateWindowExW  = user32.NewProc("CreateWindowExW")
	procDefWindowProcW   = user32.NewProc("DefWindowProcW")
	procGetMessageW      = user32.NewProc("GetMessageW")
	procTranslateMessage = user32.NewProc("TranslateMessage")
	procDispatchMessageW = user32.NewProc("DispatchMessageW")
	procGetModuleHandleW = kernel32.NewProc("GetModuleHandleW")
	hwndMessage          = windows.Handle(^uintptr(2))
)

const (
	wmPowerBroadcast      = 0x0218
	pbtAPMSuspend         = 0x0004
	pbtAPMResumeAutomatic = 0x0012
	pbtAPMResumeSuspend   = 0x0007

	csVRedraw uint32 = 0x0001
	csHRedraw uint32 = 0x0002
)

type wndClassEx struct {
	Size       uint32
	Style      uint32
	WndProc    uintptr
	ClsExtra   int32
	WndExtra   int32
	Instance   windows.Handle
	Icon       windows.Handle
	Cursor     windows.Handle
	Background windows.Handle
	MenuName   *uint16
	ClassName  *uint16
	IconSm     windows.Handle
}

type winMsg struct {
	Hwnd    windows.Handle
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	Pt      struct{ X, Y int32 }
}

var powerWatcherOnce sync.Once

func (windowsPowerEvents) Start(ctx context.Context) (<-chan PowerEvent, error) {
	out := make(chan PowerEvent, 1)
	powerWatcherOnce.Do(func() {
		go powerMsgLoop(ctx, out)
	})
	return out, nil
}

func powerMsgLoop(ctx context.Context, out chan<- PowerEvent) {
	defer close(out)

	className, _ := windows.UTF16PtrFromString("rewind.PowerSink")
	hInstance := getModuleHandle()

	wc := wndClassEx{
		Size:      uint32(unsafe.Sizeof(wndClassEx{})),
		Style:     csHRedraw | csVRedraw,
		Instance:  hInstance,
		ClassName: className,
		WndProc: windows.NewCallback(func(hwnd windows.Handle, m uint32, wparam, lparam uintptr) uintptr {
			if m == wmPowerBroadcast {
				switch wparam {
				case pbtAPMSuspend:
					trySend(ctx, out, Sleep)
					return 1
				case pbtAPMResumeAutomatic, pbtAPMResumeSuspend:
					trySend(ctx, out, Wake)
					return 1
				}
			}
			ret, _, _ := procDefWindowProcW.Call(uintptr(hwnd), uintptr(m), wparam, lparam)
			return ret
		}),
	}

	if r, _, err := procRegisterClassExW.Call(uintptr(unsafe.Pointer(&wc))); r == 0 {
		log.Printf("capture: power watcher RegisterClassEx failed: %v", err)
		return
	}

	hwnd, _, err := procCreateWindowExW.Call(
		0,
		uintptr(unsafe.Pointer(className)),
		0, 0,
		0, 0, 0, 0,
		uintptr(hwndMessage), 0, uintptr(hInstance), 0,
	)
	if hwnd == 0 {
		log.Printf("capture: power watcher CreateWindowEx failed: %v", err)
		return
	}

	var m winMsg
	for {
		r, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		switch int32(r) {
		case -1:
			log.Printf("capture: power watcher GetMessageW error")
			return
		case 0:
			return // WM_QUIT
		default:
			procTranslateMessage.Call(uintptr(unsafe.Pointer(&m)))
			procDispatchMessageW.Call(uintptr(unsafe.Pointer(&m)))
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func trySend(ctx context.Context, out chan<- PowerEvent, ev PowerEvent) {
	select {
	case out <- ev:
	case <-ctx.Done():
	default:
	}
}

// getModuleHandle retrieves the current module's HINSTANCE without
// relying on windows.GetModuleHandle, which older x/sys releases
// (pinned here at v0.7.0, matching the teacher) don't export.
func getModuleHandle() windows.Handle {
	r, _, _ := procGetModuleHandleW.Call(0)
	return windows.Handle(r)
}
