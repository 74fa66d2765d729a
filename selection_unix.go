//go:build freebsd || linux || netbsd || openbsd || solaris || dragonfly

package main

import "github.com/atotto/clipboard"

func supportsSelection() bool { return true }

func writeSelection(text string) error {
	clipboard.Primary = true
	defer func() { clipboard.Primary = false }()
	return clipboard.WriteAll(text)
}
