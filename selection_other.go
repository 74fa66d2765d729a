//go:build !(freebsd || linux || netbsd || openbsd || solaris || dragonfly)

package main

func supportsSelection() bool { return false }

func writeSelection(string) error { return nil }
