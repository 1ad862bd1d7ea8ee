//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Queue groups targets that operate on the local download queue.
type Queue mg.Namespace

// Status builds the CLI and prints queue counts and items.
func (Queue) Status() error {
	mg.Deps(Build)
	return sh.RunV(binPath, "status")
}

// Recover builds the CLI and returns crashed in-progress items to pending.
func (Queue) Recover() error {
	mg.Deps(Build)
	return sh.RunV(binPath, "recover")
}

// Run builds the CLI and drains the queue.
func (Queue) Run() error {
	mg.Deps(Build, Init)
	return sh.RunV(binPath, "run")
}
