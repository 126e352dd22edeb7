// Package main hosts the walkwatcher CLI entrypoint and command graph.
//
// The root command runs a watch target once, or perpetually with --loop, and
// scaffolds new config files with --new-config. The inspect and unlock
// subcommands read and repair the persisted state without starting a watcher.
//
// Keep this package lean: behavior belongs in the internal packages and is
// surfaced here through flags and small renderers.
package main
