// Package logx provides a small structured logging facade over zerolog.
//
// It exists so the rest of the codebase logs through one stable API while
// the active sinks (console, file) and the level can be swapped at runtime
// via Service.Apply.
package logx
