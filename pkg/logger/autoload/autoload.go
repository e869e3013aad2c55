// Package autoload configures the global logger from the environment as
// a side effect of import.
package autoload

import (
	configx "github.com/caretaker-labs/caretaker/pkg/config"
	logx "github.com/caretaker-labs/caretaker/pkg/logger"
)

func init() {
	logx.Init(*configx.MustNew[logx.Config]("LOG"))
}
