// Package all imports every built-in driver so a blank import wires the
// whole registry.
package all

import (
	_ "github.com/capport/capport/task/file"
	_ "github.com/capport/capport/task/http"
	_ "github.com/capport/capport/task/mongodb"
	_ "github.com/capport/capport/task/mysql"
	_ "github.com/capport/capport/task/noop"
	_ "github.com/capport/capport/task/postgres"
)
