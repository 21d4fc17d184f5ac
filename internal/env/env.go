package env

import (
	"github.com/thatsimonsguy/fence-controller/internal/config"
)

var Cfg *config.Config
